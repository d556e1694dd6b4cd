package convert

import (
	"errors"
	"testing"

	"github.com/dagflow/engine/internal/datum"
	"github.com/dagflow/engine/internal/errs"
)

func TestBuiltinMemoryConverter(t *testing.T) {
	r := NewDefault()
	d := datum.NewMemoryDatum()
	_ = d.Populate(7)

	v, err := r.Convert(Object, d)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if v.(int) != 7 {
		t.Fatalf("converted value = %v, want 7", v)
	}
}

func TestBuiltinFileConverterFilepath(t *testing.T) {
	r := NewDefault()
	d := datum.NewFileDatum()
	_ = d.Populate("/tmp/in.csv")

	v, err := r.Convert(Filepath, d)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if v.(string) != "/tmp/in.csv" {
		t.Fatalf("converted value = %v, want /tmp/in.csv", v)
	}
}

func TestConvertNoConverter(t *testing.T) {
	r := NewRegistry()
	d := datum.NewMemoryDatum()
	_ = d.Populate(1)

	_, err := r.Convert(Filepath, d)
	if !errors.Is(err, errs.ErrNoConverter) {
		t.Fatalf("expected ErrNoConverter, got %v", err)
	}
}

func TestRegisterAncestryFallsBack(t *testing.T) {
	r := NewRegistry()
	const custom datum.Tag = "custom-memory"
	r.RegisterAncestry(custom, datum.TagMemory)
	r.Register(datum.TagMemory, Object, func(d *datum.Datum) (any, error) {
		return "fallback", nil
	})

	if !r.HasConverter(custom, Object) {
		t.Fatalf("expected ancestry fallback converter to resolve")
	}
}
