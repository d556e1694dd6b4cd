package datum

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dagflow/engine/internal/errs"
)

func TestMemoryDatumLifecycle(t *testing.T) {
	d := NewMemoryDatum()
	if d.State() != Empty {
		t.Fatalf("new datum state = %s, want EMPTY", d.State())
	}
	if err := d.Populate(42); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if d.State() != Populated {
		t.Fatalf("state after populate = %s, want POPULATED", d.State())
	}
	if !d.VerifyAvailable(true) {
		t.Fatalf("verify available = false, want true")
	}
	if d.State() != Available {
		t.Fatalf("state after verify = %s, want AVAILABLE", d.State())
	}
	qh, ok := d.Quickhash()
	if !ok {
		t.Fatalf("quickhash not set after verify")
	}
	if qh == 0 {
		t.Fatalf("quickhash is zero")
	}
}

func TestDatumClearOnEmptyIsNoOp(t *testing.T) {
	d := NewMemoryDatum()
	if err := d.Clear(); err != nil {
		t.Fatalf("clear on empty should be no-op, got %v", err)
	}
	if d.State() != Empty {
		t.Fatalf("clear on empty changed state to %s", d.State())
	}
}

func TestFileDatumRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewFileDatum()
	if err := d.Populate(path); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if !d.VerifyAvailable(true) {
		t.Fatalf("expected file to be available")
	}
	if err := d.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed by clear")
	}
	if d.State() != Populated {
		t.Fatalf("state after clear = %s, want POPULATED", d.State())
	}
	if err := d.Populate(path); err != nil {
		t.Fatalf("re-populate: %v", err)
	}
	if d.Pointer() != path {
		t.Fatalf("pointer mismatch after round-trip")
	}
}

func TestFileDatumInvalidFormat(t *testing.T) {
	d := NewFileDatum()
	err := d.Populate("")
	if !errors.Is(err, errs.ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if d.State() != Empty {
		t.Fatalf("state after invalid populate = %s, want EMPTY", d.State())
	}
}

func TestDatumSyncStaleFileDemotes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewFileDatum()
	if err := d.Populate(path); err != nil {
		t.Fatal(err)
	}
	if !d.VerifyAvailable(true) {
		t.Fatal("expected available")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	d.Sync()
	if d.State() != Populated {
		t.Fatalf("state after file removed = %s, want POPULATED", d.State())
	}
}

func TestDatumListAggregateState(t *testing.T) {
	a := NewMemoryDatum()
	b := NewMemoryDatum()
	list := NewDatumList(a, b)
	if list.State() != Empty {
		t.Fatalf("empty list state = %s, want EMPTY", list.State())
	}
	_ = a.Populate(1)
	_ = b.Populate(2)
	if !list.VerifyAvailable(true) {
		t.Fatalf("expected list available")
	}
	if list.State() != Available {
		t.Fatalf("list state = %s, want AVAILABLE", list.State())
	}
	qh, ok := list.Quickhash()
	if !ok || qh == 0 {
		t.Fatalf("expected non-zero list quickhash")
	}
}

func TestSyncIdempotentOnQuiescentDatum(t *testing.T) {
	d := NewMemoryDatum()
	_ = d.Populate("x")
	d.VerifyAvailable(true)
	qh1, _ := d.Quickhash()
	d.Sync()
	d.Sync()
	qh2, _ := d.Quickhash()
	if qh1 != qh2 {
		t.Fatalf("quickhash changed across idempotent syncs: %d != %d", qh1, qh2)
	}
	if d.State() != Available {
		t.Fatalf("state drifted after idempotent sync: %s", d.State())
	}
}
