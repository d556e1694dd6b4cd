package datum

import (
	"fmt"

	"github.com/dagflow/engine/internal/fingerprint"
	"github.com/dagflow/engine/internal/ids"
)

// memoryVariant backs a MemoryDatum: the pointer is an in-process value
// that, once populated, always "exists". Its fingerprint is derived from
// the value's string form, per the quickhash contract's cheap-fingerprint
// requirement.
type memoryVariant struct{}

func (memoryVariant) ValidateFormat(pointer any) bool {
	return true
}

func (memoryVariant) VerifyAvailable(pointer any) bool {
	return true
}

func (memoryVariant) Clear(pointer any) error {
	return nil
}

func (memoryVariant) Quickhash(pointer any) uint64 {
	return fingerprint.String(fmt.Sprintf("%v", pointer))
}

func (memoryVariant) Tag() Tag {
	return TagMemory
}

// NewMemoryDatum constructs an EMPTY MemoryDatum owned by parents.
func NewMemoryDatum(parents ...ids.TaskID) *Datum {
	return New(memoryVariant{}, parents...)
}
