// Package datum implements the Datum lifecycle: typed data handles that
// move EMPTY -> POPULATED -> AVAILABLE, carry a cheap "quickhash"
// fingerprint once AVAILABLE, and reconcile against their backing data via
// Sync.
package datum

import (
	"sync"

	"github.com/dagflow/engine/internal/ids"
)

// Variant is the contract a concrete Datum kind (MemoryDatum, FileDatum,
// ...) must satisfy. It operates purely on the current pointer value; all
// state-machine bookkeeping lives in Datum itself.
type Variant interface {
	// ValidateFormat reports whether pointer is well-formed for this
	// variant. Called on Populate.
	ValidateFormat(pointer any) bool
	// VerifyAvailable reports whether the backing data currently exists
	// (e.g. a file is present). Called by VerifyAvailable/Sync.
	VerifyAvailable(pointer any) bool
	// Clear releases any persistent backing (e.g. deletes a file). Must be
	// idempotent.
	Clear(pointer any) error
	// Quickhash computes the cheap fingerprint of the current pointer.
	Quickhash(pointer any) uint64
	// Tag identifies the variant for converter registry lookup.
	Tag() Tag
}

// Tag is a sealed discriminator identifying a Datum variant, used by the
// converter registry instead of runtime type introspection.
type Tag string

const (
	TagMemory Tag = "memory"
	TagFile   Tag = "file"
)

// Datum is a handle to one logical piece of data produced or consumed by a
// Task.
type Datum struct {
	mu sync.Mutex

	variant   Variant
	state     State
	pointer   any
	parents   []ids.TaskID
	quickhash *uint64
}

// New constructs an EMPTY Datum of the given variant, owned by the given
// producing Task(s) (usually exactly one).
func New(variant Variant, parents ...ids.TaskID) *Datum {
	return &Datum{variant: variant, state: Empty, parents: parents}
}

// Parents returns the Task IDs that produce this Datum.
func (d *Datum) Parents() []ids.TaskID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ids.TaskID, len(d.parents))
	copy(out, d.parents)
	return out
}

// State returns the current lifecycle state.
func (d *Datum) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pointer returns the current pointer value, or nil if EMPTY.
func (d *Datum) Pointer() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pointer
}

// Tag identifies this Datum's variant for converter registry lookup.
func (d *Datum) Tag() Tag {
	return d.variant.Tag()
}

// Quickhash returns the stored fingerprint, or (0, false) if none is set
// (state != AVAILABLE).
func (d *Datum) Quickhash() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.quickhash == nil {
		return 0, false
	}
	return *d.quickhash, true
}

// Populate sets the pointer and transitions to POPULATED after running
// format validation. On validation failure the Datum falls back to EMPTY
// and ErrInvalidFormat is returned.
func (d *Datum) Populate(pointer any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.populateLocked(pointer)
}

func (d *Datum) populateLocked(pointer any) error {
	if err := checkTransition(d.state, Populated); err != nil {
		return err
	}
	if !d.variant.ValidateFormat(pointer) {
		d.pointer = nil
		d.state = Empty
		d.quickhash = nil
		return invalidFormatErr()
	}
	d.pointer = pointer
	d.state = Populated
	d.quickhash = nil
	return nil
}

// VerifyAvailable reports whether the backing data currently exists. If it
// does and update is true, the Datum transitions to AVAILABLE and
// recomputes its quickhash. Always false when EMPTY.
func (d *Datum) VerifyAvailable(update bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verifyAvailableLocked(update)
}

func (d *Datum) verifyAvailableLocked(update bool) bool {
	if d.state == Empty {
		return false
	}
	if !d.variant.VerifyAvailable(d.pointer) {
		return false
	}
	if update {
		if err := checkTransition(d.state, Available); err == nil {
			d.state = Available
			qh := d.variant.Quickhash(d.pointer)
			d.quickhash = &qh
		}
	}
	return true
}

// Clear releases persistent backing (no-op if EMPTY) and transitions to
// POPULATED, nulling the stored quickhash.
func (d *Datum) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clearLocked()
}

func (d *Datum) clearLocked() error {
	if d.state == Empty {
		return nil
	}
	if err := d.variant.Clear(d.pointer); err != nil {
		return err
	}
	if err := checkTransition(d.state, Populated); err != nil {
		return err
	}
	d.state = Populated
	d.quickhash = nil
	return nil
}

// VerifyQuickhash recomputes the fingerprint and compares it to the stored
// value. If it differs and update is true, the stored value is replaced.
func (d *Datum) VerifyQuickhash(update bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.verifyQuickhashLocked(update)
}

func (d *Datum) verifyQuickhashLocked(update bool) bool {
	newHash := d.variant.Quickhash(d.pointer)
	match := d.quickhash != nil && *d.quickhash == newHash
	if !match && update {
		d.quickhash = &newHash
	}
	return match
}

// Sync reconciles state with the underlying data: invalid pointer format
// demotes to EMPTY; a failed existence check demotes to POPULATED; a
// fingerprint match promotes to/keeps AVAILABLE; a stale fingerprint
// clears the Datum back to POPULATED.
func (d *Datum) Sync() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Empty {
		return
	}
	if !d.variant.ValidateFormat(d.pointer) {
		d.pointer = nil
		d.state = Empty
		d.quickhash = nil
		return
	}
	if !d.variant.VerifyAvailable(d.pointer) {
		d.state = Populated
		d.quickhash = nil
		return
	}
	if d.verifyQuickhashLocked(false) {
		d.state = Available
		return
	}
	_ = d.clearLocked()
}
