package datum

import (
	"sync"

	"github.com/dagflow/engine/internal/fingerprint"
	"github.com/dagflow/engine/internal/ids"
)

// Handle is the surface both a single Datum and a DatumList present to a
// Task: enough to drive lifecycle operations without the caller caring
// whether it is talking to one data item or a homogeneous list of them.
type Handle interface {
	State() State
	VerifyAvailable(update bool) bool
	VerifyQuickhash(update bool) bool
	Clear() error
	Sync()
	Quickhash() (uint64, bool)
	Parents() []ids.TaskID
}

var (
	_ Handle = (*Datum)(nil)
	_ Handle = (*DatumList)(nil)
)

// DatumList aggregates an ordered sequence of homogeneous Datums,
// forwarding lifecycle operations elementwise. It is AVAILABLE iff every
// element is AVAILABLE; its quickhash is the combined hash of the ordered
// element fingerprints; its parents are the concatenation of element
// parents.
type DatumList struct {
	mu        sync.Mutex
	elems     []*Datum
	quickhash *uint64
}

// NewDatumList wraps an ordered sequence of same-variant Datums.
func NewDatumList(elems ...*Datum) *DatumList {
	return &DatumList{elems: elems}
}

// Elems returns the underlying element Datums in order.
func (l *DatumList) Elems() []*Datum {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Datum, len(l.elems))
	copy(out, l.elems)
	return out
}

// State derives the list's aggregate state: AVAILABLE iff every element is
// AVAILABLE, EMPTY if the list is empty or any element is EMPTY, otherwise
// POPULATED.
func (l *DatumList) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.elems) == 0 {
		return Empty
	}
	allAvailable := true
	anyEmpty := false
	for _, e := range l.elems {
		switch e.State() {
		case Available:
		case Empty:
			anyEmpty = true
			allAvailable = false
		default:
			allAvailable = false
		}
	}
	switch {
	case allAvailable:
		return Available
	case anyEmpty:
		return Empty
	default:
		return Populated
	}
}

// VerifyAvailable fans out to every element; the list is available iff all
// elements are. If update is true and every element verified, the list's
// quickhash is recomputed.
func (l *DatumList) VerifyAvailable(update bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok := true
	for _, e := range l.elems {
		if !e.VerifyAvailable(update) {
			ok = false
		}
	}
	if ok && update {
		qh := l.computeQuickhashLocked()
		l.quickhash = &qh
	}
	return ok
}

// Clear clears every element, returning the first error encountered (all
// elements are still attempted).
func (l *DatumList) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, e := range l.elems {
		if err := e.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.quickhash = nil
	return firstErr
}

// Sync fans out Sync to every element, then recomputes the aggregate
// quickhash if the list is now fully AVAILABLE.
func (l *DatumList) Sync() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.elems {
		e.Sync()
	}
	allAvailable := len(l.elems) > 0
	for _, e := range l.elems {
		if e.State() != Available {
			allAvailable = false
			break
		}
	}
	if allAvailable {
		qh := l.computeQuickhashLocked()
		l.quickhash = &qh
	} else {
		l.quickhash = nil
	}
}

// VerifyQuickhash recomputes the aggregate fingerprint from the elements'
// current fingerprints and compares it to the stored one.
func (l *DatumList) VerifyQuickhash(update bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	newHash := l.computeQuickhashLocked()
	match := l.quickhash != nil && *l.quickhash == newHash
	if !match && update {
		l.quickhash = &newHash
	}
	return match
}

// Quickhash returns the stored aggregate fingerprint, if any.
func (l *DatumList) Quickhash() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quickhash == nil {
		return 0, false
	}
	return *l.quickhash, true
}

// Parents concatenates every element's parents.
func (l *DatumList) Parents() []ids.TaskID {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ids.TaskID
	for _, e := range l.elems {
		out = append(out, e.Parents()...)
	}
	return out
}

func (l *DatumList) computeQuickhashLocked() uint64 {
	parts := make([]uint64, len(l.elems))
	for i, e := range l.elems {
		qh, _ := e.Quickhash()
		parts[i] = qh
	}
	return fingerprint.Combine(parts...)
}
