package probe

import (
	"errors"
	"fmt"

	"classprobe/internal/bytecode"
)

// MaxLocals is the largest max_locals a Code attribute can declare.
const MaxLocals = 65535

// ErrSlotAllocation matches every SlotAllocationError.
var ErrSlotAllocation = errors.New("probe: local variable slots exhausted")

// SlotAllocationError reports a method with no room for probe locals.
type SlotAllocationError struct {
	Method string
	Need   int // max_locals the allocation would require
}

func (e *SlotAllocationError) Error() string {
	return fmt.Sprintf("probe: %s needs max_locals %d, limit %d", e.Method, e.Need, MaxLocals)
}

func (e *SlotAllocationError) Is(target error) bool { return target == ErrSlotAllocation }

// LocalSlot is a local variable allocated for probe code. A wide kind
// occupies Index and Index+1.
type LocalSlot struct {
	Index int               `json:"index"`
	Kind  bytecode.SlotKind `json:"kind"`
}

// Words returns the number of slots covered.
func (s LocalSlot) Words() int { return s.Kind.Words() }

// Allocator hands out fresh slots at or beyond a method's original
// max_locals. Slots are never reused.
type Allocator struct {
	method string
	next   int
	slots  []LocalSlot
}

// NewAllocator starts allocating at first, normally the method's max_locals.
func NewAllocator(method string, first int) *Allocator {
	return &Allocator{method: method, next: first}
}

// New allocates a slot of the given kind.
func (a *Allocator) New(kind bytecode.SlotKind) (LocalSlot, error) {
	need := a.next + kind.Words()
	if need > MaxLocals {
		return LocalSlot{}, &SlotAllocationError{Method: a.method, Need: need}
	}
	s := LocalSlot{Index: a.next, Kind: kind}
	a.next = need
	a.slots = append(a.slots, s)
	return s, nil
}

// MaxLocals returns the max_locals covering every allocated slot.
func (a *Allocator) MaxLocals() int { return a.next }

// Slots returns the allocated slots in allocation order.
func (a *Allocator) Slots() []LocalSlot { return a.slots }
