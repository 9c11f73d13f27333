package containers

import (
	"fmt"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

type slot[T any] struct {
	id    uint32
	value T
}

// SlotTable maps dense guest ids to values. Slots are allocated one by one so
// growing the table never moves a stored value; callers keep ids, not pointers
// into the backing array.
type SlotTable[T any] struct {
	slots []*slot[T]
	block uint32
	max   uint32
	live  int
}

/**
 * @brief Creates a table that grows in multiples of block slots.
 * @param block The growth granularity. Must be at least 1.
 * @param max Ids greater or equal to max are rejected.
 */
func NewSlotTable[T any](block, max uint32) *SlotTable[T] {
	if block == 0 {
		block = 1
	}
	return &SlotTable[T]{
		block: block,
		max:   max,
	}
}

func (t *SlotTable[T]) grow(n uint32) {
	for uint32(len(t.slots)) < n {
		t.slots = append(t.slots, &slot[T]{id: core.InvalidID})
	}
}

// Define places value at a caller chosen id. An already live id is replaced.
func (t *SlotTable[T]) Define(id uint32, value T) error {
	if id == core.InvalidID || id >= t.max {
		return fmt.Errorf("slot table define: id %d out of range (max=%d): %w", id, t.max, core.ErrInvalidID)
	}
	if id >= uint32(len(t.slots)) {
		t.grow(core.AlignUp(id+1, t.block))
	}
	s := t.slots[id]
	if s.id == core.InvalidID {
		t.live++
	}
	s.id = id
	s.value = value
	return nil
}

// Allocate takes the first free slot, growing by one block when none is free.
func (t *SlotTable[T]) Allocate(value T) (uint32, error) {
	for i, s := range t.slots {
		if s.id == core.InvalidID {
			s.id = uint32(i)
			s.value = value
			t.live++
			return uint32(i), nil
		}
	}
	id := uint32(len(t.slots))
	if id >= t.max {
		return core.InvalidID, fmt.Errorf("slot table allocate: table is full (max=%d): %w", t.max, core.ErrInvalidID)
	}
	t.grow(id + t.block)
	if uint32(len(t.slots)) > t.max {
		t.slots = t.slots[:t.max]
	}
	s := t.slots[id]
	s.id = id
	s.value = value
	t.live++
	return id, nil
}

func (t *SlotTable[T]) Lookup(id uint32) (T, error) {
	var zero T
	if id >= uint32(len(t.slots)) {
		return zero, fmt.Errorf("slot table lookup: id %d out of range (len=%d): %w", id, len(t.slots), core.ErrInvalidID)
	}
	s := t.slots[id]
	if s.id != id {
		return zero, fmt.Errorf("slot table lookup: id %d not defined: %w", id, core.ErrInvalidID)
	}
	return s.value, nil
}

func (t *SlotTable[T]) Contains(id uint32) bool {
	return id < uint32(len(t.slots)) && t.slots[id].id == id
}

func (t *SlotTable[T]) Free(id uint32) error {
	if !t.Contains(id) {
		return fmt.Errorf("slot table free: id %d not defined: %w", id, core.ErrInvalidID)
	}
	var zero T
	t.slots[id].id = core.InvalidID
	t.slots[id].value = zero
	t.live--
	return nil
}

// Each visits live slots in ascending id order and stops when fn returns false.
// fn may free the visited id.
func (t *SlotTable[T]) Each(fn func(id uint32, value T) bool) {
	for i := 0; i < len(t.slots); i++ {
		s := t.slots[i]
		if s.id == core.InvalidID {
			continue
		}
		if !fn(s.id, s.value) {
			return
		}
	}
}

// IDs returns the live ids in ascending order.
func (t *SlotTable[T]) IDs() []uint32 {
	ids := make([]uint32, 0, t.live)
	t.Each(func(id uint32, _ T) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Len is the size of the backing array, live or not.
func (t *SlotTable[T]) Len() int {
	return len(t.slots)
}

func (t *SlotTable[T]) Live() int {
	return t.live
}
