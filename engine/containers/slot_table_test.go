package containers

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotTableDefineGrowsByBlock(t *testing.T) {
	tbl := NewSlotTable[string](16, 256)

	require.NoError(t, tbl.Define(3, "three"))
	assert.Equal(t, 16, tbl.Len())

	require.NoError(t, tbl.Define(16, "sixteen"))
	assert.Equal(t, 32, tbl.Len())
	assert.Equal(t, 2, tbl.Live())

	v, err := tbl.Lookup(16)
	require.NoError(t, err)
	assert.Equal(t, "sixteen", v)
}

func TestSlotTableLookupAfterFree(t *testing.T) {
	tbl := NewSlotTable[int](16, 256)
	require.NoError(t, tbl.Define(5, 42))
	require.NoError(t, tbl.Free(5))

	_, err := tbl.Lookup(5)
	assert.True(t, errors.Is(err, core.ErrInvalidID))

	_, err = tbl.Lookup(1000)
	assert.True(t, errors.Is(err, core.ErrInvalidID))

	assert.True(t, errors.Is(tbl.Free(5), core.ErrInvalidID))
}

func TestSlotTableRejectsOutOfRange(t *testing.T) {
	tbl := NewSlotTable[int](16, 32)
	assert.True(t, errors.Is(tbl.Define(32, 1), core.ErrInvalidID))
	assert.True(t, errors.Is(tbl.Define(core.InvalidID, 1), core.ErrInvalidID))
}

func TestSlotTableAllocateReusesFreeSlot(t *testing.T) {
	tbl := NewSlotTable[int](4, 8)
	for i := 0; i < 4; i++ {
		id, err := tbl.Allocate(i)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), id)
	}
	require.NoError(t, tbl.Free(1))

	id, err := tbl.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	id, err = tbl.Allocate(200)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), id)
	assert.Equal(t, 8, tbl.Len())
}

func TestSlotTableAllocateFull(t *testing.T) {
	tbl := NewSlotTable[int](4, 4)
	for i := 0; i < 4; i++ {
		_, err := tbl.Allocate(i)
		require.NoError(t, err)
	}
	_, err := tbl.Allocate(5)
	assert.True(t, errors.Is(err, core.ErrInvalidID))
}

func TestSlotTableValuesSurviveGrowth(t *testing.T) {
	type payload struct{ n int }
	tbl := NewSlotTable[*payload](2, 1024)
	p := &payload{n: 7}
	require.NoError(t, tbl.Define(0, p))
	require.NoError(t, tbl.Define(900, &payload{n: 9}))

	got, err := tbl.Lookup(0)
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestSlotTableEachInOrderAllowsFree(t *testing.T) {
	tbl := NewSlotTable[int](16, 64)
	for _, id := range []uint32{9, 2, 40} {
		require.NoError(t, tbl.Define(id, int(id)))
	}

	var seen []uint32
	tbl.Each(func(id uint32, _ int) bool {
		seen = append(seen, id)
		_ = tbl.Free(id)
		return true
	})
	assert.Equal(t, []uint32{2, 9, 40}, seen)
	assert.Equal(t, 0, tbl.Live())
	assert.Empty(t, tbl.IDs())
}
