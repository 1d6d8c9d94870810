package aerogpu

import (
	"testing"

	"github.com/aerovirt/aerogpu/devsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocCopiesIntoGuestMemory(t *testing.T) {
	mem := devsim.NewMem(64 * 1024)
	a := newArena(mem, 0x1000, 256, 4)

	payload := []byte("fence me in")
	s, err := a.alloc(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(payload)), s.used)

	got := make([]byte, len(payload))
	require.NoError(t, mem.ReadAt(s.gpa, got))
	assert.Equal(t, payload, got)
}

func TestArenaExhaustionAndReuse(t *testing.T) {
	mem := devsim.NewMem(64 * 1024)
	a := newArena(mem, 0x1000, 256, 2)

	s1, err := a.alloc([]byte{1})
	require.NoError(t, err)
	_, err = a.alloc([]byte{2})
	require.NoError(t, err)

	_, err = a.alloc([]byte{3})
	require.ErrorIs(t, err, ErrArenaExhausted)

	require.NoError(t, s1.release())
	s3, err := a.alloc([]byte{3})
	require.NoError(t, err)
	assert.Equal(t, s1.index, s3.index, "released slot should be reused")
}

func TestArenaSlotReleaseIsExactlyOnce(t *testing.T) {
	mem := devsim.NewMem(64 * 1024)
	a := newArena(mem, 0x1000, 256, 2)

	s, err := a.alloc([]byte{1})
	require.NoError(t, err)
	require.NoError(t, s.release())
	require.ErrorIs(t, s.release(), ErrSlotReleased)
	assert.Equal(t, 2, a.freeSlots(), "double release must not grow the pool")
}

func TestArenaRejectsOversizeBuffer(t *testing.T) {
	mem := devsim.NewMem(64 * 1024)
	a := newArena(mem, 0x1000, 16, 2)

	_, err := a.alloc(make([]byte, 17))
	require.ErrorIs(t, err, ErrArenaOverflow)
	assert.Equal(t, 2, a.freeSlots())
}
