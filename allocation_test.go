package aerogpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocationResolveUsesCurrentResidency(t *testing.T) {
	tbl := newAllocationTable()

	a := tbl.Create(0x2000, 0, 0, 0xBEEF)
	require.NoError(t, tbl.UpdateResidency(a.ID, 0x400000))

	out, err := tbl.Resolve([]AllocationRef{{ID: a.ID}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, a.ID, out[0].Handle)
	assert.Equal(t, uint64(0x400000), out[0].GPA)
	assert.Equal(t, uint32(0x2000), out[0].SizeBytes)

	require.NoError(t, tbl.UpdateResidency(a.ID, 0x500000))
	out, err = tbl.Resolve([]AllocationRef{{ID: a.ID}})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x500000), out[0].GPA)
}

func TestAllocationResolveRejectsOversize(t *testing.T) {
	tbl := newAllocationTable()

	// The descriptor entry carries a u32 size; a 5 GiB allocation must be
	// refused, not truncated.
	a := tbl.Create(5<<30, 0, 0, 0)
	require.NoError(t, tbl.UpdateResidency(a.ID, 0x400000))

	_, err := tbl.Resolve([]AllocationRef{{ID: a.ID}})
	require.ErrorIs(t, err, ErrAllocationTooLarge)
}
