package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfs "github.com/RSKELT0N/VFS"
)

func TestAttainClusterFirstFit(t *testing.T) {
	alloc := newAllocator(4)

	first, err := alloc.attainCluster()
	require.NoError(t, err)
	assert.EqualValues(t, 0, first)

	second, err := alloc.attainCluster()
	require.NoError(t, err)
	assert.EqualValues(t, 1, second)

	// Freeing the lower slot makes it the next candidate again.
	alloc.free(first)
	third, err := alloc.attainCluster()
	require.NoError(t, err)
	assert.EqualValues(t, 0, third)
}

func TestAttainClusterExhaustion(t *testing.T) {
	alloc := newAllocator(2)

	_, err := alloc.attainCluster()
	require.NoError(t, err)
	_, err = alloc.attainCluster()
	require.NoError(t, err)

	_, err = alloc.attainCluster()
	assert.ErrorIs(t, err, vfs.ErrNoSpace)
}

func TestAttainClusterAt(t *testing.T) {
	alloc := newAllocator(4)

	require.NoError(t, alloc.attainClusterAt(2))
	assert.ErrorIs(t, alloc.attainClusterAt(2), vfs.ErrCorruptChain)
	assert.ErrorIs(t, alloc.attainClusterAt(9), vfs.ErrOutOfRange)
}

func TestHasFreeAndFreeCount(t *testing.T) {
	alloc := newAllocator(4)
	assert.True(t, alloc.hasFree(4))
	assert.False(t, alloc.hasFree(5))
	assert.EqualValues(t, 4, alloc.freeCount())

	_, err := alloc.attainCluster()
	require.NoError(t, err)
	assert.True(t, alloc.hasFree(3))
	assert.False(t, alloc.hasFree(4))
	assert.EqualValues(t, 3, alloc.freeCount())
}

func TestChainWalk(t *testing.T) {
	alloc := newAllocator(8)
	alloc.set(2, 5)
	alloc.set(5, 3)
	alloc.set(3, ClusterEOF)

	chain, err := alloc.chain(2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 5, 3}, chain)

	single, err := alloc.chain(3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, single)
}

func TestChainCorruption(t *testing.T) {
	alloc := newAllocator(8)

	// An unallocated start is already corrupt.
	_, err := alloc.chain(0)
	assert.ErrorIs(t, err, vfs.ErrCorruptChain)

	// A link into a BAD slot is corrupt.
	alloc.set(1, 4)
	alloc.set(4, ClusterBad)
	_, err = alloc.chain(1)
	assert.ErrorIs(t, err, vfs.ErrCorruptChain)

	// A cycle never reaches EOF and must be detected.
	alloc.set(6, 7)
	alloc.set(7, 6)
	_, err = alloc.chain(6)
	assert.ErrorIs(t, err, vfs.ErrCorruptChain)
}

func TestFreeChain(t *testing.T) {
	alloc := newAllocator(8)
	alloc.set(2, 3)
	alloc.set(3, ClusterEOF)

	require.NoError(t, alloc.freeChain(2))
	assert.EqualValues(t, ClusterUnallocated, alloc.fat[2])
	assert.EqualValues(t, ClusterUnallocated, alloc.fat[3])
	assert.EqualValues(t, 8, alloc.freeCount())
}

func TestAllocatorFromFATDerivesBitmap(t *testing.T) {
	fat := []uint32{ClusterEOF, ClusterUnallocated, 3, ClusterEOF}
	alloc := allocatorFromFAT(fat)

	assert.EqualValues(t, 1, alloc.freeCount())

	next, err := alloc.attainCluster()
	require.NoError(t, err)
	assert.EqualValues(t, 1, next)
}

func TestReclaimInFlight(t *testing.T) {
	fat := []uint32{ClusterEOF, ClusterAllocated, ClusterUnallocated, ClusterAllocated}
	alloc := allocatorFromFAT(fat)

	reclaimed := alloc.reclaimInFlight()
	assert.Equal(t, []uint32{1, 3}, reclaimed)
	assert.EqualValues(t, 3, alloc.freeCount())
	assert.Empty(t, alloc.reclaimInFlight(), "second pass has nothing to do")
}
