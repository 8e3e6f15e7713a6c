package fat32

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfs "github.com/RSKELT0N/VFS"
	"github.com/RSKELT0N/VFS/disks"
	vfstesting "github.com/RSKELT0N/VFS/testing"
)

// bulkDirectory builds an unserialized directory holding total entries,
// including the leading "." and "..".
func bulkDirectory(t *testing.T, total int) *Directory {
	require.GreaterOrEqual(t, total, 2)

	dir, err := newDirectory("bulk", rootCluster)
	require.NoError(t, err)
	for i := 0; i < total-2; i++ {
		require.NoError(t, dir.addEntry(fmt.Sprintf("e%d", i), uint32(i), 0, false))
	}
	return dir
}

func storeReadRoundTrip(t *testing.T, entryCount int, wantClusters int) {
	engine, _ := newTestEngine(t)

	dir := bulkDirectory(t, entryCount)
	require.NoError(t, engine.storeDir(dir))

	chain, err := engine.alloc.chain(dir.Header.StartCluster)
	require.NoError(t, err)
	assert.Len(t, chain, wantClusters, "serialization spans the wrong cluster count")

	decoded, err := engine.readDir(dir.Header.StartCluster)
	require.NoError(t, err)

	assert.Equal(t, dir.Header, decoded.Header)
	require.Equal(t, len(dir.Entries), len(decoded.Entries))
	assert.Equal(t, dir.Entries, decoded.Entries,
		"entries must read back in the order they were written")
	assert.Equal(t, ".", decoded.Entries[0].EntryName())
	assert.Equal(t, "..", decoded.Entries[1].EntryName())
}

func TestStoreReadRoundTripSmall(t *testing.T) {
	storeReadRoundTrip(t, 3, 1)
}

func TestStoreReadRoundTripExactlyFirstCluster(t *testing.T) {
	// 106 entries fit alongside the header in a single 2 KiB cluster.
	storeReadRoundTrip(t, 106, 1)
}

func TestStoreReadRoundTripSpillsOneEntry(t *testing.T) {
	storeReadRoundTrip(t, 107, 2)
}

func TestStoreReadRoundTripManyClusters(t *testing.T) {
	// 106 + 2*107 + 1 entries need the first cluster plus three more.
	storeReadRoundTrip(t, 106+2*107+1, 4)
}

func TestStoreDirNoSpaceLeavesFreeClusterFree(t *testing.T) {
	profile := disks.Profile{
		Name:             "four",
		Slug:             "four",
		TotalSizeBytes:   38 + 4*(4+2048),
		ClusterSizeBytes: 2048,
	}
	device := vfstesting.DeviceForProfile(t, profile)
	engine, err := NewFromDevice(device, "tiny", profile, false)
	require.NoError(t, err)

	// Root owns cluster 0. Occupy two more so exactly one stays free.
	for _, cluster := range []uint32{1, 2} {
		require.NoError(t, engine.alloc.attainClusterAt(cluster))
		engine.alloc.set(cluster, ClusterEOF)
	}
	require.EqualValues(t, 1, engine.alloc.freeCount())

	// 109 entries need two clusters; only one is free.
	dir := bulkDirectory(t, 109)
	err = engine.storeDir(dir)
	assert.ErrorIs(t, err, vfs.ErrNoSpace)

	assert.EqualValues(t, 1, engine.alloc.freeCount(),
		"the remaining free cluster must still be free after the failure")
}

func TestRelayoutKeepsStartCluster(t *testing.T) {
	engine, _ := newTestEngine(t)

	require.NoError(t, engine.Mkdir("stable"))
	entry := engine.current.Find("stable")
	require.NotNil(t, entry)
	start := entry.StartCluster

	require.NoError(t, engine.Cd("stable"))
	for i := 0; i < 150; i++ {
		require.NoError(t, engine.Mkdir(fmt.Sprintf("d%d", i)))
	}

	assert.EqualValues(t, start, engine.current.Header.StartCluster,
		"a re-laid-out directory must keep its first cluster")

	// The parent's entry still resolves to the same directory.
	require.NoError(t, engine.Cd(".."))
	entry = engine.current.Find("stable")
	require.NotNil(t, entry)
	assert.EqualValues(t, start, entry.StartCluster)
}

func TestDirectoryEntryOrderPreserved(t *testing.T) {
	engine, _ := newTestEngine(t)

	names := []string{"charlie", "alpha", "bravo"}
	for _, name := range names {
		require.NoError(t, engine.Touch(name))
	}

	decoded, err := engine.readDir(rootCluster)
	require.NoError(t, err)

	listed := make([]string, 0, len(decoded.Entries))
	for i := range decoded.Entries {
		listed = append(listed, decoded.Entries[i].EntryName())
	}
	assert.Equal(t, append([]string{".", ".."}, names...), listed)
}
