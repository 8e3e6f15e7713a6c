package fat32

import (
	"fmt"

	bitmap "github.com/boljen/go-bitmap"

	vfs "github.com/RSKELT0N/VFS"
)

// allocator owns the in-memory FAT and a bitmap mirroring it: a set bit means
// the slot is anything other than UNALLOCATED. First-fit scans and free-count
// checks run on the bitmap so they never reinterpret sentinel values.
type allocator struct {
	fat   []uint32
	inUse bitmap.Bitmap
}

// newAllocator returns an allocator for a fresh FAT with every slot free.
func newAllocator(clusterCount uint32) *allocator {
	return &allocator{
		fat:   make([]uint32, clusterCount),
		inUse: bitmap.New(int(clusterCount)),
	}
}

// allocatorFromFAT wraps a FAT loaded from disk, deriving the bitmap.
func allocatorFromFAT(fat []uint32) *allocator {
	alloc := &allocator{
		fat:   fat,
		inUse: bitmap.New(len(fat)),
	}
	for i, value := range fat {
		alloc.inUse.Set(i, value != ClusterUnallocated)
	}
	return alloc
}

func (alloc *allocator) clusterCount() uint32 {
	return uint32(len(alloc.fat))
}

// get returns the FAT value of a slot.
func (alloc *allocator) get(cluster uint32) (uint32, error) {
	if cluster >= alloc.clusterCount() {
		return 0, vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"cluster %d not in range [0, %d)", cluster, alloc.clusterCount()))
	}
	return alloc.fat[cluster], nil
}

// set stores a FAT value and keeps the bitmap in sync.
func (alloc *allocator) set(cluster, value uint32) {
	alloc.fat[cluster] = value
	alloc.inUse.Set(int(cluster), value != ClusterUnallocated)
}

// free returns a slot to the unallocated pool.
func (alloc *allocator) free(cluster uint32) {
	alloc.set(cluster, ClusterUnallocated)
}

// attainCluster claims the first free slot and returns its index. The slot is
// marked with the transient ALLOCATED sentinel; the caller must overwrite it
// with a chain link or EOF within the same logical operation.
func (alloc *allocator) attainCluster() (uint32, error) {
	for i := uint32(0); i < alloc.clusterCount(); i++ {
		if !alloc.inUse.Get(int(i)) {
			alloc.set(i, ClusterAllocated)
			return i, nil
		}
	}
	return 0, vfs.ErrNoSpace
}

// attainClusterAt claims a specific free slot. Directory re-layout uses this
// to keep a directory's first cluster stable across serializations.
func (alloc *allocator) attainClusterAt(cluster uint32) error {
	if cluster >= alloc.clusterCount() {
		return vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"cluster %d not in range [0, %d)", cluster, alloc.clusterCount()))
	}
	if alloc.inUse.Get(int(cluster)) {
		return vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
			"cluster %d is already in use", cluster))
	}
	alloc.set(cluster, ClusterAllocated)
	return nil
}

// hasFree reports whether at least req slots are free, scanning no further
// than it must.
func (alloc *allocator) hasFree(req uint32) bool {
	found := uint32(0)
	for i := uint32(0); i < alloc.clusterCount() && found < req; i++ {
		if !alloc.inUse.Get(int(i)) {
			found++
		}
	}
	return found >= req
}

// freeCount returns the number of unallocated slots.
func (alloc *allocator) freeCount() uint32 {
	count := uint32(0)
	for i := uint32(0); i < alloc.clusterCount(); i++ {
		if !alloc.inUse.Get(int(i)) {
			count++
		}
	}
	return count
}

// chain follows FAT links from start, collecting every cluster index up to
// and including the one holding EOF. A BAD, UNALLOCATED or still-ALLOCATED
// slot mid-chain, or a walk longer than the table, is a corrupt chain.
func (alloc *allocator) chain(start uint32) ([]uint32, error) {
	if start >= alloc.clusterCount() {
		return nil, vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
			"start cluster %d not in range [0, %d)", start, alloc.clusterCount()))
	}

	clusters := make([]uint32, 0, 1)
	current := start
	for {
		value := alloc.fat[current]
		switch value {
		case ClusterUnallocated, ClusterAllocated, ClusterBad:
			return nil, vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
				"cluster %d holds sentinel 0x%08x before EOF", current, value))
		}

		clusters = append(clusters, current)
		if value == ClusterEOF {
			return clusters, nil
		}

		if value >= alloc.clusterCount() || uint32(len(clusters)) > alloc.clusterCount() {
			return nil, vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
				"chain from cluster %d does not terminate", start))
		}
		current = value
	}
}

// freeChain releases every cluster of the chain beginning at start.
func (alloc *allocator) freeChain(start uint32) error {
	clusters, err := alloc.chain(start)
	if err != nil {
		return err
	}
	for _, cluster := range clusters {
		alloc.free(cluster)
	}
	return nil
}

// reclaimInFlight frees any slot still holding the transient ALLOCATED
// sentinel and returns the reclaimed indices. Such slots can only exist if a
// previous process died between claiming a cluster and linking it.
func (alloc *allocator) reclaimInFlight() []uint32 {
	var reclaimed []uint32
	for i := uint32(0); i < alloc.clusterCount(); i++ {
		if alloc.fat[i] == ClusterAllocated {
			alloc.free(i)
			reclaimed = append(reclaimed, i)
		}
	}
	return reclaimed
}
