package fat32

import (
	"fmt"

	vfs "github.com/RSKELT0N/VFS"
)

// Directory is a fully deserialized directory: its header plus the ordered
// entry list. Entries 0 and 1 are always "." and "..".
type Directory struct {
	Header  DirHeader
	Entries []DirEntry
}

// newDirectory builds a fresh in-memory directory that has not been
// serialized yet. The "." entry's start cluster is filled in by storeDir once
// the directory's first cluster is known.
func newDirectory(name string, parentCluster uint32) (*Directory, error) {
	rawName, err := nameToBytes(name)
	if err != nil {
		return nil, err
	}

	dir := &Directory{
		Header: DirHeader{
			Name:          rawName,
			EntryCount:    2,
			StartCluster:  undefStartCluster,
			ParentCluster: parentCluster,
		},
	}

	self, _ := nameToBytes(".")
	parent, _ := nameToBytes("..")
	dir.Entries = []DirEntry{
		{Name: self, StartCluster: undefStartCluster, Size: 0, IsDirectory: 1},
		{Name: parent, StartCluster: parentCluster, Size: 0, IsDirectory: 1},
	}
	return dir, nil
}

// Name returns the directory's own name.
func (dir *Directory) Name() string {
	return bytesToName(dir.Header.Name)
}

// Find returns the entry with the given name, or nil.
func (dir *Directory) Find(name string) *DirEntry {
	for i := range dir.Entries {
		if dir.Entries[i].EntryName() == name {
			return &dir.Entries[i]
		}
	}
	return nil
}

// addEntry appends a record for a new child.
func (dir *Directory) addEntry(name string, startCluster, size uint32, isDirectory bool) error {
	rawName, err := nameToBytes(name)
	if err != nil {
		return err
	}

	entry := DirEntry{
		Name:         rawName,
		StartCluster: startCluster,
		Size:         size,
	}
	if isDirectory {
		entry.IsDirectory = 1
	}

	dir.Entries = append(dir.Entries, entry)
	dir.Header.EntryCount = uint32(len(dir.Entries))
	return nil
}

// removeEntry deletes the named record, preserving the order of the rest.
func (dir *Directory) removeEntry(name string) bool {
	for i := range dir.Entries {
		if dir.Entries[i].EntryName() == name {
			dir.Entries = append(dir.Entries[:i], dir.Entries[i+1:]...)
			dir.Header.EntryCount = uint32(len(dir.Entries))
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Serialization

// storeDir lays the directory out on disk: header and first batch of entries
// in the first cluster, the remainder spilling into further clusters chained
// through the FAT. A directory that has been serialized before keeps its
// first cluster, so references to it (the parent's entry, children's "..")
// stay valid across re-layouts.
//
// Data clusters are written before the FAT is persisted.
func (e *Engine) storeDir(dir *Directory) error {
	entriesInFirst := e.sb.EntriesInFirstCluster()
	perCluster := e.sb.EntriesPerCluster()
	entryCount := uint32(len(dir.Entries))
	dir.Header.EntryCount = entryCount

	if !e.alloc.hasFree(1) {
		return vfs.ErrNoSpace.WithMessage(
			fmt.Sprintf("directory %q needs at least one free cluster", dir.Name()))
	}

	var first uint32
	var err error
	if dir.Header.StartCluster != undefStartCluster {
		first = dir.Header.StartCluster
		if err = e.alloc.attainClusterAt(first); err != nil {
			return err
		}
	} else {
		if first, err = e.alloc.attainCluster(); err != nil {
			return err
		}
		dir.Header.StartCluster = first
	}

	// The "." entry points at the directory itself.
	if len(dir.Entries) > 0 && dir.Entries[0].EntryName() == "." {
		dir.Entries[0].StartCluster = first
	}

	claimed := []uint32{first}
	revert := func() {
		for _, cluster := range claimed {
			e.alloc.free(cluster)
		}
	}

	firstBatch := entryCount
	if firstBatch > entriesInFirst {
		firstBatch = entriesInFirst
	}

	buf := make([]byte, e.sb.ClusterSize)
	records := make([]interface{}, 0, firstBatch+1)
	records = append(records, &dir.Header)
	for i := uint32(0); i < firstBatch; i++ {
		records = append(records, &dir.Entries[i])
	}
	if err = pack(buf, records...); err != nil {
		revert()
		return err
	}
	if err = e.writeCluster(first, buf); err != nil {
		revert()
		return err
	}

	remaining := entryCount - firstBatch
	if remaining == 0 {
		e.alloc.set(first, ClusterEOF)
		return e.storeFAT()
	}

	additional := (remaining + perCluster - 1) / perCluster
	if !e.alloc.hasFree(additional) {
		revert()
		return vfs.ErrNoSpace.WithMessage(fmt.Sprintf(
			"directory %q needs %d more clusters", dir.Name(), additional))
	}

	clusters := make([]uint32, additional)
	for i := range clusters {
		if clusters[i], err = e.alloc.attainCluster(); err != nil {
			revert()
			return err
		}
		claimed = append(claimed, clusters[i])
	}

	written := firstBatch
	for _, cluster := range clusters {
		batch := remaining
		if batch > perCluster {
			batch = perCluster
		}

		buf = make([]byte, e.sb.ClusterSize)
		records = records[:0]
		for i := uint32(0); i < batch; i++ {
			records = append(records, &dir.Entries[written+i])
		}
		if err = pack(buf, records...); err != nil {
			revert()
			return err
		}
		if err = e.writeCluster(cluster, buf); err != nil {
			revert()
			return err
		}

		written += batch
		remaining -= batch
	}

	e.alloc.set(first, clusters[0])
	for i := 0; i < len(clusters)-1; i++ {
		e.alloc.set(clusters[i], clusters[i+1])
	}
	e.alloc.set(clusters[len(clusters)-1], ClusterEOF)

	return e.storeFAT()
}

// readDir deserializes the directory beginning at the given cluster, using
// the stored entry count to know when to stop.
func (e *Engine) readDir(startCluster uint32) (*Directory, error) {
	value, err := e.alloc.get(startCluster)
	if err != nil {
		return nil, err
	}
	if value == ClusterUnallocated {
		return nil, vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
			"directory cluster %d has not been allocated", startCluster))
	}

	chain, err := e.alloc.chain(startCluster)
	if err != nil {
		return nil, err
	}

	buf, err := e.readCluster(startCluster)
	if err != nil {
		return nil, err
	}

	dir := &Directory{}
	if err = unpack(buf[:DirHeaderSize], &dir.Header); err != nil {
		return nil, vfs.ErrCorruptChain.Wrap(err)
	}
	if dir.Header.StartCluster != startCluster {
		return nil, vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
			"directory at cluster %d records start cluster %d",
			startCluster, dir.Header.StartCluster))
	}

	entriesInFirst := e.sb.EntriesInFirstCluster()
	perCluster := e.sb.EntriesPerCluster()
	entryCount := dir.Header.EntryCount

	firstBatch := entryCount
	if firstBatch > entriesInFirst {
		firstBatch = entriesInFirst
	}
	remaining := entryCount - firstBatch

	expectedClusters := uint32(1)
	if remaining > 0 {
		expectedClusters += (remaining + perCluster - 1) / perCluster
	}
	if uint32(len(chain)) != expectedClusters {
		return nil, vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
			"directory %q spans %d clusters but its chain holds %d",
			bytesToName(dir.Header.Name), expectedClusters, len(chain)))
	}

	dir.Entries = make([]DirEntry, 0, entryCount)
	parseBatch := func(raw []byte, count uint32) error {
		for i := uint32(0); i < count; i++ {
			var entry DirEntry
			offset := i * DirEntrySize
			if err := unpack(raw[offset:offset+DirEntrySize], &entry); err != nil {
				return vfs.ErrCorruptChain.Wrap(err)
			}
			dir.Entries = append(dir.Entries, entry)
		}
		return nil
	}

	if err = parseBatch(buf[DirHeaderSize:], firstBatch); err != nil {
		return nil, err
	}

	for _, cluster := range chain[1:] {
		batch := remaining
		if batch > perCluster {
			batch = perCluster
		}

		if buf, err = e.readCluster(cluster); err != nil {
			return nil, err
		}
		if err = parseBatch(buf, batch); err != nil {
			return nil, err
		}
		remaining -= batch
	}

	return dir, nil
}

// freeDirClusters releases every cluster of the directory's current
// serialization so storeDir can lay it out from scratch.
func (e *Engine) freeDirClusters(dir *Directory) error {
	if dir.Header.StartCluster == undefStartCluster {
		return nil
	}
	return e.alloc.freeChain(dir.Header.StartCluster)
}

// relayout persists an in-memory mutation of dir: the previous serialization
// is freed and the directory written out again at the same first cluster.
func (e *Engine) relayout(dir *Directory) error {
	if err := e.freeDirClusters(dir); err != nil {
		return err
	}
	return e.storeDir(dir)
}
