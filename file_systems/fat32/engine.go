package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	vfs "github.com/RSKELT0N/VFS"
	"github.com/RSKELT0N/VFS/disk"
	"github.com/RSKELT0N/VFS/disks"
)

// Engine is a FAT32-style file system bound to one disk image. It owns the
// authoritative in-memory copy of the FAT and a cursor to the fully
// deserialized current directory. Not safe for concurrent use.
type Engine struct {
	device disk.Device
	closer io.Closer

	sb      Superblock
	alloc   *allocator
	current *Directory

	// loadReport aggregates anything worth surfacing from mounting an
	// existing image, currently the reclaimed in-flight clusters.
	loadReport error
}

// Factory returns an EngineFactory creating engines with the given geometry
// profile for images that do not exist yet.
func Factory(profile disks.Profile) vfs.EngineFactory {
	return func(imagePath, diskName string) (vfs.FileSystem, error) {
		return New(imagePath, diskName, profile)
	}
}

// New opens the image at imagePath, building a fresh file system with the
// profile's geometry if the image does not exist yet.
func New(imagePath, diskName string, profile disks.Profile) (*Engine, error) {
	existing := disk.Exists(imagePath)

	device, err := disk.Open(imagePath)
	if err != nil {
		return nil, vfs.ErrIOFailed.Wrap(err)
	}

	engine, err := NewFromDevice(device, diskName, profile, existing)
	if err != nil {
		device.Close()
		return nil, err
	}
	engine.closer = device
	return engine, nil
}

// NewFromDevice builds an engine over an already-open device. When existing
// is true the device must hold a previously created image; otherwise it is
// formatted from scratch. Tests use this with in-memory devices.
func NewFromDevice(device disk.Device, diskName string, profile disks.Profile, existing bool) (*Engine, error) {
	engine := &Engine{device: device}

	var err error
	if existing {
		err = engine.load()
	} else {
		err = engine.setUp(diskName, profile)
	}
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// setUp formats the device: superblock from the profile, an all-free FAT,
// and a root directory whose "." and ".." both resolve to cluster 0.
func (e *Engine) setUp(diskName string, profile disks.Profile) error {
	sb, err := NewSuperblock(diskName, profile.TotalSizeBytes, profile.ClusterSizeBytes)
	if err != nil {
		return err
	}
	e.sb = sb
	e.alloc = newAllocator(sb.ClusterCount)

	if err = e.device.Truncate(sb.ImageSize()); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}

	root, err := newDirectory("root", rootCluster)
	if err != nil {
		return err
	}
	if err = e.storeDir(root); err != nil {
		return err
	}
	if root.Header.StartCluster != rootCluster {
		return vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
			"root directory landed on cluster %d", root.Header.StartCluster))
	}

	if err = e.storeSuperblock(); err != nil {
		return err
	}
	if err = e.device.Flush(); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}

	e.current = root
	return nil
}

// load reads the superblock, the FAT and the root directory of an existing
// image. Clusters left holding the transient ALLOCATED marker by a crashed
// writer are reclaimed here and reported through LoadReport.
func (e *Engine) load() error {
	raw := make([]byte, SuperblockSize)
	if err := e.readAt(0, raw); err != nil {
		return err
	}
	if err := unpack(raw, &e.sb); err != nil {
		return vfs.ErrCorruptChain.Wrap(err)
	}
	if e.sb.ClusterSize == 0 || e.sb.ClusterCount == 0 {
		return vfs.ErrCorruptChain.WithMessage("superblock describes no clusters")
	}

	fat := make([]uint32, e.sb.ClusterCount)
	if _, err := e.device.Seek(int64(e.sb.FATAddr), io.SeekStart); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	if err := binary.Read(e.device, defaultEncoding, fat); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	e.alloc = allocatorFromFAT(fat)

	if reclaimed := e.alloc.reclaimInFlight(); len(reclaimed) > 0 {
		var report *multierror.Error
		for _, cluster := range reclaimed {
			report = multierror.Append(report, fmt.Errorf(
				"cluster %d was claimed but never linked; reclaimed", cluster))
		}
		e.loadReport = report.ErrorOrNil()

		if err := e.storeFAT(); err != nil {
			return err
		}
		if err := e.device.Flush(); err != nil {
			return vfs.ErrIOFailed.Wrap(err)
		}
	}

	root, err := e.readDir(rootCluster)
	if err != nil {
		return err
	}
	e.current = root
	return nil
}

// LoadReport returns the aggregated mount-time warnings, or nil.
func (e *Engine) LoadReport() error {
	return e.loadReport
}

// Superblock returns a copy of the image geometry.
func (e *Engine) Superblock() Superblock {
	return e.sb
}

// FreeClusters returns the number of unallocated FAT slots.
func (e *Engine) FreeClusters() uint32 {
	return e.alloc.freeCount()
}

// CurrentDir returns a copy of the current directory.
func (e *Engine) CurrentDir() Directory {
	dir := Directory{Header: e.current.Header}
	dir.Entries = append(dir.Entries, e.current.Entries...)
	return dir
}

// -----------------------------------------------------------------------------
// Region I/O

func (e *Engine) readAt(offset int64, buf []byte) error {
	if _, err := e.device.Seek(offset, io.SeekStart); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	if _, err := io.ReadFull(e.device, buf); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (e *Engine) writeAt(offset int64, buf []byte) error {
	if _, err := e.device.Seek(offset, io.SeekStart); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	n, err := e.device.Write(buf)
	if err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	if n != len(buf) {
		return vfs.ErrIOFailed.WithMessage(fmt.Sprintf(
			"short write: %d of %d bytes", n, len(buf)))
	}
	return nil
}

func (e *Engine) readCluster(cluster uint32) ([]byte, error) {
	buf := make([]byte, e.sb.ClusterSize)
	if err := e.readAt(e.sb.ClusterAddr(cluster), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *Engine) writeCluster(cluster uint32, buf []byte) error {
	return e.writeAt(e.sb.ClusterAddr(cluster), buf)
}

// storeFAT persists the in-memory FAT. Callers must have written any data
// clusters the new table references first.
func (e *Engine) storeFAT() error {
	if _, err := e.device.Seek(int64(e.sb.FATAddr), io.SeekStart); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	if err := binary.Write(e.device, defaultEncoding, e.alloc.fat); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (e *Engine) storeSuperblock() error {
	buf := make([]byte, SuperblockSize)
	if err := pack(buf, &e.sb); err != nil {
		return err
	}
	return e.writeAt(int64(e.sb.SuperblockAddr), buf)
}

func (e *Engine) flush() error {
	if err := e.device.Flush(); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Files

// fileClusterCount gives how many clusters a file of the given size owns.
// Zero-byte files still own one EOF-terminated cluster.
func (e *Engine) fileClusterCount(size uint32) uint32 {
	count := size / e.sb.ClusterSize
	if size%e.sb.ClusterSize != 0 {
		count++
	}
	if count == 0 {
		count = 1
	}
	return count
}

// storeFile copies size bytes from r into freshly allocated clusters and
// chains them, returning the chain's start cluster. Data clusters are written
// before the FAT is persisted.
func (e *Engine) storeFile(r io.Reader, size uint32) (uint32, error) {
	clusterCount := e.fileClusterCount(size)
	if !e.alloc.hasFree(clusterCount) {
		return 0, vfs.ErrNoSpace.WithMessage(fmt.Sprintf(
			"%d clusters needed, %d free", clusterCount, e.alloc.freeCount()))
	}

	clusters := make([]uint32, clusterCount)
	revert := func(n int) {
		for i := 0; i < n; i++ {
			e.alloc.free(clusters[i])
		}
	}

	var err error
	for i := range clusters {
		if clusters[i], err = e.alloc.attainCluster(); err != nil {
			revert(i)
			return 0, err
		}
	}

	remaining := size
	for _, cluster := range clusters {
		chunk := remaining
		if chunk > e.sb.ClusterSize {
			chunk = e.sb.ClusterSize
		}
		if chunk == 0 {
			break
		}

		buf := make([]byte, chunk)
		if _, err = io.ReadFull(r, buf); err != nil {
			revert(len(clusters))
			return 0, vfs.ErrIOFailed.Wrap(err)
		}
		if err = e.writeCluster(cluster, buf); err != nil {
			revert(len(clusters))
			return 0, err
		}
		remaining -= chunk
	}

	for i := 0; i < len(clusters)-1; i++ {
		e.alloc.set(clusters[i], clusters[i+1])
	}
	e.alloc.set(clusters[len(clusters)-1], ClusterEOF)

	if err = e.storeFAT(); err != nil {
		return 0, err
	}
	return clusters[0], nil
}

// readFileEntry returns the bytes of the file described by entry, verifying
// that its chain length matches its recorded size.
func (e *Engine) readFileEntry(entry *DirEntry) ([]byte, error) {
	chain, err := e.alloc.chain(entry.StartCluster)
	if err != nil {
		return nil, err
	}

	expected := e.fileClusterCount(entry.Size)
	if uint32(len(chain)) != expected {
		return nil, vfs.ErrCorruptChain.WithMessage(fmt.Sprintf(
			"file %q of %d bytes should span %d clusters, chain holds %d",
			entry.EntryName(), entry.Size, expected, len(chain)))
	}

	data := make([]byte, entry.Size)
	read := uint32(0)
	for _, cluster := range chain {
		chunk := entry.Size - read
		if chunk > e.sb.ClusterSize {
			chunk = e.sb.ClusterSize
		}
		if chunk == 0 {
			break
		}
		if err = e.readAt(e.sb.ClusterAddr(cluster), data[read:read+chunk]); err != nil {
			return nil, err
		}
		read += chunk
	}
	return data, nil
}

// -----------------------------------------------------------------------------
// Path operations

func reservedName(name string) error {
	if name == "." || name == ".." {
		return vfs.ErrOutOfRange.WithMessage(fmt.Sprintf("%q is reserved", name))
	}
	return nil
}

// Mkdir creates an empty directory in the current directory.
func (e *Engine) Mkdir(name string) error {
	if err := reservedName(name); err != nil {
		return err
	}
	if _, err := nameToBytes(name); err != nil {
		return err
	}
	if e.current.Find(name) != nil {
		return vfs.ErrExists.WithMessage(name)
	}

	child, err := newDirectory(name, e.current.Header.StartCluster)
	if err != nil {
		return err
	}
	if err = e.storeDir(child); err != nil {
		return err
	}

	if err = e.current.addEntry(name, child.Header.StartCluster, 0, true); err != nil {
		return err
	}
	if err = e.relayout(e.current); err != nil {
		return err
	}
	return e.flush()
}

// Cd replaces the current-directory cursor. "." and ".." resolve through the
// directory's own entries.
func (e *Engine) Cd(name string) error {
	entry := e.current.Find(name)
	if entry == nil {
		return vfs.ErrNotFound.WithMessage(name)
	}
	if !entry.IsDir() {
		return vfs.ErrNotADirectory.WithMessage(name)
	}

	dir, err := e.readDir(entry.StartCluster)
	if err != nil {
		return err
	}
	e.current = dir
	return nil
}

// Touch creates a zero-byte file in the current directory.
func (e *Engine) Touch(name string) error {
	if err := reservedName(name); err != nil {
		return err
	}
	if _, err := nameToBytes(name); err != nil {
		return err
	}
	if e.current.Find(name) != nil {
		return vfs.ErrExists.WithMessage(name)
	}

	start, err := e.storeFile(bytes.NewReader(nil), 0)
	if err != nil {
		return err
	}
	if err = e.current.addEntry(name, start, 0, false); err != nil {
		return err
	}
	if err = e.relayout(e.current); err != nil {
		return err
	}
	return e.flush()
}

// Cat writes the named file's bytes to w.
func (e *Engine) Cat(name string, w io.Writer) error {
	entry := e.current.Find(name)
	if entry == nil {
		return vfs.ErrNotFound.WithMessage(name)
	}
	if entry.IsDir() {
		return vfs.ErrNotAFile.WithMessage(name)
	}

	data, err := e.readFileEntry(entry)
	if err != nil {
		return err
	}
	if _, err = w.Write(data); err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Rm removes the named entry. Directories must be empty unless recursive.
// Every cluster the entry's tree owned returns to the unallocated pool.
func (e *Engine) Rm(name string, recursive bool) error {
	if err := reservedName(name); err != nil {
		return err
	}
	entry := e.current.Find(name)
	if entry == nil {
		return vfs.ErrNotFound.WithMessage(name)
	}

	if !entry.IsDir() {
		if err := e.alloc.freeChain(entry.StartCluster); err != nil {
			return err
		}
	} else {
		dir, err := e.readDir(entry.StartCluster)
		if err != nil {
			return err
		}
		if len(dir.Entries) > 2 && !recursive {
			return vfs.ErrDirectoryNotEmpty.WithMessage(name)
		}
		if err = e.removeTree(dir); err != nil {
			return err
		}
	}

	e.current.removeEntry(name)
	if err := e.relayout(e.current); err != nil {
		return err
	}
	return e.flush()
}

// removeTree frees a directory's files, subdirectories and finally its own
// serialization, depth first. The FAT is persisted by the caller's re-layout.
func (e *Engine) removeTree(dir *Directory) error {
	for i := range dir.Entries {
		entry := &dir.Entries[i]
		switch entry.EntryName() {
		case ".", "..":
			continue
		}

		if !entry.IsDir() {
			if err := e.alloc.freeChain(entry.StartCluster); err != nil {
				return err
			}
			continue
		}

		child, err := e.readDir(entry.StartCluster)
		if err != nil {
			return err
		}
		if err = e.removeTree(child); err != nil {
			return err
		}
	}

	return e.freeDirClusters(dir)
}

// Mv renames src, or moves it into dst when dst names a directory in the
// current directory.
func (e *Engine) Mv(src, dst string) error {
	if err := reservedName(src); err != nil {
		return err
	}
	if dst == "." {
		return vfs.ErrOutOfRange.WithMessage(`"." is reserved`)
	}
	if src == dst {
		return vfs.ErrExists.WithMessage(dst)
	}

	srcEntry := e.current.Find(src)
	if srcEntry == nil {
		return vfs.ErrNotFound.WithMessage(src)
	}

	if dstEntry := e.current.Find(dst); dstEntry != nil {
		if !dstEntry.IsDir() {
			return vfs.ErrExists.WithMessage(dst)
		}
		return e.moveInto(*srcEntry, dstEntry.StartCluster)
	}

	rawName, err := nameToBytes(dst)
	if err != nil {
		return err
	}
	srcEntry.Name = rawName
	if err = e.relayout(e.current); err != nil {
		return err
	}
	return e.flush()
}

// moveInto detaches the entry from the current directory and appends it to
// the directory starting at targetCluster. A moved directory gets its parent
// link rewritten.
func (e *Engine) moveInto(entry DirEntry, targetCluster uint32) error {
	name := entry.EntryName()

	e.current.removeEntry(name)
	if err := e.relayout(e.current); err != nil {
		return err
	}

	target, err := e.readDir(targetCluster)
	if err != nil {
		return err
	}
	if target.Find(name) != nil {
		// Put the entry back into the current directory, now as its last
		// entry; nothing has been freed.
		e.current.Entries = append(e.current.Entries, entry)
		e.current.Header.EntryCount = uint32(len(e.current.Entries))
		if restoreErr := e.relayout(e.current); restoreErr != nil {
			return restoreErr
		}
		if flushErr := e.flush(); flushErr != nil {
			return flushErr
		}
		return vfs.ErrExists.WithMessage(name)
	}

	target.Entries = append(target.Entries, entry)
	target.Header.EntryCount = uint32(len(target.Entries))
	if err = e.relayout(target); err != nil {
		return err
	}

	if entry.IsDir() {
		child, err := e.readDir(entry.StartCluster)
		if err != nil {
			return err
		}
		child.Header.ParentCluster = target.Header.StartCluster
		if len(child.Entries) > 1 && child.Entries[1].EntryName() == ".." {
			child.Entries[1].StartCluster = target.Header.StartCluster
		}
		if err = e.relayout(child); err != nil {
			return err
		}
	}

	return e.flush()
}

// Cp copies the named file under a new name in the current directory.
func (e *Engine) Cp(src, dst string) error {
	if err := reservedName(src); err != nil {
		return err
	}
	if err := reservedName(dst); err != nil {
		return err
	}
	if _, err := nameToBytes(dst); err != nil {
		return err
	}

	srcEntry := e.current.Find(src)
	if srcEntry == nil {
		return vfs.ErrNotFound.WithMessage(src)
	}
	if srcEntry.IsDir() {
		return vfs.ErrNotAFile.WithMessage(src)
	}
	if e.current.Find(dst) != nil {
		return vfs.ErrExists.WithMessage(dst)
	}

	data, err := e.readFileEntry(srcEntry)
	if err != nil {
		return err
	}

	start, err := e.storeFile(bytes.NewReader(data), uint32(len(data)))
	if err != nil {
		return err
	}
	if err = e.current.addEntry(dst, start, uint32(len(data)), false); err != nil {
		return err
	}
	if err = e.relayout(e.current); err != nil {
		return err
	}
	return e.flush()
}

// CpExt imports a host file into the current directory.
func (e *Engine) CpExt(hostPath, name string) error {
	if err := reservedName(name); err != nil {
		return err
	}
	if _, err := nameToBytes(name); err != nil {
		return err
	}
	if e.current.Find(name) != nil {
		return vfs.ErrExists.WithMessage(name)
	}

	file, err := os.Open(hostPath)
	if err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return vfs.ErrIOFailed.Wrap(err)
	}
	if info.Size() >= int64(1)<<32 {
		return vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"%q is %d bytes; files are limited to 32-bit sizes", hostPath, info.Size()))
	}
	size := uint32(info.Size())

	start, err := e.storeFile(file, size)
	if err != nil {
		return err
	}
	if err = e.current.addEntry(name, start, size, false); err != nil {
		return err
	}
	if err = e.relayout(e.current); err != nil {
		return err
	}
	return e.flush()
}

// Ls writes a listing of the current directory to w.
func (e *Engine) Ls(w io.Writer) error {
	dir := e.current
	fmt.Fprintf(w, "Directory:        %s\n", dir.Name())
	fmt.Fprintf(w, "Start cluster:    %d\n", dir.Header.StartCluster)
	fmt.Fprintf(w, "Parent cluster:   %d\n", dir.Header.ParentCluster)
	fmt.Fprintf(w, "Entry amt:        %d\n", dir.Header.EntryCount)
	fmt.Fprintf(w, " %-10s %-14s %s\n", "size", "start cluster", "name")
	fmt.Fprintf(w, "-------------------------------\n")

	for i := range dir.Entries {
		entry := &dir.Entries[i]
		size := "-"
		if !entry.IsDir() {
			size = humanize.IBytes(uint64(entry.Size))
		}
		fmt.Fprintf(w, " %-10s %-14d %s\n", size, entry.StartCluster, entry.EntryName())
	}
	fmt.Fprintf(w, "-------------------------------\n")
	return nil
}

// Pwd reconstructs the current directory's absolute path by climbing parent
// clusters up to the root.
func (e *Engine) Pwd() string {
	if e.current.Header.StartCluster == rootCluster {
		return "/"
	}

	parts := []string{e.current.Name()}
	parent := e.current.Header.ParentCluster

	// Bounded by the cluster count; a longer walk means a corrupt image.
	for depth := uint32(0); depth < e.sb.ClusterCount; depth++ {
		if parent == rootCluster {
			break
		}
		dir, err := e.readDir(parent)
		if err != nil {
			break
		}
		parts = append([]string{dir.Name()}, parts...)
		parent = dir.Header.ParentCluster
	}
	return "/" + strings.Join(parts, "/")
}

// PrintFAT dumps the FAT to w, one slot per line.
func (e *Engine) PrintFAT(w io.Writer) {
	fmt.Fprintf(w, "    Fat table\n --------------\n")
	for i := uint32(0); i < e.alloc.clusterCount(); i++ {
		fmt.Fprintf(w, "[%d : 0x%08x]\n", i, e.alloc.fat[i])
	}
}

// Unmount flushes and releases the backing image.
func (e *Engine) Unmount() error {
	var result *multierror.Error

	if err := e.device.Flush(); err != nil {
		result = multierror.Append(result, vfs.ErrIOFailed.Wrap(err))
	}
	if e.closer != nil {
		if err := e.closer.Close(); err != nil {
			result = multierror.Append(result, vfs.ErrIOFailed.Wrap(err))
		}
	}
	return result.ErrorOrNil()
}
