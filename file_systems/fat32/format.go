// Package fat32 implements a FAT32-style file system inside a single disk
// image: a superblock, a file allocation table chaining fixed-size clusters,
// and directories serialized as a packed header plus entry records spanning
// one or more clusters.
//
// The layout is this project's own; it is not bit-compatible with Microsoft
// FAT32. All multi-byte fields are stored little-endian.
package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
	"github.com/noxer/bytewriter"

	vfs "github.com/RSKELT0N/VFS"
)

// NameLength is the fixed width of every name field on disk. Shorter names
// are zero-padded; longer names are rejected with ErrOutOfRange.
const NameLength = 10

// Record sizes. These are the compatibility contract of the format; any
// change is a format break.
const (
	SuperblockSize = NameLength + 7*4
	DirHeaderSize  = NameLength + 3*4
	DirEntrySize   = NameLength + 2*4 + 1
	fatEntrySize   = 4
)

// FAT sentinel values. Any other value v in a slot means "next cluster is v".
const (
	ClusterUnallocated uint32 = 0x00000000
	// ClusterAllocated marks a slot claimed by an allocation that has not been
	// linked into a chain yet. It never survives in a persisted FAT; loading
	// reclaims any such slot.
	ClusterAllocated uint32 = 0x00000001
	ClusterBad       uint32 = 0x0000FFF7
	ClusterEOF       uint32 = 0x0000FFF8
)

// rootCluster is where the root directory always begins.
const rootCluster uint32 = 0

// undefStartCluster marks a directory that has not been serialized yet.
const undefStartCluster uint32 = 0xFFFFFFFF

var defaultEncoding = binary.LittleEndian

// Superblock describes the image geometry. Immutable after creation.
type Superblock struct {
	DiskName       [NameLength]byte
	DiskSize       uint32
	ClusterSize    uint32
	ClusterCount   uint32
	UserSize       uint32
	SuperblockAddr uint32
	FATAddr        uint32
	RootAddr       uint32
}

// DirHeader sits at the start of a directory's first cluster.
type DirHeader struct {
	Name          [NameLength]byte
	EntryCount    uint32
	StartCluster  uint32
	ParentCluster uint32
}

// DirEntry describes one child of a directory.
type DirEntry struct {
	Name         [NameLength]byte
	StartCluster uint32
	Size         uint32
	IsDirectory  uint8
}

// IsDir reports whether the entry names a directory.
func (entry *DirEntry) IsDir() bool {
	return entry.IsDirectory != 0
}

// EntryName returns the entry's name with padding stripped.
func (entry *DirEntry) EntryName() string {
	return bytesToName(entry.Name)
}

// ClusterAddr returns the absolute image offset of the given cluster.
func (sb *Superblock) ClusterAddr(cluster uint32) int64 {
	return int64(sb.RootAddr) + int64(cluster)*int64(sb.ClusterSize)
}

// EntriesInFirstCluster gives how many entries fit in a directory's first
// cluster alongside the header.
func (sb *Superblock) EntriesInFirstCluster() uint32 {
	return (sb.ClusterSize - DirHeaderSize) / DirEntrySize
}

// EntriesPerCluster gives how many entries fit in each continuation cluster.
func (sb *Superblock) EntriesPerCluster() uint32 {
	return sb.ClusterSize / DirEntrySize
}

// NewSuperblock derives the full geometry for an image of totalSize bytes.
// The cluster count is what remains after the superblock and one FAT entry
// per cluster are accounted for.
func NewSuperblock(diskName string, totalSize int64, clusterSize uint32) (Superblock, error) {
	name, err := nameToBytes(diskName)
	if err != nil {
		return Superblock{}, err
	}

	if totalSize >= int64(1)<<32 {
		return Superblock{}, vfs.ErrOutOfRange.WithMessage(
			fmt.Sprintf("total size %d exceeds the 32-bit offset space", totalSize))
	}
	if totalSize <= SuperblockSize+fatEntrySize+int64(clusterSize) {
		return Superblock{}, vfs.ErrOutOfRange.WithMessage(
			fmt.Sprintf("total size %d leaves no room for clusters", totalSize))
	}

	clusterCount := (uint32(totalSize) - SuperblockSize) / (fatEntrySize + clusterSize)
	if clusterCount == 0 {
		return Superblock{}, vfs.ErrOutOfRange.WithMessage(
			fmt.Sprintf("total size %d leaves no room for clusters", totalSize))
	}

	fatAddr := uint32(SuperblockSize)
	rootAddr := fatAddr + clusterCount*fatEntrySize

	return Superblock{
		DiskName:       name,
		DiskSize:       uint32(totalSize),
		ClusterSize:    clusterSize,
		ClusterCount:   clusterCount,
		UserSize:       clusterCount * clusterSize,
		SuperblockAddr: 0,
		FATAddr:        fatAddr,
		RootAddr:       rootAddr,
	}, nil
}

// ImageSize returns the exact length the image file is truncated to.
func (sb *Superblock) ImageSize() int64 {
	return int64(sb.RootAddr) + int64(sb.ClusterCount)*int64(sb.ClusterSize)
}

// nameToBytes converts a name to its fixed-width on-disk representation.
func nameToBytes(name string) ([NameLength]byte, error) {
	var raw [NameLength]byte
	if len(name) == 0 || len(name) > NameLength {
		return raw, vfs.ErrOutOfRange.WithMessage(fmt.Sprintf(
			"name %q must be between 1 and %d bytes", name, NameLength))
	}
	copy(raw[:], name)
	return raw, nil
}

// bytesToName converts the on-disk representation of a name back to a string.
func bytesToName(raw [NameLength]byte) string {
	return string(bytes.TrimRight(raw[:], "\x00"))
}

// unpack decodes one packed record from raw.
func unpack(raw []byte, x interface{}) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	err = restruct.Unpack(raw, defaultEncoding, x)
	log.PanicIf(err)

	return nil
}

// pack encodes the given records back to back into buf.
func pack(buf []byte, records ...interface{}) error {
	writer := bytewriter.New(buf)
	for _, record := range records {
		if err := binary.Write(writer, defaultEncoding, record); err != nil {
			return vfs.ErrIOFailed.Wrap(err)
		}
	}
	return nil
}
