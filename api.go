// Package vfs multiplexes named virtual disk images and routes file operations
// to the file system mounted on top of one of them.
package vfs

import "io"

// FSType identifies a file system implementation known to the registry.
type FSType string

// FSTypeFAT32 is the only implementation currently shipped.
const FSTypeFAT32 = FSType("fat32")

// DefaultFSType is assumed when a disk is registered without an explicit type.
const DefaultFSType = FSTypeFAT32

// FileSystem is the capability set a mounted file system exposes to the
// terminal and the network front-end. One instance exists per mounted disk
// and is torn down at unmount.
//
// Implementations are not safe for concurrent use; callers must serialize.
type FileSystem interface {
	// Mkdir creates an empty directory in the current directory.
	Mkdir(name string) error

	// Cd replaces the current-directory cursor with the named child. "." and
	// ".." resolve through the directory's own entries.
	Cd(name string) error

	// Ls writes a listing of the current directory to w.
	Ls(w io.Writer) error

	// Touch creates a zero-byte file in the current directory.
	Touch(name string) error

	// Cat writes the named file's bytes to w.
	Cat(name string, w io.Writer) error

	// Rm removes the named entry. Directories require recursive unless empty.
	Rm(name string, recursive bool) error

	// Mv renames src, or moves it into dst when dst names a directory.
	Mv(src, dst string) error

	// Cp copies the named file under a new name in the current directory.
	Cp(src, dst string) error

	// CpExt imports a host file into the current directory.
	CpExt(hostPath, name string) error

	// Pwd returns the absolute path of the current directory.
	Pwd() string

	// Unmount flushes and releases the backing image. The receiver must not
	// be used afterwards.
	Unmount() error
}

// EngineFactory constructs a FileSystem bound to the image at imagePath,
// creating the image if it does not exist yet. diskName is the registered
// name recorded in the image's superblock on creation.
type EngineFactory func(imagePath, diskName string) (FileSystem, error)
