// Package disk provides byte-oriented access to a single disk image. Higher
// layers touch the image only through the Device interface; the file system
// never sees sectors.
package disk

import (
	"io"
	"os"
)

// Device is the access surface the file system engine drives. Positioning is
// absolute within the image; a short read or write is a failure at the call
// site, never a retry point.
type Device interface {
	io.ReadWriteSeeker

	// Truncate sets the device length to exactly size bytes, zero-filling any
	// extension.
	Truncate(size int64) error

	// Flush forces buffered writes to stable storage before returning.
	Flush() error
}

// Disk is a Device backed by one host file.
type Disk struct {
	path string
	file *os.File
}

// Open opens the image at path, creating an empty file if none exists.
func Open(path string) (*Disk, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &Disk{path: path, file: file}, nil
}

// Exists reports whether an image file is already present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Path returns the host path the disk was opened with.
func (d *Disk) Path() string {
	return d.path
}

func (d *Disk) Read(p []byte) (int, error) {
	return d.file.Read(p)
}

func (d *Disk) Write(p []byte) (int, error) {
	return d.file.Write(p)
}

func (d *Disk) Seek(offset int64, whence int) (int64, error) {
	return d.file.Seek(offset, whence)
}

func (d *Disk) Truncate(size int64) error {
	return d.file.Truncate(size)
}

func (d *Disk) Flush() error {
	return d.file.Sync()
}

// Size returns the current length of the image in bytes.
func (d *Disk) Size() (int64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close releases the host file handle. The image stays on disk.
func (d *Disk) Close() error {
	return d.file.Close()
}

// Remove unlinks the image from the host. The disk must be closed first.
func (d *Disk) Remove() error {
	return os.Remove(d.path)
}
