// Package testing provides shared fixtures for exercising the file system
// over in-memory images, so engine tests need no image file on the host.
package testing

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/RSKELT0N/VFS/disks"
)

// MemDevice is an in-memory disk.Device over a fixed-size byte slice.
//
//   - The backing slice is preallocated to the full profile size, so Truncate
//     only validates that the requested length fits.
//   - Flush is a no-op; there is no host buffering to force out.
type MemDevice struct {
	io.ReadWriteSeeker
	data []byte
}

// NewMemDevice allocates an in-memory device of exactly size bytes.
func NewMemDevice(size int64) *MemDevice {
	data := make([]byte, size)
	return &MemDevice{
		ReadWriteSeeker: bytesextra.NewReadWriteSeeker(data),
		data:            data,
	}
}

// Bytes exposes the raw image, for golden-image assertions.
func (device *MemDevice) Bytes() []byte {
	return device.data
}

func (device *MemDevice) Truncate(size int64) error {
	if size > int64(len(device.data)) {
		return io.ErrShortWrite
	}
	return nil
}

func (device *MemDevice) Flush() error {
	return nil
}

// TinyProfile returns a small geometry that keeps tests fast: one MiB with
// the standard 2 KiB clusters.
func TinyProfile() disks.Profile {
	return disks.Profile{
		Name:             "test",
		Slug:             "test",
		TotalSizeBytes:   1 << 20,
		ClusterSizeBytes: 2048,
	}
}

// DeviceForProfile allocates an in-memory device sized for the profile. It is
// guaranteed to either return a valid device or fail the test.
func DeviceForProfile(t *testing.T, profile disks.Profile) *MemDevice {
	require.Greater(t, profile.TotalSizeBytes, int64(0), "profile has no size")
	return NewMemDevice(profile.TotalSizeBytes)
}
