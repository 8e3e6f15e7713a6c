package vfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

// Disk names must fit the superblock's fixed name field.
const maxDiskNameLength = 10

type diskRecord struct {
	fsType FSType
}

// Registry maintains the set of known disk images and the single "mounted"
// slot. It is an explicit value owned by the caller; there is no process-wide
// instance.
type Registry struct {
	disksDir  string
	factories map[FSType]EngineFactory
	disks     map[string]*diskRecord

	// mountedName is "" when the mount slot is empty.
	mountedName string
	mounted     FileSystem
}

// NewRegistry creates a registry persisting images under disksDir. factories
// maps each supported file system type to its engine constructor.
func NewRegistry(disksDir string, factories map[FSType]EngineFactory) *Registry {
	return &Registry{
		disksDir:  disksDir,
		factories: factories,
		disks:     make(map[string]*diskRecord),
	}
}

// ImagePath returns the host path of the named disk's backing image.
func (reg *Registry) ImagePath(name string) string {
	return filepath.Join(reg.disksDir, name)
}

// Add registers a disk under the given file system type. The backing image is
// not created until the disk is first mounted.
func (reg *Registry) Add(name string, fsType FSType) error {
	if len(name) == 0 || len(name) > maxDiskNameLength {
		return ErrOutOfRange.WithMessage(fmt.Sprintf(
			"disk name %q must be between 1 and %d bytes", name, maxDiskNameLength))
	}
	if _, exists := reg.disks[name]; exists {
		return ErrAlreadyRegistered.WithMessage(name)
	}

	if fsType == "" {
		fsType = DefaultFSType
	}
	if _, known := reg.factories[fsType]; !known {
		return ErrUnknownFSType.WithMessage(string(fsType))
	}

	reg.disks[name] = &diskRecord{fsType: fsType}
	return nil
}

// Remove deregisters a disk and deletes its backing image. A mounted disk is
// unmounted first.
func (reg *Registry) Remove(name string) error {
	if _, exists := reg.disks[name]; !exists {
		return ErrNotRegistered.WithMessage(name)
	}

	var result *multierror.Error
	if reg.mountedName == name {
		if err := reg.Unmount(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := os.Remove(reg.ImagePath(name)); err != nil && !os.IsNotExist(err) {
		result = multierror.Append(result, ErrIOFailed.Wrap(err))
	}

	delete(reg.disks, name)
	return result.ErrorOrNil()
}

// Mount binds the named disk to the mount slot, constructing an engine of the
// disk's file system type. Fails if any disk is already mounted.
func (reg *Registry) Mount(name string) error {
	if reg.mountedName != "" {
		return ErrAlreadyMounted.WithMessage(fmt.Sprintf(
			"unmount %q before mounting %q", reg.mountedName, name))
	}

	record, exists := reg.disks[name]
	if !exists {
		return ErrNotRegistered.WithMessage(name)
	}

	factory := reg.factories[record.fsType]
	if factory == nil {
		return ErrUnknownFSType.WithMessage(string(record.fsType))
	}

	fs, err := factory(reg.ImagePath(name), name)
	if err != nil {
		return err
	}

	reg.mountedName = name
	reg.mounted = fs
	return nil
}

// Unmount tears down the engine and clears the mount slot.
func (reg *Registry) Unmount() error {
	if reg.mountedName == "" {
		return ErrNotMounted
	}

	err := reg.mounted.Unmount()
	reg.mountedName = ""
	reg.mounted = nil
	return err
}

// Mounted returns the active file system, or false when the slot is empty.
func (reg *Registry) Mounted() (FileSystem, bool) {
	if reg.mountedName == "" {
		return nil, false
	}
	return reg.mounted, true
}

// MountedName returns the name of the mounted disk, or "".
func (reg *Registry) MountedName() string {
	return reg.mountedName
}

// Names returns the registered disk names in sorted order.
func (reg *Registry) Names() []string {
	names := make([]string, 0, len(reg.disks))
	for name := range reg.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List writes the registered disks to w, marking the mounted one and showing
// the on-host size of any image that has been created.
func (reg *Registry) List(w io.Writer) {
	fmt.Fprintf(w, " Disks\n----------------------------------------\n")
	if len(reg.disks) == 0 {
		fmt.Fprintf(w, " -> there are no disks added\n")
	}

	for _, name := range reg.Names() {
		record := reg.disks[name]
		fmt.Fprintf(w, " -> (name)%s : (filesystem)%s", name, record.fsType)

		if info, err := os.Stat(reg.ImagePath(name)); err == nil {
			fmt.Fprintf(w, " : (size)%s", humanize.IBytes(uint64(info.Size())))
		}
		if name == reg.mountedName {
			fmt.Fprintf(w, " [ Mounted ]")
		}
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "----------------------------------------\n")
}
