// Package disks defines the geometry profiles a virtual disk image can be
// created with: the total image size and the cluster size everything else is
// derived from.
package disks

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// MaxTotalSizeBytes caps the image size; all on-disk offsets are 32-bit.
const MaxTotalSizeBytes = int64(1) << 32

// Profile describes one virtual-disk geometry.
type Profile struct {
	Name             string `csv:"name"`
	Slug             string `csv:"slug"`
	TotalSizeBytes   int64  `csv:"total_size_bytes"`
	ClusterSizeBytes uint32 `csv:"cluster_size_bytes"`
	Notes            string `csv:"notes"`
}

// Validate checks that the geometry can be laid out with 32-bit offsets and a
// nonzero cluster array.
func (p *Profile) Validate() error {
	if p.ClusterSizeBytes == 0 {
		return fmt.Errorf("profile %q has a zero cluster size", p.Slug)
	}
	if p.TotalSizeBytes >= MaxTotalSizeBytes {
		return fmt.Errorf(
			"profile %q: total size %d must be under %d bytes",
			p.Slug, p.TotalSizeBytes, MaxTotalSizeBytes)
	}
	if p.TotalSizeBytes < int64(p.ClusterSizeBytes)*2 {
		return fmt.Errorf(
			"profile %q: total size %d can't hold even two %d-byte clusters",
			p.Slug, p.TotalSizeBytes, p.ClusterSizeBytes)
	}
	return nil
}

//go:embed disk-profiles.csv
var diskProfilesRawCSV string
var diskProfiles = map[string]Profile{}

// GetProfile looks up a predefined profile by slug.
func GetProfile(slug string) (Profile, error) {
	profile, ok := diskProfiles[slug]
	if ok {
		return profile, nil
	}

	err := fmt.Errorf("no predefined disk profile exists with slug %q", slug)
	return Profile{}, err
}

// Slugs returns the known profile slugs, for help output.
func Slugs() []string {
	slugs := make([]string, 0, len(diskProfiles))
	for slug := range diskProfiles {
		slugs = append(slugs, slug)
	}
	return slugs
}

func init() {
	reader := strings.NewReader(diskProfilesRawCSV)
	err := gocsv.UnmarshalToCallback(
		reader,
		func(row Profile) error {
			if _, exists := diskProfiles[row.Slug]; exists {
				return fmt.Errorf("duplicate definition for profile %q", row.Slug)
			}
			if err := row.Validate(); err != nil {
				return err
			}
			diskProfiles[row.Slug] = row
			return nil
		},
	)
	if err != nil && err != io.EOF {
		panic(err)
	}
}
