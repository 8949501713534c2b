// Package format implements the Format operation: laying down a fresh
// boot sector, FAT(s), and root directory on a blank device, per spec
// §4.7. Variant selection follows the same cluster-count thresholds used
// when mounting an existing volume (bpb.DetermineVariant).
//
// Named geometry presets are decoded from an embedded CSV table with
// github.com/gocarina/gocsv, the same library and the same
// embed-a-CSV-of-named-presets pattern as the teacher's disks/disks.go
// DiskGeometry table (GetPredefinedDiskGeometry), generalized from
// generic storage-device geometry to FAT-specific volume geometry
// (bytes/sector, sectors/cluster, reserved sectors, FAT copies, root
// entries).
package format

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// Geometry is one named, preconfigured set of Format parameters for a
// standard volume size (floppy disk formats and common small HDD
// partitions), mirroring the fields DiskGeometry exposes but specialized
// to what FAT's BPB actually records.
type Geometry struct {
	Slug              string `csv:"slug"`
	Name              string `csv:"name"`
	TotalSectors      uint32 `csv:"total_sectors"`
	BytesPerSector    uint16 `csv:"bytes_per_sector"`
	SectorsPerCluster uint8  `csv:"sectors_per_cluster"`
	ReservedSectors   uint16 `csv:"reserved_sectors"`
	NumFATs           uint8  `csv:"num_fats"`
	RootEntryCount    uint16 `csv:"root_entry_count"`
	Media             uint8  `csv:"media"`
}

//go:embed geometries.csv
var rawGeometriesCSV string

var geometries map[string]Geometry

func init() {
	geometries = make(map[string]Geometry)
	reader := strings.NewReader(rawGeometriesCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Geometry) error {
		if _, exists := geometries[row.Slug]; exists {
			return fmt.Errorf("duplicate geometry preset slug %q", row.Slug)
		}
		geometries[row.Slug] = row
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// NamedGeometry looks up one of the bundled presets (e.g. "floppy1440",
// "floppy720", "hdd32m") by slug.
func NamedGeometry(slug string) (Geometry, error) {
	g, ok := geometries[slug]
	if !ok {
		return Geometry{}, fmt.Errorf("no predefined FAT geometry exists with slug %q", slug)
	}
	return g, nil
}

// GeometrySlugs lists every bundled preset's slug, for callers building a
// menu. The order of the returned slugs is not defined.
func GeometrySlugs() []string {
	slugs := make([]string, 0, len(geometries))
	for slug := range geometries {
		slugs = append(slugs, slug)
	}
	return slugs
}
