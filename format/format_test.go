package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/device"
	"github.com/go-fatfs/fatfs/format"
	"github.com/go-fatfs/fatfs/table"
)

func TestNamedGeometryLookup(t *testing.T) {
	g, err := format.NamedGeometry("floppy1440")
	require.NoError(t, err)
	assert.Equal(t, uint32(2880), g.TotalSectors)
	assert.Equal(t, uint16(512), g.BytesPerSector)
}

func TestNamedGeometryUnknownSlug(t *testing.T) {
	_, err := format.NamedGeometry("does-not-exist")
	assert.Error(t, err)
}

func TestFormatFAT12Floppy(t *testing.T) {
	g, err := format.NamedGeometry("floppy1440")
	require.NoError(t, err)
	opts := format.FromGeometry(g)

	dev := device.NewBlankMemoryDevice(int(g.TotalSectors) * int(g.BytesPerSector))
	result, err := format.Format(dev, opts)
	require.NoError(t, err)

	assert.Equal(t, bpb.Variant12, result.BootSector.Variant)
	assert.Greater(t, result.Table.TotalClusters(), uint32(0))
	assert.Equal(t, result.Table.TotalClusters(), result.Table.CountFree())
}

func TestFormatFAT32ReservesRootCluster(t *testing.T) {
	g, err := format.NamedGeometry("cf2g")
	require.NoError(t, err)
	opts := format.FromGeometry(g)

	dev := device.NewBlankMemoryDevice(int(g.TotalSectors) * int(g.BytesPerSector))
	result, err := format.Format(dev, opts)
	require.NoError(t, err)

	assert.Equal(t, bpb.Variant32, result.BootSector.Variant)
	assert.Equal(t, uint32(2), result.BootSector.RootCluster)

	_, state, err := result.Table.Get(result.BootSector.RootCluster)
	require.NoError(t, err)
	assert.Equal(t, table.StateEndOfChain, state)
}

func TestFormatRejectsZeroSectorsPerCluster(t *testing.T) {
	opts := format.Options{
		TotalSectors:    2880,
		BytesPerSector:  512,
		ReservedSectors: 1,
		NumFATs:         2,
		RootEntryCount:  224,
	}
	dev := device.NewBlankMemoryDevice(2880 * 512)
	_, err := format.Format(dev, opts)
	assert.Error(t, err)
}

func TestFormattedVolumeRoundTripsThroughParse(t *testing.T) {
	g, err := format.NamedGeometry("floppy1440")
	require.NoError(t, err)
	opts := format.FromGeometry(g)

	dev := device.NewBlankMemoryDevice(int(g.TotalSectors) * int(g.BytesPerSector))
	_, err = format.Format(dev, opts)
	require.NoError(t, err)

	parsed, err := bpb.Parse(dev)
	require.NoError(t, err)
	assert.Equal(t, bpb.Variant12, parsed.Variant)
	assert.Equal(t, opts.NumFATs, parsed.NumFATs)
}
