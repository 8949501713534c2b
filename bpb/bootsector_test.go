package bpb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/device"
)

func TestDetermineVariant(t *testing.T) {
	assert.Equal(t, bpb.Variant12, bpb.DetermineVariant(0))
	assert.Equal(t, bpb.Variant12, bpb.DetermineVariant(4084))
	assert.Equal(t, bpb.Variant16, bpb.DetermineVariant(4085))
	assert.Equal(t, bpb.Variant16, bpb.DetermineVariant(65524))
	assert.Equal(t, bpb.Variant32, bpb.DetermineVariant(65525))
	assert.Equal(t, bpb.Variant32, bpb.DetermineVariant(1<<20))
}

func buildFAT16BootSector() *bpb.BootSector {
	return &bpb.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 4,
		ReservedSectors:   1,
		NumFATs:           2,
		RootEntryCount:    512,
		Media:             0xF8,
		SectorsPerFAT:     32,
		TotalSectors:      131072,
		VolumeID:          0xCAFEBABE,
		VolumeLabel:       "TESTVOL",
		Variant:           bpb.Variant16,
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	original := buildFAT16BootSector()
	raw := original.Serialize()
	require.Len(t, raw, 512)

	dev := device.NewMemoryDevice(raw)
	parsed, err := bpb.Parse(dev)
	require.NoError(t, err)

	assert.Equal(t, original.BytesPerSector, parsed.BytesPerSector)
	assert.Equal(t, original.SectorsPerCluster, parsed.SectorsPerCluster)
	assert.Equal(t, original.ReservedSectors, parsed.ReservedSectors)
	assert.Equal(t, original.NumFATs, parsed.NumFATs)
	assert.Equal(t, original.RootEntryCount, parsed.RootEntryCount)
	assert.Equal(t, original.VolumeID, parsed.VolumeID)
	assert.Equal(t, original.VolumeLabel, parsed.VolumeLabel)
	assert.Equal(t, bpb.Variant16, parsed.Variant)
}

func TestParseRejectsMissingSignature(t *testing.T) {
	raw := make([]byte, 512)
	dev := device.NewMemoryDevice(raw)
	_, err := bpb.Parse(dev)
	assert.Error(t, err)
}

func TestClusterToSector(t *testing.T) {
	bs := buildFAT16BootSector()
	raw := bs.Serialize()
	dev := device.NewMemoryDevice(raw)
	parsed, err := bpb.Parse(dev)
	require.NoError(t, err)

	firstDataSector := parsed.FirstDataSector
	assert.Equal(t, firstDataSector, parsed.ClusterToSector(2))
	assert.Equal(t, firstDataSector+uint32(parsed.SectorsPerCluster), parsed.ClusterToSector(3))
}

func TestFSInfoRoundTrip(t *testing.T) {
	raw := bpb.SerializeFSInfo(1234, 5678)
	freeCount, nextFree, err := bpb.ParseFSInfo(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), freeCount)
	assert.Equal(t, uint32(5678), nextFree)
}

func TestFSInfoRejectsBadSignature(t *testing.T) {
	raw := make([]byte, 512)
	_, _, err := bpb.ParseFSInfo(raw)
	assert.Error(t, err)
}
