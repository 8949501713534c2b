package cluster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/cluster"
	"github.com/go-fatfs/fatfs/device"
)

func testBootSector() *bpb.BootSector {
	return &bpb.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 2,
		FirstDataSector:   10,
		BytesPerCluster:   1024,
	}
}

func TestWriteThenReadCluster(t *testing.T) {
	bs := testBootSector()
	dev := device.NewBlankMemoryDevice(int(bs.SectorOffset(bs.ClusterToSector(20))) + 4096)
	io := cluster.New(dev, bs)

	data := make([]byte, bs.BytesPerCluster)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, io.WriteCluster(5, data))

	readBack, err := io.ReadCluster(5)
	require.NoError(t, err)
	assert.Equal(t, data, readBack)
}

func TestReadAtPartialOffset(t *testing.T) {
	bs := testBootSector()
	dev := device.NewBlankMemoryDevice(int(bs.SectorOffset(bs.ClusterToSector(20))) + 4096)
	io := cluster.New(dev, bs)

	data := []byte("hello, cluster")
	require.NoError(t, io.WriteAt(5, 100, data))

	buf := make([]byte, len(data))
	require.NoError(t, io.ReadAt(5, 100, buf))
	assert.Equal(t, data, buf)
}

func TestWriteAtRejectsOutOfBounds(t *testing.T) {
	bs := testBootSector()
	dev := device.NewBlankMemoryDevice(8192)
	io := cluster.New(dev, bs)

	err := io.WriteAt(5, bs.BytesPerCluster-1, []byte("xx"))
	assert.Error(t, err)
}

func TestZeroCluster(t *testing.T) {
	bs := testBootSector()
	dev := device.NewBlankMemoryDevice(int(bs.SectorOffset(bs.ClusterToSector(20))) + 4096)
	io := cluster.New(dev, bs)

	require.NoError(t, io.WriteCluster(5, make([]byte, bs.BytesPerCluster)))
	buf := make([]byte, bs.BytesPerCluster)
	for i := range buf {
		buf[i] = 0xFF
	}
	require.NoError(t, io.WriteCluster(5, buf))

	require.NoError(t, io.ZeroCluster(5))
	readBack, err := io.ReadCluster(5)
	require.NoError(t, err)
	for _, b := range readBack {
		assert.Equal(t, byte(0), b)
	}
}
