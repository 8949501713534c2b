package recovery_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/cluster"
	"github.com/go-fatfs/fatfs/device"
	"github.com/go-fatfs/fatfs/recovery"
	"github.com/go-fatfs/fatfs/table"
)

// tagState recognizes a run of clusters whose first 4 bytes are the magic
// "TAG!" and whose last cluster in the run has a trailing 0xFF byte, a
// minimal stand-in for a real signature-based classifier.
type tagFactory struct{}

type tagState struct{}

func (tagFactory) IsStartOfFile(data []byte) (recovery.State, bool) {
	if len(data) >= 4 && bytes.Equal(data[0:4], []byte("TAG!")) {
		return tagState{}, true
	}
	return nil, false
}

func (tagState) ClusterBelongsToFile(data []byte) recovery.Verdict {
	if len(data) > 0 && data[len(data)-1] == 0xFF {
		return recovery.IsEndOfFile
	}
	if len(data) >= 4 && bytes.Equal(data[0:4], []byte("TAG!")) {
		return recovery.NotToFile // a new file's header, not a continuation
	}
	return recovery.ToFile
}

func setupVolume(t *testing.T, totalClusters uint32) (*cluster.IO, *table.Table) {
	t.Helper()
	bs := &bpb.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		FirstDataSector:   4,
		BytesPerCluster:   512,
	}
	fatBytes := int64(totalClusters+2) * 2
	devSize := int(bs.SectorOffset(bs.ClusterToSector(totalClusters+2))) + 4096
	dev := device.NewBlankMemoryDevice(devSize)
	io := cluster.New(dev, bs)
	tbl := table.NewBlank(dev, bpb.Variant16, totalClusters, []int64{0}, fatBytes, 0xF8)
	return io, tbl
}

func writeClusterPrefix(t *testing.T, io *cluster.IO, c uint32, prefix []byte) {
	t.Helper()
	buf := make([]byte, 512)
	copy(buf, prefix)
	require.NoError(t, io.WriteCluster(c, buf))
}

func TestRecoverSingleClusterFile(t *testing.T) {
	io_, tbl := setupVolume(t, 10)

	tail := make([]byte, 512)
	copy(tail, "TAG!")
	tail[511] = 0xFF
	require.NoError(t, io_.WriteCluster(2, tail))

	results, err := recovery.Recover(io_, tbl, tagFactory{}, recovery.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []uint32{2}, results[0].Clusters)
}

func TestRecoverMultiClusterFile(t *testing.T) {
	io_, tbl := setupVolume(t, 10)
	writeClusterPrefix(t, io_, 2, []byte("TAG!"))
	writeClusterPrefix(t, io_, 3, []byte("body"))
	end := make([]byte, 512)
	end[511] = 0xFF
	require.NoError(t, io_.WriteCluster(4, end))

	results, err := recovery.Recover(io_, tbl, tagFactory{}, recovery.Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []uint32{2, 3, 4}, results[0].Clusters)
	assert.Len(t, results[0].Bytes, 512*3)
}

func TestRecoverRespectsMinMaxClusters(t *testing.T) {
	io_, tbl := setupVolume(t, 10)

	tail := make([]byte, 512)
	copy(tail, "TAG!")
	tail[511] = 0xFF
	require.NoError(t, io_.WriteCluster(2, tail))

	results, err := recovery.Recover(io_, tbl, tagFactory{}, recovery.Options{MinClusters: 2})
	require.NoError(t, err)
	assert.Len(t, results, 0)
}

func TestRecoverIsNonDestructive(t *testing.T) {
	io_, tbl := setupVolume(t, 10)
	tail := make([]byte, 512)
	copy(tail, "TAG!")
	tail[511] = 0xFF
	require.NoError(t, io_.WriteCluster(2, tail))

	freeBefore := tbl.CountFree()
	_, err := recovery.Recover(io_, tbl, tagFactory{}, recovery.Options{})
	require.NoError(t, err)
	assert.Equal(t, freeBefore, tbl.CountFree())
}

func TestRecoverSkipsAllocatedClusters(t *testing.T) {
	io_, tbl := setupVolume(t, 10)
	_, err := tbl.AllocateChain(1) // allocate cluster 2, no longer free
	require.NoError(t, err)

	tail := make([]byte, 512)
	copy(tail, "TAG!")
	tail[511] = 0xFF
	require.NoError(t, io_.WriteCluster(2, tail))

	results, err := recovery.Recover(io_, tbl, tagFactory{}, recovery.Options{})
	require.NoError(t, err)
	assert.Len(t, results, 0)
}
