package table_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/device"
	"github.com/go-fatfs/fatfs/table"
)

func newBlankFAT16(t *testing.T, totalClusters uint32) (*table.Table, device.Device) {
	t.Helper()
	fatBytes := int64(totalClusters+2) * 2
	dev := device.NewBlankMemoryDevice(int(fatBytes) * 2)
	tbl := table.NewBlank(dev, bpb.Variant16, totalClusters, []int64{0, fatBytes}, fatBytes, 0xF8)
	return tbl, dev
}

func TestAllocateAndFollowChain(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 100)

	head, err := tbl.AllocateChain(3)
	require.NoError(t, err)

	chain, err := tbl.FollowChain(head)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
	assert.Equal(t, head, chain[0])
}

func TestAllocateChainExhaustsSpace(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 4)
	_, err := tbl.AllocateChain(5)
	assert.Error(t, err)
}

func TestExtendChain(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 100)
	head, err := tbl.AllocateChain(2)
	require.NoError(t, err)

	newTail, err := tbl.ExtendChain(head, 3)
	require.NoError(t, err)

	chain, err := tbl.FollowChain(head)
	require.NoError(t, err)
	assert.Len(t, chain, 5)
	assert.Equal(t, newTail, chain[len(chain)-1])
}

func TestTruncateChainToZero(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 100)
	head, err := tbl.AllocateChain(4)
	require.NoError(t, err)

	freeBefore := tbl.CountFree()
	newTail, err := tbl.TruncateChain(head, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), newTail)
	assert.Equal(t, freeBefore+4, tbl.CountFree())

	_, state, err := tbl.Get(head)
	require.NoError(t, err)
	assert.Equal(t, table.StateFree, state)
}

func TestTruncateChainPartial(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 100)
	head, err := tbl.AllocateChain(4)
	require.NoError(t, err)

	newTail, err := tbl.TruncateChain(head, 2)
	require.NoError(t, err)

	chain, err := tbl.FollowChain(head)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	assert.Equal(t, newTail, chain[1])
}

func TestFollowChainDetectsCycle(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 10)
	require.NoError(t, tbl.Set(2, 3))
	require.NoError(t, tbl.Set(3, 2))

	_, err := tbl.FollowChain(2)
	assert.Error(t, err)
}

func TestFlushAndReload(t *testing.T) {
	tbl, dev := newBlankFAT16(t, 50)
	head, err := tbl.AllocateChain(3)
	require.NoError(t, err)
	require.NoError(t, tbl.Flush())

	fatBytes := int64(52) * 2
	reloaded, err := table.Load(dev, bpb.Variant16, 50, []int64{0, fatBytes}, fatBytes)
	require.NoError(t, err)

	chain, err := reloaded.FollowChain(head)
	require.NoError(t, err)
	assert.Len(t, chain, 3)
}

func TestFAT12PackedEncoding(t *testing.T) {
	totalClusters := uint32(10)
	fatBytes := int64(totalClusters+2) * 3 / 2
	dev := device.NewBlankMemoryDevice(int(fatBytes))
	tbl := table.NewBlank(dev, bpb.Variant12, totalClusters, []int64{0}, fatBytes, 0xF0)

	head, err := tbl.AllocateChain(4)
	require.NoError(t, err)
	require.NoError(t, tbl.Flush())

	reloaded, err := table.Load(dev, bpb.Variant12, totalClusters, []int64{0}, fatBytes)
	require.NoError(t, err)
	chain, err := reloaded.FollowChain(head)
	require.NoError(t, err)
	assert.Len(t, chain, 4)
}

func TestGetRejectsOutOfRangeCluster(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 10)
	_, _, err := tbl.Get(0)
	assert.Error(t, err)
	_, _, err = tbl.Get(9999)
	assert.Error(t, err)
}

func TestAllocateChainDoesNotDuplicateClustersOnWraparound(t *testing.T) {
	tbl, _ := newBlankFAT16(t, 8)

	// Move freeHint near the end of the table so a single AllocateChain
	// call must wrap around past firstDataCluster to satisfy the request.
	first, err := tbl.AllocateChain(6)
	require.NoError(t, err)
	_, err = tbl.TruncateChain(first, 0)
	require.NoError(t, err)

	_, err = tbl.AllocateChain(6)
	require.NoError(t, err)

	head, err := tbl.AllocateChain(2)
	require.NoError(t, err)
	chain, err := tbl.FollowChain(head)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
	assert.NotEqual(t, chain[0], chain[1])
}

func TestFAT32EntryPreservesReservedHighNibbleAcrossFlush(t *testing.T) {
	totalClusters := uint32(20)
	fatBytes := int64(totalClusters+2) * 4
	dev := device.NewBlankMemoryDevice(int(fatBytes))
	tbl := table.NewBlank(dev, bpb.Variant32, totalClusters, []int64{0}, fatBytes, 0xF8)

	head, err := tbl.AllocateChain(2)
	require.NoError(t, err)

	// Simulate a reserved high nibble already present in this entry
	// before this library ever wrote it (e.g. set by another FAT32
	// implementation), and confirm it survives Set + Flush + Load.
	raw, state, err := tbl.Get(head)
	require.NoError(t, err)
	require.Equal(t, table.StateAllocated, state)
	require.NoError(t, tbl.Set(head, raw|0x50000000))

	require.NoError(t, tbl.Flush())
	reloaded, err := table.Load(dev, bpb.Variant32, totalClusters, []int64{0}, fatBytes)
	require.NoError(t, err)

	value, _, err := reloaded.Get(head)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x50000000), value&0xF0000000)

	chain, err := reloaded.FollowChain(head)
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}
