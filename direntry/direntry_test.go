package direntry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-fatfs/fatfs/device"
	"github.com/go-fatfs/fatfs/direntry"
)

var codec = device.ASCIICodePage{}

func TestSerializeDecodeShortEntryRoundTrip(t *testing.T) {
	short := direntry.ShortEntry{
		Name:         "README",
		Ext:          "TXT",
		Attributes:   direntry.AttrArchive,
		FirstCluster: 42,
		FileSize:     1024,
		CreatedAt:    time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		ModifiedAt:   time.Date(2024, 3, 16, 11, 0, 0, 0, time.UTC),
		AccessedAt:   time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC),
	}

	raw := direntry.SerializeEntry(short, "", codec)
	require.Len(t, raw, direntry.DirentSize)

	entries, err := direntry.ReadDir(raw, codec)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "README", entries[0].Short.Name)
	assert.Equal(t, "TXT", entries[0].Short.Ext)
	assert.Equal(t, uint32(42), entries[0].Short.FirstCluster)
	assert.Equal(t, uint32(1024), entries[0].Short.FileSize)
	assert.Equal(t, "README.TXT", entries[0].DisplayName())
}

func TestSerializeDecodeWithLongName(t *testing.T) {
	short := direntry.ShortEntry{
		Name:         "THISIS~1",
		Ext:          "TXT",
		Attributes:   direntry.AttrArchive,
		FirstCluster: 5,
		CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	longName := "this is a very long filename.txt"

	raw := direntry.SerializeEntry(short, longName, codec)
	assert.Equal(t, direntry.SlotsNeeded(longName)*direntry.DirentSize, len(raw))

	entries, err := direntry.ReadDir(raw, codec)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, longName, entries[0].LongName)
	assert.Equal(t, longName, entries[0].DisplayName())
	assert.Equal(t, 0, entries[0].SlotOffset)
}

func TestReadDirStopsAtFreeSlot(t *testing.T) {
	short := direntry.ShortEntry{Name: "A", Ext: "B", CreatedAt: time.Now()}
	raw := make([]byte, direntry.DirentSize*4)
	copy(raw, direntry.SerializeEntry(short, "", codec))

	entries, err := direntry.ReadDir(raw, codec)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadDirSkipsDeletedSlot(t *testing.T) {
	short1 := direntry.ShortEntry{Name: "ONE", CreatedAt: time.Now()}
	short2 := direntry.ShortEntry{Name: "TWO", CreatedAt: time.Now()}

	raw := make([]byte, direntry.DirentSize*3)
	copy(raw[0:], direntry.SerializeEntry(short1, "", codec))
	copy(raw[direntry.DirentSize:], direntry.SerializeEntry(short2, "", codec))
	raw[direntry.DirentSize] = 0xE5 // mark slot 1 (short2) deleted

	entries, err := direntry.ReadDir(raw, codec)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ONE", entries[0].Short.Name)
}

func TestFindFreeRun(t *testing.T) {
	raw := make([]byte, direntry.DirentSize*5)
	bm := direntry.FreeSlotBitmap(raw)
	start, err := direntry.FindFreeRun(bm, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, start)
}

func TestFindFreeRunNotEnoughSpace(t *testing.T) {
	short := direntry.ShortEntry{Name: "X", CreatedAt: time.Now()}
	raw := make([]byte, direntry.DirentSize*2)
	copy(raw[0:], direntry.SerializeEntry(short, "", codec))
	copy(raw[direntry.DirentSize:], direntry.SerializeEntry(short, "", codec))

	bm := direntry.FreeSlotBitmap(raw)
	_, err := direntry.FindFreeRun(bm, 2, 1)
	assert.Error(t, err)
}

func TestMarkDeleted(t *testing.T) {
	short := direntry.ShortEntry{Name: "GONE", CreatedAt: time.Now()}
	raw := direntry.SerializeEntry(short, "", codec)
	entries, err := direntry.ReadDir(raw, codec)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	direntry.MarkDeleted(raw, &entries[0])
	reRead, err := direntry.ReadDir(raw, codec)
	require.NoError(t, err)
	assert.Len(t, reRead, 0)
}
