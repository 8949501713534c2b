package fatfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fatfs "github.com/go-fatfs/fatfs"
	"github.com/go-fatfs/fatfs/device"
	"github.com/go-fatfs/fatfs/direntry"
	"github.com/go-fatfs/fatfs/format"
)

func newMountedFloppy(t *testing.T) *fatfs.FileSystem {
	t.Helper()
	g, err := format.NamedGeometry("floppy1440")
	require.NoError(t, err)
	opts := format.FromGeometry(g)
	dev := device.NewBlankMemoryDevice(int(g.TotalSectors) * int(g.BytesPerSector))
	fs, err := fatfs.FormatAndMount(dev, opts)
	require.NoError(t, err)
	return fs
}

func TestWriteFileThenReadFile(t *testing.T) {
	fs := newMountedFloppy(t)

	data := []byte("hello, fatfs!")
	require.NoError(t, fs.WriteFile("/hello.txt", data, direntry.AttrArchive))

	readBack, err := fs.ReadFile("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, data, readBack)
}

func TestReadDirListsCreatedFiles(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.WriteFile("/a.txt", []byte("a"), 0))
	require.NoError(t, fs.WriteFile("/b.txt", []byte("b"), 0))

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.DisplayName()] = true
	}
	assert.True(t, names["A.TXT"])
	assert.True(t, names["B.TXT"])
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.WriteFile("/dup.txt", []byte("1"), 0))
	err := fs.WriteFile("/dup.txt", []byte("2"), 0)
	assert.Error(t, err)
}

func TestMkdirAndNestedWriteFile(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.Mkdir("/sub"))
	require.NoError(t, fs.WriteFile("/sub/nested.txt", []byte("nested"), 0))

	readBack, err := fs.ReadFile("/sub/nested.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("nested"), readBack)
}

func TestRemoveFile(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.WriteFile("/gone.txt", []byte("x"), 0))
	require.NoError(t, fs.Remove("/gone.txt"))

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.Mkdir("/sub"))
	require.NoError(t, fs.WriteFile("/sub/f.txt", []byte("x"), 0))

	err := fs.Remove("/sub")
	assert.Error(t, err)
}

func TestRenameFile(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.WriteFile("/old.txt", []byte("data"), 0))
	require.NoError(t, fs.Rename("/old.txt", "/new.txt"))

	_, err := fs.ReadFile("/old.txt")
	assert.Error(t, err)

	data, err := fs.ReadFile("/new.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestLongFileNamePreserved(t *testing.T) {
	fs := newMountedFloppy(t)
	longName := "/this is a long file name.txt"
	require.NoError(t, fs.WriteFile(longName, []byte("payload"), 0))

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "this is a long file name.txt", entries[0].DisplayName())
}

func TestStatsReportsFreeClusters(t *testing.T) {
	fs := newMountedFloppy(t)
	before := fs.Stats()
	require.NoError(t, fs.WriteFile("/x.txt", make([]byte, 4096), 0))
	after := fs.Stats()
	assert.Less(t, after.BlocksFree, before.BlocksFree)
}

func TestClusterMapTagsFileClusters(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.WriteFile("/tagged.txt", []byte("123456789"), 0))

	info, err := fs.ClusterMap()
	require.NoError(t, err)

	foundFile := false
	for _, ci := range info {
		if ci.Tag == fatfs.TagFile && ci.Name == "TAGGED.TXT" {
			foundFile = true
		}
	}
	assert.True(t, foundFile)
}

func TestUnmountFlushesWithoutError(t *testing.T) {
	fs := newMountedFloppy(t)
	require.NoError(t, fs.WriteFile("/a.txt", []byte("a"), 0))
	assert.NoError(t, fs.Unmount())
}
