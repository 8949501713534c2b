package fatfs

import (
	"path"
	"strings"
	"time"

	"github.com/go-fatfs/fatfs/direntry"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
	"github.com/go-fatfs/fatfs/filestream"
)

// lookup locates the directory entry named by filePath and the location
// (directory bytes + slot) it was found at, so callers can both open its
// data and rewrite its short entry in place.
func (fs *FileSystem) lookup(filePath string) (direntry.Entry, dirLocation, []byte, error) {
	loc, name, err := fs.resolveParentDir(filePath)
	if err != nil {
		return direntry.Entry{}, dirLocation{}, nil, err
	}
	raw, err := fs.readDirLocation(loc)
	if err != nil {
		return direntry.Entry{}, dirLocation{}, nil, err
	}
	entries, err := direntry.ReadDir(raw, fs.codec)
	if err != nil {
		return direntry.Entry{}, dirLocation{}, nil, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.DisplayName(), name) {
			return e, loc, raw, nil
		}
	}
	return direntry.Entry{}, dirLocation{}, nil, fatfserrors.ErrNotFound
}

// Open returns a Stream over the existing file's data, positioned at the
// start. Directories cannot be opened as streams. When the volume was
// mounted with UpdateAccessedDate, the entry's AccessedAt is stamped with
// the mount's TimeProvider before returning, per spec §4.6.
func (fs *FileSystem) Open(filePath string) (*filestream.Stream, error) {
	entry, loc, raw, err := fs.lookup(filePath)
	if err != nil {
		return nil, err
	}
	if entry.IsDirectory() {
		return nil, fatfserrors.ErrIsADirectory
	}
	if fs.updateAccessed && !fs.readOnly() {
		entry.Short.AccessedAt = fs.clock.Now()
		copy(raw[entry.SlotOffset*direntry.DirentSize:], direntry.SerializeEntry(entry.Short, entry.LongName, fs.codec))
		if err := fs.writeDirLocation(loc, raw); err != nil {
			return nil, err
		}
	}
	return filestream.Open(fs.io, fs.tbl, entry.Short.FirstCluster, int64(entry.Short.FileSize))
}

// persistSize rewrites a file's short entry with a new first cluster and
// size, called after writing through a Stream that grew, shrank, or newly
// allocated its chain.
func (fs *FileSystem) persistSize(filePath string, firstCluster uint32, size int64) error {
	entry, loc, raw, err := fs.lookup(filePath)
	if err != nil {
		return err
	}
	entry.Short.FirstCluster = firstCluster
	entry.Short.FileSize = uint32(size)
	entry.Short.ModifiedAt = fs.clock.Now()

	serialized := direntry.SerializeEntry(entry.Short, entry.LongName, fs.codec)
	copy(raw[entry.SlotOffset*direntry.DirentSize:], serialized)
	return fs.writeDirLocation(loc, raw)
}

// Mkdir creates a new, empty subdirectory at dirPath, pre-populated with
// `.` and `..` entries pointing at itself and its parent, per spec §4.4
// directory-creation semantics generalized to directories (the teacher's
// driver.go Mkdir does the equivalent for its other file systems).
func (fs *FileSystem) Mkdir(dirPath string) error {
	if fs.readOnly() {
		return fatfserrors.ErrReadOnlyFileSystem
	}

	parentLoc, name, err := fs.resolveParentDir(dirPath)
	if err != nil {
		return err
	}
	raw, err := fs.readDirLocation(parentLoc)
	if err != nil {
		return err
	}
	siblings, err := direntry.ReadDir(raw, fs.codec)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if strings.EqualFold(s.DisplayName(), name) {
			return fatfserrors.ErrAlreadyExists
		}
	}

	newCluster, err := fs.tbl.AllocateChain(1)
	if err != nil {
		return err
	}
	if err := fs.io.ZeroCluster(newCluster); err != nil {
		return err
	}

	now := fs.clock.Now()
	parentCluster := parentLoc.firstCluster // 0 for the FAT12/16 fixed root, matching the on-disk ".." convention
	dotEntries := append(
		direntry.SerializeEntry(direntry.ShortEntry{
			Name: ".", Attributes: direntry.AttrDirectory,
			FirstCluster: newCluster, CreatedAt: now, ModifiedAt: now, AccessedAt: now,
		}, "", fs.codec),
		direntry.SerializeEntry(direntry.ShortEntry{
			Name: "..", Attributes: direntry.AttrDirectory,
			FirstCluster: parentCluster, CreatedAt: now, ModifiedAt: now, AccessedAt: now,
		}, "", fs.codec)...,
	)
	if err := fs.io.WriteAt(newCluster, 0, dotEntries); err != nil {
		return err
	}

	shortName, ext := shortNameFor(name, siblings)
	longName := ""
	if needsShortening(name) {
		longName = name
	}
	short := direntry.ShortEntry{
		Name: shortName, Ext: ext, Attributes: direntry.AttrDirectory,
		FirstCluster: newCluster, CreatedAt: now, ModifiedAt: now, AccessedAt: now,
	}

	need := direntry.SlotsNeeded(longName)
	slot, raw, err := fs.findFreeSlot(&parentLoc, raw, need)
	if err != nil {
		return err
	}
	copy(raw[slot*direntry.DirentSize:], direntry.SerializeEntry(short, longName, fs.codec))
	return fs.writeDirLocation(parentLoc, raw)
}

// Remove deletes the directory entry at filePath. For files, its cluster
// chain is freed; for (empty) directories, its single reserved cluster is
// freed as well. Non-empty directories return ErrDirectoryNotEmpty.
func (fs *FileSystem) Remove(filePath string) error {
	if fs.readOnly() {
		return fatfserrors.ErrReadOnlyFileSystem
	}

	entry, loc, raw, err := fs.lookup(filePath)
	if err != nil {
		return err
	}

	if entry.IsDirectory() {
		children, err := fs.ReadDir(filePath)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fatfserrors.ErrDirectoryNotEmpty
		}
	}

	if entry.Short.FirstCluster != 0 {
		if _, err := fs.tbl.TruncateChain(entry.Short.FirstCluster, 0); err != nil {
			return err
		}
	}

	direntry.MarkDeleted(raw, &entry)
	return fs.writeDirLocation(loc, raw)
}

// Rename moves the entry at oldPath to newPath, which must not already
// exist. Both paths must resolve to directories that already exist; the
// short/long name is recomputed for the destination directory so
// collisions there are detected the same way Create's are.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	if fs.readOnly() {
		return fatfserrors.ErrReadOnlyFileSystem
	}

	entry, oldLoc, oldRaw, err := fs.lookup(oldPath)
	if err != nil {
		return err
	}

	newLoc, newName, err := fs.resolveParentDir(newPath)
	if err != nil {
		return err
	}
	newRaw, err := fs.readDirLocation(newLoc)
	if err != nil {
		return err
	}
	siblings, err := direntry.ReadDir(newRaw, fs.codec)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if strings.EqualFold(s.DisplayName(), newName) {
			return fatfserrors.ErrAlreadyExists
		}
	}

	shortName, ext := shortNameFor(newName, siblings)
	longName := ""
	if needsShortening(newName) {
		longName = newName
	}
	entry.Short.Name = shortName
	entry.Short.Ext = ext

	need := direntry.SlotsNeeded(longName)
	slot, newRaw, err := fs.findFreeSlot(&newLoc, newRaw, need)
	if err != nil {
		return err
	}
	copy(newRaw[slot*direntry.DirentSize:], direntry.SerializeEntry(entry.Short, longName, fs.codec))
	if newLoc == oldLoc {
		// Same directory: oldRaw predates the new entry, so retire the old
		// slots in newRaw and write the directory once.
		direntry.MarkDeleted(newRaw, &entry)
		return fs.writeDirLocation(newLoc, newRaw)
	}
	if err := fs.writeDirLocation(newLoc, newRaw); err != nil {
		return err
	}

	direntry.MarkDeleted(oldRaw, &entry)
	return fs.writeDirLocation(oldLoc, oldRaw)
}

// Chmod updates the FAT attribute bits (read-only/hidden/system/archive)
// of the entry at filePath, a direct extension of the directory layer
// the teacher's other drivers expose as Chmod (driver/driver.go).
func (fs *FileSystem) Chmod(filePath string, attrs uint8) error {
	if fs.readOnly() {
		return fatfserrors.ErrReadOnlyFileSystem
	}
	entry, loc, raw, err := fs.lookup(filePath)
	if err != nil {
		return err
	}
	const mutable = direntry.AttrReadOnly | direntry.AttrHidden | direntry.AttrSystem | direntry.AttrArchive
	entry.Short.Attributes = (entry.Short.Attributes &^ mutable) | (attrs & mutable)
	copy(raw[entry.SlotOffset*direntry.DirentSize:], direntry.SerializeEntry(entry.Short, entry.LongName, fs.codec))
	return fs.writeDirLocation(loc, raw)
}

// Chtimes updates the modified/accessed timestamps of the entry at
// filePath, clamped to the FAT epoch (1980-01-01) per spec §3 timestamp
// range.
func (fs *FileSystem) Chtimes(filePath string, modifiedAt, accessedAt time.Time) error {
	if fs.readOnly() {
		return fatfserrors.ErrReadOnlyFileSystem
	}
	entry, loc, raw, err := fs.lookup(filePath)
	if err != nil {
		return err
	}
	entry.Short.ModifiedAt = modifiedAt
	entry.Short.AccessedAt = accessedAt
	copy(raw[entry.SlotOffset*direntry.DirentSize:], direntry.SerializeEntry(entry.Short, entry.LongName, fs.codec))
	return fs.writeDirLocation(loc, raw)
}

// joinPath joins a directory path and a child name. Nothing in this
// module calls it at present.
func joinPath(dir, name string) string {
	return path.Join(dir, name)
}

// WriteFile creates filePath (it must not already exist) and writes data
// to it in one step, persisting the resulting first-cluster and size
// back into its directory entry.
func (fs *FileSystem) WriteFile(filePath string, data []byte, attrs uint8) error {
	stream, err := fs.Create(filePath, attrs)
	if err != nil {
		return err
	}
	if _, err := stream.Write(data); err != nil {
		return err
	}
	return fs.persistSize(filePath, stream.FirstCluster(), stream.Size())
}

// ReadFile opens filePath and reads its entire contents.
func (fs *FileSystem) ReadFile(filePath string) ([]byte, error) {
	stream, err := fs.Open(filePath)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, stream.Size())
	total := 0
	for total < len(buf) {
		n, err := stream.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				break
			}
			return nil, err
		}
	}
	return buf, nil
}
