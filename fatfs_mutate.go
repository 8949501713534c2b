package fatfs

import (
	"path"
	"strings"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/direntry"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
	"github.com/go-fatfs/fatfs/filestream"
)

// dirLocation identifies where a directory's raw bytes live: either the
// fixed-size FAT12/16 root region (isFixedRoot true, no cluster chain) or
// a normal cluster-chain directory (isFixedRoot false, firstCluster set).
type dirLocation struct {
	isFixedRoot bool
	firstCluster uint32
}

func (fs *FileSystem) resolveParentDir(filePath string) (dirLocation, string, error) {
	clean := path.Clean("/" + filePath)
	parent, name := path.Split(clean)
	name = strings.Trim(name, "/")
	if name == "" {
		return dirLocation{}, "", fatfserrors.ErrInvalidInput.WithMessage("empty file name")
	}

	parent = strings.Trim(parent, "/")
	if parent == "" {
		if fs.bs.Variant != bpb.Variant32 {
			return dirLocation{isFixedRoot: true}, name, nil
		}
		return dirLocation{firstCluster: fs.bs.RootCluster}, name, nil
	}

	loc := dirLocation{firstCluster: fs.bs.RootCluster}
	raw, err := fs.rootDirectoryBytes()
	if err != nil {
		return dirLocation{}, "", err
	}
	for _, part := range strings.Split(parent, "/") {
		entries, err := direntry.ReadDir(raw, fs.codec)
		if err != nil {
			return dirLocation{}, "", err
		}
		found := false
		for _, e := range entries {
			if strings.EqualFold(e.DisplayName(), part) && e.IsDirectory() {
				loc.firstCluster = e.Short.FirstCluster
				found = true
				break
			}
		}
		if !found {
			return dirLocation{}, "", fatfserrors.ErrNotFound.WithMessage("no such directory: " + part)
		}
		raw, err = fs.readDirectoryChain(loc.firstCluster)
		if err != nil {
			return dirLocation{}, "", err
		}
	}
	return loc, name, nil
}

func (fs *FileSystem) readDirLocation(loc dirLocation) ([]byte, error) {
	if loc.isFixedRoot {
		return fs.rootDirectoryBytes()
	}
	return fs.readDirectoryChain(loc.firstCluster)
}

func (fs *FileSystem) writeDirLocation(loc dirLocation, raw []byte) error {
	if loc.isFixedRoot {
		offset := fs.bs.SectorOffset(fs.bs.RootDirSector())
		if _, err := fs.dev.Seek(offset, 0); err != nil {
			return fatfserrors.ErrIO.WrapError(err)
		}
		if _, err := fs.dev.Write(raw); err != nil {
			return fatfserrors.ErrIO.WrapError(err)
		}
		return nil
	}

	chain, err := fs.tbl.FollowChain(loc.firstCluster)
	if err != nil {
		return err
	}
	for i, c := range chain {
		start := i * int(fs.bs.BytesPerCluster)
		end := start + int(fs.bs.BytesPerCluster)
		if end > len(raw) {
			end = len(raw)
		}
		if start >= len(raw) {
			break
		}
		if err := fs.io.WriteCluster(c, raw[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// growDirectory appends one more cluster to a non-fixed-root directory,
// zeroing it, and returns the grown raw bytes. Fixed-size FAT12/16 roots
// cannot grow (spec §9 decision (c)): overflow is ErrNotEnoughSpace.
func (fs *FileSystem) growDirectory(loc *dirLocation, raw []byte) ([]byte, error) {
	if loc.isFixedRoot {
		return nil, fatfserrors.ErrNotEnoughSpace.WithMessage("root directory is full")
	}
	chain, err := fs.tbl.FollowChain(loc.firstCluster)
	if err != nil {
		return nil, err
	}
	tail := chain[len(chain)-1]
	newTail, err := fs.tbl.ExtendChain(tail, 1)
	if err != nil {
		return nil, err
	}
	if err := fs.io.ZeroCluster(newTail); err != nil {
		return nil, err
	}
	return fs.readDirectoryChain(loc.firstCluster)
}

func (fs *FileSystem) findFreeSlot(loc *dirLocation, raw []byte, need int) (int, []byte, error) {
	bm := direntry.FreeSlotBitmap(raw)
	slotCount := len(raw) / direntry.DirentSize
	start, err := direntry.FindFreeRun(bm, slotCount, need)
	if err == nil {
		return start, raw, nil
	}
	grown, growErr := fs.growDirectory(loc, raw)
	if growErr != nil {
		return 0, nil, err
	}
	bm = direntry.FreeSlotBitmap(grown)
	slotCount = len(grown) / direntry.DirentSize
	start, err = direntry.FindFreeRun(bm, slotCount, need)
	if err != nil {
		return 0, nil, err
	}
	return start, grown, nil
}

// shortNameFor derives an 8.3 short name for longName, applying the
// "first 6 chars + ~1" collision-avoidance convention when longName
// doesn't already fit 8.3, bumping the numeric tail until no existing
// entry in siblings collides.
func shortNameFor(longName string, siblings []direntry.Entry) (name, ext string) {
	base := longName
	ext = ""
	if idx := strings.LastIndex(longName, "."); idx > 0 {
		base = longName[:idx]
		ext = strings.ToUpper(sanitizeShort(longName[idx+1:], 3))
	}
	base = sanitizeShort(base, 8)

	if len(strings.TrimSpace(base)) <= 8 && !needsShortening(longName) {
		return strings.ToUpper(base), ext
	}

	for n := 1; n < 1_000_000; n++ {
		suffix := tildeSuffix(n)
		truncated := base
		if len(truncated) > 8-len(suffix) {
			truncated = truncated[:8-len(suffix)]
		}
		candidate := strings.ToUpper(truncated + suffix)
		collides := false
		for _, s := range siblings {
			if s.Short.Name == candidate && s.Short.Ext == ext {
				collides = true
				break
			}
		}
		if !collides {
			return candidate, ext
		}
	}
	return strings.ToUpper(base), ext
}

func needsShortening(longName string) bool {
	return strings.ContainsAny(longName, " +,;=[]") || len(longName) > 12
}

func tildeSuffix(n int) string {
	return "~" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func sanitizeShort(s string, maxLen int) string {
	var out []byte
	for _, r := range s {
		if r == '.' || r == ' ' {
			continue
		}
		out = append(out, byte(r))
		if len(out) >= maxLen {
			break
		}
	}
	return string(out)
}

// Create makes a new zero-length file at filePath with the given
// attributes, returning a writable Stream. The directory (or root) must
// already exist; intermediate directories are not created implicitly.
func (fs *FileSystem) Create(filePath string, attrs uint8) (*filestream.Stream, error) {
	if fs.readOnly() {
		return nil, fatfserrors.ErrReadOnlyFileSystem
	}

	loc, name, err := fs.resolveParentDir(filePath)
	if err != nil {
		return nil, err
	}

	raw, err := fs.readDirLocation(loc)
	if err != nil {
		return nil, err
	}
	siblings, err := direntry.ReadDir(raw, fs.codec)
	if err != nil {
		return nil, err
	}
	for _, s := range siblings {
		if strings.EqualFold(s.DisplayName(), name) {
			return nil, fatfserrors.ErrAlreadyExists
		}
	}

	shortName, ext := shortNameFor(name, siblings)
	longName := ""
	if needsShortening(name) {
		longName = name
	}

	now := fs.clock.Now()
	short := direntry.ShortEntry{
		Name:       shortName,
		Ext:        ext,
		Attributes: attrs,
		CreatedAt:  now,
		ModifiedAt: now,
		AccessedAt: now,
	}

	need := direntry.SlotsNeeded(longName)
	slot, raw, err := fs.findFreeSlot(&loc, raw, need)
	if err != nil {
		return nil, err
	}

	serialized := direntry.SerializeEntry(short, longName, fs.codec)
	copy(raw[slot*direntry.DirentSize:], serialized)
	if err := fs.writeDirLocation(loc, raw); err != nil {
		return nil, err
	}

	return filestream.Open(fs.io, fs.tbl, 0, 0)
}
