// Package fatfs assembles the FAT engine, directory layer, file stream,
// and recovery engine behind one facade: Mount, FormatAndMount, ReadDir,
// Unmount, Recovery, ClusterMap, and Stats, per spec §4.6.
//
// Its shape follows the teacher's root-level API (MountFlags, FSStat,
// FSFeatures in the original api.go/flags.go) generalized from a
// driver-per-filesystem abstraction down to the single FAT-only surface
// this module provides.
package fatfs

import (
	"math"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/cluster"
	"github.com/go-fatfs/fatfs/device"
	"github.com/go-fatfs/fatfs/direntry"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
	"github.com/go-fatfs/fatfs/format"
	"github.com/go-fatfs/fatfs/recovery"
	"github.com/go-fatfs/fatfs/table"
)

// MountFlags controls what operations a mounted FileSystem permits,
// mirroring the teacher's MountFlags bit-flag design (api.go) scaled
// down to what a single-format, single-threaded library needs.
type MountFlags int

const (
	MountReadOnly  = MountFlags(1 << iota)
	MountReadWrite = MountFlags(1 << iota)
)

// MountOptions configures Mount. TimeProvider and CodePage default to
// device.SystemClock{} and device.ASCIICodePage{} respectively when left
// as their zero value (nil).
type MountOptions struct {
	Flags        MountFlags
	TimeProvider device.TimeProvider
	CodePage     device.CodePageConverter

	// UpdateAccessedDate, when true, stamps a file's AccessedAt with the
	// mount's TimeProvider every time Open reads it (spec §4.6
	// update_accessed_date). Off by default, since stamping on every
	// read costs a directory-entry rewrite.
	UpdateAccessedDate bool
}

// FSStat is the platform-independent volume statistics struct Stats()
// returns, modeled on the teacher's FSStat (api.go).
type FSStat struct {
	BlockSize     int64
	TotalBlocks   uint64
	BlocksFree    uint64
	Files         uint64
	FilesFree     uint64
	MaxNameLength int64
	Label         string
}

// ClusterTag classifies one cluster for the cluster_map debug view
// (spec §4.6).
type ClusterTag int

const (
	TagFree ClusterTag = iota
	TagReserved
	TagFATRegion
	TagDirectory
	TagFile
)

// ClusterInfo is one entry of the ClusterMap debug view.
type ClusterInfo struct {
	Cluster uint32
	Tag     ClusterTag
	Name    string // file or directory name, if Tag is TagDirectory/TagFile
}

// FileSystem is a mounted FAT volume. It is not safe for concurrent use
// from multiple goroutines without external synchronization, matching
// spec §5's single-threaded design.
type FileSystem struct {
	dev            device.Device
	bs             *bpb.BootSector
	tbl            *table.Table
	io             *cluster.IO
	clock          device.TimeProvider
	codec          device.CodePageConverter
	flags          MountFlags
	updateAccessed bool
}

// Mount reads the boot sector from dev and prepares a FileSystem for
// use. dev must already contain a formatted FAT volume; use Format to
// create one first.
func Mount(dev device.Device, opts MountOptions) (*FileSystem, error) {
	bs, err := bpb.Parse(dev)
	if err != nil {
		return nil, err
	}

	fatBytes := int64(bs.SectorsPerFAT) * int64(bs.BytesPerSector)
	fatOffsets := make([]int64, bs.NumFATs)
	for i := uint8(0); i < bs.NumFATs; i++ {
		fatOffsets[i] = bs.SectorOffset(bs.FirstFATSector) + int64(i)*fatBytes
	}

	tbl, err := table.Load(dev, bs.Variant, bs.TotalClusters, fatOffsets, fatBytes)
	if err != nil {
		return nil, err
	}

	clock := opts.TimeProvider
	if clock == nil {
		clock = device.SystemClock{}
	}
	codec := opts.CodePage
	if codec == nil {
		codec = device.ASCIICodePage{}
	}
	flags := opts.Flags
	if flags == 0 {
		flags = MountReadWrite
	}

	return &FileSystem{
		dev:            dev,
		bs:             bs,
		tbl:            tbl,
		io:             cluster.New(dev, bs),
		clock:          clock,
		codec:          codec,
		flags:          flags,
		updateAccessed: opts.UpdateAccessedDate,
	}, nil
}

// FormatAndMount formats dev per opts and immediately mounts the result,
// a convenience wrapper around format.Format + Mount used heavily by
// tests.
func FormatAndMount(dev device.Device, opts format.Options) (*FileSystem, error) {
	if _, err := format.Format(dev, opts); err != nil {
		return nil, err
	}
	return Mount(dev, MountOptions{})
}

// readOnly reports whether writes should be rejected.
func (fs *FileSystem) readOnly() bool {
	return fs.flags&MountReadWrite == 0
}

// rootDirectoryBytes reads the entire root directory: the fixed-size
// region for FAT12/16, or the chained clusters for FAT32.
func (fs *FileSystem) rootDirectoryBytes() ([]byte, error) {
	if fs.bs.Variant != bpb.Variant32 {
		size := fs.bs.RootDirSectors * uint32(fs.bs.BytesPerSector)
		buf := make([]byte, size)
		offset := fs.bs.SectorOffset(fs.bs.RootDirSector())
		if _, err := fs.dev.Seek(offset, 0); err != nil {
			return nil, fatfserrors.ErrIO.WrapError(err)
		}
		if err := readFull(fs.dev, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return fs.readDirectoryChain(fs.bs.RootCluster)
}

func (fs *FileSystem) readDirectoryChain(firstCluster uint32) ([]byte, error) {
	chain, err := fs.tbl.FollowChain(firstCluster)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(chain)*int(fs.bs.BytesPerCluster))
	for _, c := range chain {
		data, err := fs.io.ReadCluster(c)
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)
	}
	return buf, nil
}

// ReadDir lists the entries of the directory at dirPath ("/" for the
// root), reassembling LFN names and skipping the `.`/`..` pseudo-entries.
func (fs *FileSystem) ReadDir(dirPath string) ([]direntry.Entry, error) {
	raw, err := fs.resolveDirectoryBytes(dirPath)
	if err != nil {
		return nil, err
	}
	entries, err := direntry.ReadDir(raw, fs.codec)
	if err != nil {
		return nil, err
	}

	visible := entries[:0]
	for _, e := range entries {
		if e.Short.Attributes&direntry.AttrVolumeID != 0 {
			continue
		}
		if e.Short.Name == "." || e.Short.Name == ".." {
			continue
		}
		visible = append(visible, e)
	}
	return visible, nil
}

func (fs *FileSystem) resolveDirectoryBytes(dirPath string) ([]byte, error) {
	clean := path.Clean("/" + dirPath)
	if clean == "/" || clean == "." {
		return fs.rootDirectoryBytes()
	}

	parts := strings.Split(strings.Trim(clean, "/"), "/")
	raw, err := fs.rootDirectoryBytes()
	if err != nil {
		return nil, err
	}

	var current uint32
	for _, part := range parts {
		entries, err := direntry.ReadDir(raw, fs.codec)
		if err != nil {
			return nil, err
		}
		found := false
		for _, e := range entries {
			if strings.EqualFold(e.DisplayName(), part) && e.IsDirectory() {
				current = e.Short.FirstCluster
				found = true
				break
			}
		}
		if !found {
			return nil, fatfserrors.ErrNotFound.WithMessage("no such directory: " + part)
		}
		raw, err = fs.readDirectoryChain(current)
		if err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// Stats reports volume-level statistics, per spec §4.6 stats().
func (fs *FileSystem) Stats() FSStat {
	free := fs.tbl.CountFree()
	maxName := int64(255) // LFN limit
	return FSStat{
		BlockSize:     int64(fs.bs.BytesPerCluster),
		TotalBlocks:   uint64(fs.bs.TotalClusters),
		BlocksFree:    uint64(free),
		Files:         0,
		FilesFree:     math.MaxUint64,
		MaxNameLength: maxName,
		Label:         fs.bs.VolumeLabel,
	}
}

// ClusterMap returns a per-cluster debug view: each data cluster tagged
// as Free, belonging to the FAT/reserved region, or belonging to a named
// file or directory, per spec §4.6 cluster_map().
func (fs *FileSystem) ClusterMap() ([]ClusterInfo, error) {
	owners := make(map[uint32]string)
	dirOwners := make(map[uint32]bool)

	var walk func(firstCluster uint32, raw []byte) error
	walk = func(firstCluster uint32, raw []byte) error {
		entries, err := direntry.ReadDir(raw, fs.codec)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Short.Name == "." || e.Short.Name == ".." {
				continue
			}
			if e.Short.FirstCluster == 0 {
				continue
			}
			chain, err := fs.tbl.FollowChain(e.Short.FirstCluster)
			if err != nil {
				continue
			}
			for _, c := range chain {
				owners[c] = e.DisplayName()
				if e.IsDirectory() {
					dirOwners[c] = true
				}
			}
			if e.IsDirectory() {
				childRaw, err := fs.readDirectoryChain(e.Short.FirstCluster)
				if err == nil {
					_ = walk(e.Short.FirstCluster, childRaw)
				}
			}
		}
		return nil
	}

	rootRaw, err := fs.rootDirectoryBytes()
	if err != nil {
		return nil, err
	}
	if err := walk(fs.bs.RootCluster, rootRaw); err != nil {
		return nil, err
	}

	var result []ClusterInfo
	total := fs.bs.TotalClusters + 2
	for c := uint32(2); c < total; c++ {
		_, state, err := fs.tbl.Get(c)
		if err != nil {
			continue
		}
		info := ClusterInfo{Cluster: c}
		switch {
		case state == table.StateFree:
			info.Tag = TagFree
		case state == table.StateReserved || state == table.StateBad:
			info.Tag = TagReserved
		default:
			if name, ok := owners[c]; ok {
				info.Name = name
				if dirOwners[c] {
					info.Tag = TagDirectory
				} else {
					info.Tag = TagFile
				}
			} else {
				info.Tag = TagFATRegion
			}
		}
		result = append(result, info)
	}
	return result, nil
}

// Recovery runs the cluster-carving recovery engine over this volume's
// free clusters, per spec §4.5.
func (fs *FileSystem) Recovery(factory recovery.Factory, minClusters, maxClusters int) ([]recovery.RecoveredFile, error) {
	return recovery.Recover(fs.io, fs.tbl, factory, recovery.Options{
		MinClusters: minClusters,
		MaxClusters: maxClusters,
	})
}

// Unmount flushes the FAT (all copies) and the underlying device. Every
// independent failure is collected rather than stopping at the first,
// mirroring the teacher's practice (and go-multierror's purpose) of
// never hiding a partial failure behind a single returned error.
func (fs *FileSystem) Unmount() error {
	var errs *multierror.Error
	if err := fs.tbl.Flush(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := fs.dev.Flush(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func readFull(dev device.Device, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := dev.Read(buf[total:])
		total += n
		if err != nil {
			return fatfserrors.ErrIO.WrapError(err)
		}
		if n == 0 {
			return fatfserrors.ErrUnexpectedEOF
		}
	}
	return nil
}
