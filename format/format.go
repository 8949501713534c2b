package format

import (
	"github.com/noxer/bytewriter"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/cluster"
	"github.com/go-fatfs/fatfs/device"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
	"github.com/go-fatfs/fatfs/table"
)

// Options parameterizes a Format call. Callers typically start from a
// NamedGeometry preset and only override what the use case needs.
type Options struct {
	TotalSectors      uint32
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16 // ignored for FAT32, which always uses a cluster-chain root
	Media             uint8
	VolumeLabel       string
	VolumeID          uint32
}

// FromGeometry builds Options from a named preset.
func FromGeometry(g Geometry) Options {
	return Options{
		TotalSectors:      g.TotalSectors,
		BytesPerSector:    g.BytesPerSector,
		SectorsPerCluster: g.SectorsPerCluster,
		ReservedSectors:   g.ReservedSectors,
		NumFATs:           g.NumFATs,
		RootEntryCount:    g.RootEntryCount,
		Media:             g.Media,
	}
}

// Result is what a successful Format call hands back, everything a
// caller needs to immediately mount the fresh volume without re-parsing
// the boot sector from disk.
type Result struct {
	BootSector *bpb.BootSector
	Table      *table.Table
	ClusterIO  *cluster.IO
}

// Format lays down a brand-new FAT volume on dev: a boot sector, NumFATs
// empty FATs (entries 0/1 holding the media byte and an end-of-chain
// value, plus the root cluster's end-of-chain on FAT32), an FSInfo sector
// and zeroed root-directory cluster for FAT32, or a zeroed fixed-size
// root directory region for FAT12/16, per spec §4.7.
func Format(dev device.Device, opts Options) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	rootDirSectors := (uint32(opts.RootEntryCount)*32 + uint32(opts.BytesPerSector) - 1) /
		uint32(opts.BytesPerSector)

	bytesPerCluster := uint32(opts.BytesPerSector) * uint32(opts.SectorsPerCluster)
	approxDataSectors := opts.TotalSectors - uint32(opts.ReservedSectors) - rootDirSectors
	approxClusters := approxDataSectors / uint32(opts.SectorsPerCluster)
	variant := bpb.DetermineVariant(approxClusters)

	sectorsPerFAT := sectorsPerFATFor(variant, approxClusters, opts)

	bs := &bpb.BootSector{
		BytesPerSector:    opts.BytesPerSector,
		SectorsPerCluster: opts.SectorsPerCluster,
		ReservedSectors:   opts.ReservedSectors,
		NumFATs:           opts.NumFATs,
		RootEntryCount:    opts.RootEntryCount,
		Media:             opts.Media,
		SectorsPerFAT:     sectorsPerFAT,
		TotalSectors:      opts.TotalSectors,
		VolumeID:          opts.VolumeID,
		VolumeLabel:       opts.VolumeLabel,
		Variant:           variant,
	}

	if variant == bpb.Variant32 {
		bs.RootEntryCount = 0
		bs.RootCluster = 2
		bs.FSInfoSector = 1
		bs.BackupBootSector = 6
		rootDirSectors = 0
	}

	bs.RootDirSectors = rootDirSectors
	totalFATSectors := uint32(bs.NumFATs) * bs.SectorsPerFAT
	bs.FirstFATSector = uint32(bs.ReservedSectors)
	bs.FirstDataSector = uint32(bs.ReservedSectors) + totalFATSectors + rootDirSectors
	bs.TotalDataSectors = bs.TotalSectors - bs.FirstDataSector
	bs.BytesPerCluster = bytesPerCluster
	bs.TotalClusters = bs.TotalDataSectors / uint32(bs.SectorsPerCluster)
	bs.DirentsPerCluster = int(bytesPerCluster) / 32

	if err := writeBootSector(dev, bs); err != nil {
		return nil, err
	}

	fatBytes := int64(bs.SectorsPerFAT) * int64(bs.BytesPerSector)
	fatOffsets := make([]int64, bs.NumFATs)
	for i := uint8(0); i < bs.NumFATs; i++ {
		fatOffsets[i] = bs.SectorOffset(bs.FirstFATSector) + int64(i)*fatBytes
	}

	tbl := table.NewBlank(dev, variant, bs.TotalClusters, fatOffsets, fatBytes, bs.Media)
	clusterIO := cluster.New(dev, bs)

	if variant == bpb.Variant32 {
		if err := tbl.MarkEndOfChain(bs.RootCluster); err != nil {
			return nil, err
		}
		if err := clusterIO.ZeroCluster(bs.RootCluster); err != nil {
			return nil, err
		}
		if err := writeFSInfo(dev, bs); err != nil {
			return nil, err
		}
	} else {
		if err := zeroRootDirectory(dev, bs); err != nil {
			return nil, err
		}
	}

	if err := tbl.Flush(); err != nil {
		return nil, err
	}
	if err := dev.Flush(); err != nil {
		return nil, fatfserrors.ErrIO.WrapError(err)
	}

	return &Result{BootSector: bs, Table: tbl, ClusterIO: clusterIO}, nil
}

func sectorsPerFATFor(variant bpb.Variant, approxClusters uint32, opts Options) uint32 {
	var bitsPerEntry uint32
	switch variant {
	case bpb.Variant12:
		bitsPerEntry = 12
	case bpb.Variant16:
		bitsPerEntry = 16
	default:
		bitsPerEntry = 32
	}
	entries := approxClusters + 2
	bytesNeeded := (entries*bitsPerEntry + 7) / 8
	sectors := (bytesNeeded + uint32(opts.BytesPerSector) - 1) / uint32(opts.BytesPerSector)
	if sectors == 0 {
		sectors = 1
	}
	return sectors
}

func validateOptions(opts Options) error {
	if opts.NumFATs == 0 {
		return fatfserrors.ErrInvalidInput.WithMessage("NumFATs must be at least 1")
	}
	if opts.SectorsPerCluster == 0 {
		return fatfserrors.ErrInvalidInput.WithMessage("SectorsPerCluster must be nonzero")
	}
	if opts.BytesPerSector == 0 {
		return fatfserrors.ErrInvalidInput.WithMessage("BytesPerSector must be nonzero")
	}
	if opts.TotalSectors == 0 {
		return fatfserrors.ErrInvalidInput.WithMessage("TotalSectors must be nonzero")
	}
	return nil
}

// writeBootSector serializes bs and writes it (and, for FAT32, its
// backup copy) to dev using a bounded writer over a pre-sized buffer --
// the same noxer/bytewriter pattern the teacher's format.go uses for
// assembling the superblock region before a single Write call.
func writeBootSector(dev device.Device, bs *bpb.BootSector) error {
	raw := bs.Serialize()
	buf := make([]byte, len(raw))
	w := bytewriter.New(buf)
	if _, err := w.Write(raw); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}

	if _, err := dev.Seek(0, 0); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	if _, err := dev.Write(buf); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}

	if bs.Variant == bpb.Variant32 && bs.BackupBootSector != 0 {
		if _, err := dev.Seek(bs.SectorOffset(uint32(bs.BackupBootSector)), 0); err != nil {
			return fatfserrors.ErrIO.WrapError(err)
		}
		if _, err := dev.Write(buf); err != nil {
			return fatfserrors.ErrIO.WrapError(err)
		}
	}
	return nil
}

func writeFSInfo(dev device.Device, bs *bpb.BootSector) error {
	raw := bpb.SerializeFSInfo(bs.TotalClusters, bs.RootCluster)
	if _, err := dev.Seek(bs.SectorOffset(uint32(bs.FSInfoSector)), 0); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	if _, err := dev.Write(raw); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	return nil
}

func zeroRootDirectory(dev device.Device, bs *bpb.BootSector) error {
	rootOffset := bs.SectorOffset(bs.RootDirSector())
	size := bs.RootDirSectors * uint32(bs.BytesPerSector)
	if _, err := dev.Seek(rootOffset, 0); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	if _, err := dev.Write(make([]byte, size)); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	return nil
}
