// Package bpb parses and serializes the FAT boot sector / BIOS Parameter
// Block, and classifies a volume as FAT12, FAT16, or FAT32 from its data
// cluster count, per spec §2.2 and §4.7.
//
// Field offsets follow the Microsoft Extensible Firmware Initiative
// FAT32 File System Specification v1.03, cross-checked against the byte
// offsets in _examples/soypat-fat/tables.go (an independent from-scratch
// implementation in the pack) since the teacher's own
// file_systems/fat/common.go only reads the fields common to all three
// variants.
package bpb

import (
	"encoding/binary"
	"fmt"

	"github.com/go-fatfs/fatfs/device"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
)

// Variant identifies which of the three on-disk FAT encodings a volume
// uses.
type Variant int

const (
	Variant12 Variant = 12
	Variant16 Variant = 16
	Variant32 Variant = 32
)

func (v Variant) String() string {
	switch v {
	case Variant12:
		return "FAT12"
	case Variant16:
		return "FAT16"
	case Variant32:
		return "FAT32"
	default:
		return fmt.Sprintf("FAT(unknown %d)", int(v))
	}
}

// Byte offsets into the 512-byte boot sector, shared by all three
// variants (BS_jmpBoot through BPB_TotSec32).
const (
	offJmpBoot         = 0
	offOEMName         = 3
	offBytesPerSector  = 11
	offSectorsPerClust = 13
	offReservedSectors = 14
	offNumFATs         = 16
	offRootEntryCount  = 17
	offTotalSectors16  = 19
	offMedia           = 21
	offSectorsPerFAT16 = 22
	offSectorsPerTrack = 24
	offNumHeads        = 26
	offHiddenSectors   = 28
	offTotalSectors32  = 32

	// FAT32-only fields, overlapping the FAT12/16 BS_DrvNum..BS_FilSysType
	// region.
	offSectorsPerFAT32 = 36
	offExtFlags32      = 40
	offFSVersion32     = 42
	offRootCluster32   = 44
	offFSInfoSector32  = 48
	offBackupBootSec32 = 50
	offDriveNumber32   = 64
	offBootSig32       = 66
	offVolumeID32      = 67
	offVolumeLabel32   = 71
	offFileSysType32   = 82

	// FAT12/16-only fields (same offsets FAT32 uses for its extended BPB).
	offDriveNumber1216 = 36
	offBootSig1216     = 38
	offVolumeID1216    = 39
	offVolumeLabel1216 = 43
	offFileSysType1216 = 54

	offSignatureWord = 510

	bootSectorSize = 512
	signatureWord  = 0xAA55

	// FSInfo sector offsets and signatures, per spec §6.
	fsInfoLeadSig  = 0
	fsInfoStrucSig = 484
	fsInfoFreeCnt  = 488
	fsInfoNextFree = 492
	fsInfoTrailSig = 508

	FSInfoLeadSignature  = 0x41615252
	FSInfoStrucSignature = 0x61417272
	FSInfoTrailSignature = 0xAA550000
)

// BootSector holds the parsed boot sector together with derived geometry
// values computed once at mount time, matching the teacher's
// FATBootSector (RawFATBootSectorWithBPB plus precomputed fields).
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	Media             uint8
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors      uint32
	SectorsPerFAT     uint32
	VolumeID          uint32
	VolumeLabel       string

	// FAT32 only.
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16

	// Derived fields.
	Variant           Variant
	RootDirSectors    uint32
	FirstDataSector   uint32
	FirstFATSector    uint32
	TotalDataSectors  uint32
	TotalClusters     uint32
	BytesPerCluster   uint32
	DirentsPerCluster int
}

// DetermineVariant classifies a volume from its data-cluster count, per
// Microsoft's FAT spec v1.03 page 14 (reproduced verbatim by both the
// teacher's DetermineFATVersion and soypat-fat's clustMaxFAT* constants).
func DetermineVariant(totalDataClusters uint32) Variant {
	if totalDataClusters < 4085 {
		return Variant12
	}
	if totalDataClusters < 65525 {
		return Variant16
	}
	return Variant32
}

// Parse reads and decodes the boot sector at the start of dev.
func Parse(dev device.Device) (*BootSector, error) {
	if _, err := dev.Seek(0, 0); err != nil {
		return nil, fatfserrors.ErrIO.WrapError(err)
	}

	raw := make([]byte, bootSectorSize)
	if _, err := readFull(dev, raw); err != nil {
		return nil, fatfserrors.ErrIO.WrapError(err)
	}

	if binary.LittleEndian.Uint16(raw[offSignatureWord:]) != signatureWord {
		return nil, fatfserrors.ErrCorruptedFileSystem.WithMessage(
			"missing 0x55AA boot sector signature")
	}

	bs := &BootSector{
		BytesPerSector:    binary.LittleEndian.Uint16(raw[offBytesPerSector:]),
		SectorsPerCluster: raw[offSectorsPerClust],
		ReservedSectors:   binary.LittleEndian.Uint16(raw[offReservedSectors:]),
		NumFATs:           raw[offNumFATs],
		RootEntryCount:    binary.LittleEndian.Uint16(raw[offRootEntryCount:]),
		Media:             raw[offMedia],
		SectorsPerTrack:   binary.LittleEndian.Uint16(raw[offSectorsPerTrack:]),
		NumHeads:          binary.LittleEndian.Uint16(raw[offNumHeads:]),
		HiddenSectors:     binary.LittleEndian.Uint32(raw[offHiddenSectors:]),
	}

	if err := validateGeometry(bs); err != nil {
		return nil, err
	}

	totalSectors16 := binary.LittleEndian.Uint16(raw[offTotalSectors16:])
	totalSectors32 := binary.LittleEndian.Uint32(raw[offTotalSectors32:])
	if totalSectors16 != 0 {
		bs.TotalSectors = uint32(totalSectors16)
	} else {
		bs.TotalSectors = totalSectors32
	}

	sectorsPerFAT16 := binary.LittleEndian.Uint16(raw[offSectorsPerFAT16:])
	if sectorsPerFAT16 != 0 {
		bs.SectorsPerFAT = uint32(sectorsPerFAT16)
		bs.VolumeID = binary.LittleEndian.Uint32(raw[offVolumeID1216:])
		bs.VolumeLabel = trimLabel(raw[offVolumeLabel1216 : offVolumeLabel1216+11])
	} else {
		bs.SectorsPerFAT = binary.LittleEndian.Uint32(raw[offSectorsPerFAT32:])
		bs.RootCluster = binary.LittleEndian.Uint32(raw[offRootCluster32:])
		bs.FSInfoSector = binary.LittleEndian.Uint16(raw[offFSInfoSector32:])
		bs.BackupBootSector = binary.LittleEndian.Uint16(raw[offBackupBootSec32:])
		bs.VolumeID = binary.LittleEndian.Uint32(raw[offVolumeID32:])
		bs.VolumeLabel = trimLabel(raw[offVolumeLabel32 : offVolumeLabel32+11])
	}

	bs.RootDirSectors = (uint32(bs.RootEntryCount)*32 + uint32(bs.BytesPerSector) - 1) /
		uint32(bs.BytesPerSector)

	totalFATSectors := uint32(bs.NumFATs) * bs.SectorsPerFAT
	bs.FirstFATSector = uint32(bs.ReservedSectors)
	bs.FirstDataSector = uint32(bs.ReservedSectors) + totalFATSectors + bs.RootDirSectors

	bs.TotalDataSectors = bs.TotalSectors - bs.FirstDataSector
	bs.BytesPerCluster = uint32(bs.BytesPerSector) * uint32(bs.SectorsPerCluster)
	if bs.SectorsPerCluster == 0 || bs.BytesPerCluster == 0 {
		return nil, fatfserrors.ErrCorruptedFileSystem.WithMessage(
			"SectorsPerCluster must be nonzero")
	}
	bs.TotalClusters = bs.TotalDataSectors / uint32(bs.SectorsPerCluster)
	bs.DirentsPerCluster = int(bs.BytesPerCluster) / 32

	bs.Variant = DetermineVariant(bs.TotalClusters)
	if bs.Variant == Variant32 && bs.RootDirSectors != 0 {
		return nil, fatfserrors.ErrCorruptedFileSystem.WithMessage(
			"root directory sector count must be zero on FAT32")
	}
	if bs.Variant != Variant32 && bs.RootCluster != 0 {
		return nil, fatfserrors.ErrCorruptedFileSystem.WithMessage(
			"non-FAT32 volume must not declare a root cluster")
	}

	return bs, nil
}

func validateGeometry(bs *BootSector) error {
	switch bs.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return fatfserrors.ErrCorruptedFileSystem.WithMessage(
			fmt.Sprintf("BytesPerSector must be 512/1024/2048/4096, got %d", bs.BytesPerSector))
	}

	switch bs.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return fatfserrors.ErrCorruptedFileSystem.WithMessage(
			fmt.Sprintf("SectorsPerCluster must be a power of 2 in [1,128], got %d", bs.SectorsPerCluster))
	}

	if bs.NumFATs == 0 {
		return fatfserrors.ErrCorruptedFileSystem.WithMessage("NumFATs must be nonzero")
	}

	bytesPerCluster := uint32(bs.BytesPerSector) * uint32(bs.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		return fatfserrors.ErrCorruptedFileSystem.WithMessage(
			fmt.Sprintf("BytesPerCluster cannot exceed 32768, got %d", bytesPerCluster))
	}
	return nil
}

// ClusterToSector converts a data cluster number into an absolute sector
// number, per spec §4.2: offset_of(c) = data_region_start + (c-2)*cluster_size.
func (bs *BootSector) ClusterToSector(cluster uint32) uint32 {
	return bs.FirstDataSector + (cluster-2)*uint32(bs.SectorsPerCluster)
}

// SectorOffset converts an absolute sector number into a byte offset.
func (bs *BootSector) SectorOffset(sector uint32) int64 {
	return int64(sector) * int64(bs.BytesPerSector)
}

// RootDirSector is the first sector of the fixed-size FAT12/16 root
// directory. It is meaningless on FAT32, where the root directory lives
// in a normal cluster chain starting at RootCluster.
func (bs *BootSector) RootDirSector() uint32 {
	return bs.FirstFATSector + uint32(bs.NumFATs)*bs.SectorsPerFAT
}

func trimLabel(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	return string(b[:i])
}

// Serialize encodes bs back into a 512-byte boot sector, for use by the
// format package when laying down a fresh volume. OEMName is fixed to
// "FATFS4.1" and BS_DrvNum/BootSig are set to the conventional 0x80/0x29
// the way the teacher's (nonexistent) formatter would have had to, had it
// supported write access to the boot sector at all.
func (bs *BootSector) Serialize() []byte {
	raw := make([]byte, bootSectorSize)

	raw[offJmpBoot] = 0xEB
	raw[offJmpBoot+1] = 0x58
	raw[offJmpBoot+2] = 0x90
	copy(raw[offOEMName:], "FATFS4.1")

	binary.LittleEndian.PutUint16(raw[offBytesPerSector:], bs.BytesPerSector)
	raw[offSectorsPerClust] = bs.SectorsPerCluster
	binary.LittleEndian.PutUint16(raw[offReservedSectors:], bs.ReservedSectors)
	raw[offNumFATs] = bs.NumFATs
	binary.LittleEndian.PutUint16(raw[offRootEntryCount:], bs.RootEntryCount)
	raw[offMedia] = bs.Media
	binary.LittleEndian.PutUint16(raw[offSectorsPerTrack:], bs.SectorsPerTrack)
	binary.LittleEndian.PutUint16(raw[offNumHeads:], bs.NumHeads)
	binary.LittleEndian.PutUint32(raw[offHiddenSectors:], bs.HiddenSectors)

	if bs.TotalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(raw[offTotalSectors16:], uint16(bs.TotalSectors))
	} else {
		binary.LittleEndian.PutUint32(raw[offTotalSectors32:], bs.TotalSectors)
	}

	if bs.Variant == Variant32 {
		binary.LittleEndian.PutUint32(raw[offSectorsPerFAT32:], bs.SectorsPerFAT)
		binary.LittleEndian.PutUint32(raw[offRootCluster32:], bs.RootCluster)
		binary.LittleEndian.PutUint16(raw[offFSInfoSector32:], bs.FSInfoSector)
		binary.LittleEndian.PutUint16(raw[offBackupBootSec32:], bs.BackupBootSector)
		raw[offDriveNumber32] = 0x80
		raw[offBootSig32] = 0x29
		binary.LittleEndian.PutUint32(raw[offVolumeID32:], bs.VolumeID)
		copy(raw[offVolumeLabel32:], padLabel(bs.VolumeLabel))
		copy(raw[offFileSysType32:], "FAT32   ")
	} else {
		binary.LittleEndian.PutUint16(raw[offSectorsPerFAT16:], uint16(bs.SectorsPerFAT))
		raw[offDriveNumber1216] = 0x80
		raw[offBootSig1216] = 0x29
		binary.LittleEndian.PutUint32(raw[offVolumeID1216:], bs.VolumeID)
		copy(raw[offVolumeLabel1216:], padLabel(bs.VolumeLabel))
		if bs.Variant == Variant12 {
			copy(raw[offFileSysType1216:], "FAT12   ")
		} else {
			copy(raw[offFileSysType1216:], "FAT16   ")
		}
	}

	binary.LittleEndian.PutUint16(raw[offSignatureWord:], signatureWord)
	return raw
}

// SerializeFSInfo encodes the FAT32 FSInfo sector. freeCount and nextFree
// are hints only (spec §6); a value of 0xFFFFFFFF means "unknown".
func SerializeFSInfo(freeCount, nextFree uint32) []byte {
	raw := make([]byte, bootSectorSize)
	binary.LittleEndian.PutUint32(raw[fsInfoLeadSig:], FSInfoLeadSignature)
	binary.LittleEndian.PutUint32(raw[fsInfoStrucSig:], FSInfoStrucSignature)
	binary.LittleEndian.PutUint32(raw[fsInfoFreeCnt:], freeCount)
	binary.LittleEndian.PutUint32(raw[fsInfoNextFree:], nextFree)
	binary.LittleEndian.PutUint32(raw[fsInfoTrailSig:], FSInfoTrailSignature)
	return raw
}

// ParseFSInfo decodes a FAT32 FSInfo sector previously produced by
// SerializeFSInfo (or read from a real volume).
func ParseFSInfo(raw []byte) (freeCount, nextFree uint32, err error) {
	if len(raw) < bootSectorSize {
		return 0, 0, fatfserrors.ErrCorruptedFileSystem.WithMessage("FSInfo sector too short")
	}
	if binary.LittleEndian.Uint32(raw[fsInfoLeadSig:]) != FSInfoLeadSignature ||
		binary.LittleEndian.Uint32(raw[fsInfoStrucSig:]) != FSInfoStrucSignature ||
		binary.LittleEndian.Uint32(raw[fsInfoTrailSig:]) != FSInfoTrailSignature {
		return 0, 0, fatfserrors.ErrCorruptedFileSystem.WithMessage("bad FSInfo signature")
	}
	freeCount = binary.LittleEndian.Uint32(raw[fsInfoFreeCnt:])
	nextFree = binary.LittleEndian.Uint32(raw[fsInfoNextFree:])
	return freeCount, nextFree, nil
}

func padLabel(label string) []byte {
	buf := []byte("           ")
	copy(buf, label)
	return buf
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fatfserrors.ErrUnexpectedEOF
		}
	}
	return total, nil
}
