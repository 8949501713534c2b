// Package direntry implements the FAT directory layer: 32-byte short
// (8.3) entries, chained long-file-name (LFN) entries, the checksum that
// links an LFN chain to its short entry, and directory iteration,
// creation, rename, and deletion, per spec §4.4.
//
// The on-disk RawDirent layout and attribute-flag constants are adapted
// from the teacher's file_systems/fat/dirent.go; short-name checksum and
// case-conversion rules are grounded on _examples/soypat-fat/tables.go,
// since the teacher never implemented LFN at all (its dirent.go carries
// an explicit "TODO: Implement LFN support").
package direntry

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/boljen/go-bitmap"

	"github.com/go-fatfs/fatfs/device"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
)

// Attribute flags, identical on-disk meaning to the teacher's
// file_systems/fat/dirent.go constants.
const (
	AttrReadOnly   = 0x01
	AttrHidden     = 0x02
	AttrSystem     = 0x04
	AttrVolumeID   = 0x08
	AttrDirectory  = 0x10
	AttrArchive    = 0x20
	AttrLongName   = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
	AttrLongNameMask = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID | AttrDirectory | AttrArchive
)

// DirentSize is the size in bytes of every directory entry slot, short
// or LFN alike.
const DirentSize = 32

const (
	slotFree         = 0x00
	slotDeleted      = 0xE5
	escapedE5        = 0x05
	lfnLastFlag      = 0x40
	lfnOrdinalMask   = 0x3F
	maxShortNameLen  = 8
	maxShortExtLen   = 3
)

// fatEpoch is the earliest representable FAT timestamp, 1980-01-01.
var fatEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// ShortEntry is the decoded 8.3 directory entry, the anchor of every
// file or subdirectory (spec §3: one short entry per file, optionally
// preceded by LFN continuation entries).
type ShortEntry struct {
	Name         string // 8 chars, space-padded trimmed, upper-cased OEM name
	Ext          string // 3 chars
	Attributes   uint8
	FirstCluster uint32
	FileSize     uint32
	CreatedAt    time.Time
	ModifiedAt   time.Time
	AccessedAt   time.Time
	Deleted      bool
}

// Entry is one logical directory entry as exposed to callers: the short
// entry plus its optional long name and the slot range it occupies
// (needed to rewrite or delete it in place).
type Entry struct {
	Short      ShortEntry
	LongName   string // "" if no LFN chain was present
	SlotOffset int    // index of the first slot (LFN or short) within the directory
	SlotCount  int    // number of 32-byte slots consumed (LFN entries + 1)
}

// DisplayName is the long name if present, else the short 8.3 name
// reassembled as "NAME.EXT" (or just "NAME" with no extension).
func (e *Entry) DisplayName() string {
	if e.LongName != "" {
		return e.LongName
	}
	if e.Short.Ext == "" {
		return e.Short.Name
	}
	return e.Short.Name + "." + e.Short.Ext
}

// IsDirectory reports whether the entry's attribute bits mark it as a
// subdirectory.
func (e *Entry) IsDirectory() bool {
	return e.Short.Attributes&AttrDirectory != 0
}

// decodeOEMField decodes an n-byte OEM-code-page field (no escape
// handling) into its Unicode string, trimming trailing pad spaces, per
// spec §4.6's oem_cp_converter collaborator.
func decodeOEMField(raw []byte, codec device.CodePageConverter) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = codec.Decode(b)
	}
	return strings.TrimRight(string(runes), " ")
}

// encodeOEMField encodes s (right-padded to n) through codec into an
// n-byte OEM field, substituting '_' for runes the code page can't
// represent, matching the FAT convention CodePageConverter documents.
func encodeOEMField(s string, n int, codec device.CodePageConverter) []byte {
	padded := []rune(padRight(s, n))
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var r rune = ' '
		if i < len(padded) {
			r = padded[i]
		}
		b, ok := codec.Encode(r)
		if !ok {
			b = '_'
		}
		out[i] = b
	}
	return out
}

// decodeShort parses one 32-byte short-entry slot. The slot must not be
// free, deleted, or an LFN continuation; callers filter those first.
func decodeShort(raw []byte, codec device.CodePageConverter) ShortEntry {
	nameRunes := []rune(decodeOEMField(raw[0:8], codec))
	if raw[0] == escapedE5 && len(nameRunes) > 0 {
		nameRunes[0] = rune(0xE5)
	} else if raw[0] == escapedE5 {
		nameRunes = []rune{0xE5}
	}
	name := string(nameRunes)
	ext := decodeOEMField(raw[8:11], codec)

	attrs := raw[11]
	createMillis := raw[13]
	createTime := binary.LittleEndian.Uint16(raw[14:16])
	createDate := binary.LittleEndian.Uint16(raw[16:18])
	accessDate := binary.LittleEndian.Uint16(raw[18:20])
	firstClusterHigh := binary.LittleEndian.Uint16(raw[20:22])
	modTime := binary.LittleEndian.Uint16(raw[22:24])
	modDate := binary.LittleEndian.Uint16(raw[24:26])
	firstClusterLow := binary.LittleEndian.Uint16(raw[26:28])
	size := binary.LittleEndian.Uint32(raw[28:32])

	return ShortEntry{
		Name:         name,
		Ext:          ext,
		Attributes:   attrs,
		FirstCluster: uint32(firstClusterHigh)<<16 | uint32(firstClusterLow),
		FileSize:     size,
		CreatedAt:    timestampFromParts(createDate, createTime, createMillis),
		ModifiedAt:   timestampFromParts(modDate, modTime, 0),
		AccessedAt:   timestampFromParts(accessDate, 0, 0),
		Deleted:      raw[0] == slotDeleted,
	}
}

// encodeShort serializes a ShortEntry into a fresh 32-byte slot, routing
// the 8.3 name and extension through codec per spec §4.6's
// oem_cp_converter collaborator.
func encodeShort(e ShortEntry, codec device.CodePageConverter) []byte {
	raw := make([]byte, DirentSize)

	nameBytes := encodeOEMField(e.Name, maxShortNameLen, codec)
	if nameBytes[0] == 0xE5 {
		nameBytes[0] = escapedE5
	}
	copy(raw[0:8], nameBytes)
	copy(raw[8:11], encodeOEMField(e.Ext, maxShortExtLen, codec))

	raw[11] = e.Attributes

	createDate, createTime, createMillis := partsFromTimestamp(e.CreatedAt)
	modDate, modTime, _ := partsFromTimestamp(e.ModifiedAt)
	accessDate, _, _ := partsFromTimestamp(e.AccessedAt)

	raw[13] = createMillis
	binary.LittleEndian.PutUint16(raw[14:16], createTime)
	binary.LittleEndian.PutUint16(raw[16:18], createDate)
	binary.LittleEndian.PutUint16(raw[18:20], accessDate)
	binary.LittleEndian.PutUint16(raw[20:22], uint16(e.FirstCluster>>16))
	binary.LittleEndian.PutUint16(raw[22:24], modTime)
	binary.LittleEndian.PutUint16(raw[24:26], modDate)
	binary.LittleEndian.PutUint16(raw[26:28], uint16(e.FirstCluster&0xFFFF))
	binary.LittleEndian.PutUint32(raw[28:32], e.FileSize)

	return raw
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

func timestampFromParts(datePart, timePart uint16, hundredths uint8) time.Time {
	day := int(datePart & 0x1F)
	month := time.Month((datePart >> 5) & 0x0F)
	year := 1980 + int(datePart>>9)
	if day == 0 || month == 0 {
		return fatEpoch
	}

	seconds := int(timePart&0x1F) * 2
	minutes := int((timePart >> 5) & 0x3F)
	hours := int(timePart >> 11)
	nanos := int(hundredths) * 10_000_000

	return time.Date(year, month, day, hours, minutes, seconds, nanos, time.UTC)
}

func partsFromTimestamp(t time.Time) (date, clock uint16, hundredths uint8) {
	if t.Before(fatEpoch) {
		t = fatEpoch
	}
	date = uint16((t.Year()-1980)<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
	clock = uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)
	hundredths = uint8((t.Second() % 2) * 100)
	return date, clock, hundredths
}

// shortNameChecksum computes the single-byte checksum that links an LFN
// chain to its short entry: a rotate-right-and-add over the 11 raw name
// bytes, per the Microsoft FAT32 spec and soypat-fat/tables.go's
// identical algorithm.
func shortNameChecksum(name, ext string) uint8 {
	raw := []byte(padRight(name, 8) + padRight(ext, 3))
	var sum uint8
	for _, b := range raw {
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}

// encodeLFNEntries splits longName into a chain of 13-UCS2-char LFN
// slots, ordinal-descending with the first physical slot (last in
// directory-write order) carrying the 0x40 "last" flag, per spec §3.
func encodeLFNEntries(longName string, checksum uint8) [][]byte {
	units := utf16.Encode([]rune(longName))
	// Null-terminate and pad to a multiple of 13 with 0xFFFF, matching
	// the Microsoft convention so readers can tell where the name ends
	// within the final slot.
	units = append(units, 0)
	for len(units)%13 != 0 {
		units = append(units, 0xFFFF)
	}

	numSlots := len(units) / 13
	slots := make([][]byte, numSlots)
	for i := 0; i < numSlots; i++ {
		ordinal := uint8(i + 1)
		if i == numSlots-1 {
			ordinal |= lfnLastFlag
		}
		chunk := units[i*13 : i*13+13]
		slots[numSlots-1-i] = encodeLFNSlot(ordinal, chunk, checksum)
	}
	return slots
}

func encodeLFNSlot(ordinal uint8, chars []uint16, checksum uint8) []byte {
	raw := make([]byte, DirentSize)
	raw[0] = ordinal
	putUTF16Run(raw[1:11], chars[0:5])
	raw[11] = AttrLongName
	raw[12] = 0
	raw[13] = checksum
	putUTF16Run(raw[14:26], chars[5:11])
	binary.LittleEndian.PutUint16(raw[26:28], 0)
	putUTF16Run(raw[28:32], chars[11:13])
	return raw
}

func putUTF16Run(dst []byte, units []uint16) {
	for i, u := range units {
		binary.LittleEndian.PutUint16(dst[i*2:], u)
	}
}

// decodeLFNSlot extracts the ordinal, checksum, and 13 UCS-2 code units
// from one LFN slot.
func decodeLFNSlot(raw []byte) (ordinal uint8, last bool, checksum uint8, units []uint16) {
	ordinal = raw[0] & lfnOrdinalMask
	last = raw[0]&lfnLastFlag != 0
	checksum = raw[13]

	units = make([]uint16, 0, 13)
	units = append(units, getUTF16Run(raw[1:11])...)
	units = append(units, getUTF16Run(raw[14:26])...)
	units = append(units, getUTF16Run(raw[28:32])...)
	return ordinal, last, checksum, units
}

func getUTF16Run(src []byte) []uint16 {
	out := make([]uint16, len(src)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(src[i*2:])
	}
	return out
}

func decodeLFNName(slots [][]uint16) string {
	var all []uint16
	for _, s := range slots {
		all = append(all, s...)
	}
	for i, u := range all {
		if u == 0 {
			all = all[:i]
			break
		}
	}
	return string(utf16.Decode(all))
}

// ReadDir parses raw (a whole-directory byte buffer, either a fixed-size
// FAT12/16 root or a concatenation of a cluster chain's data) into the
// logical entries it contains, reassembling LFN chains and validating
// their checksum against the short entry that follows them. A checksum
// mismatch is treated as a corrupted LFN chain: the short entry is kept
// but reported under its 8.3 name only, matching how real FAT
// implementations fall back when LFN metadata doesn't match.
//
// codec decodes the 8.3 name/extension bytes per spec §4.6's
// oem_cp_converter; pass device.ASCIICodePage{} for the common case.
func ReadDir(raw []byte, codec device.CodePageConverter) ([]Entry, error) {
	var entries []Entry
	var pendingLFN [][]uint16
	var pendingChecksum uint8
	var havePending bool

	slotCount := len(raw) / DirentSize
	for i := 0; i < slotCount; i++ {
		slot := raw[i*DirentSize : (i+1)*DirentSize]
		switch slot[0] {
		case slotFree:
			return entries, nil
		case slotDeleted:
			pendingLFN = nil
			havePending = false
			continue
		}

		if slot[11]&AttrLongNameMask == AttrLongName {
			ordinal, last, checksum, units := decodeLFNSlot(slot)
			if last {
				pendingLFN = make([][]uint16, ordinal)
				pendingChecksum = checksum
				havePending = true
			}
			if havePending && int(ordinal) >= 1 && int(ordinal) <= len(pendingLFN) {
				pendingLFN[ordinal-1] = units
			}
			continue
		}

		short := decodeShort(slot, codec)
		entry := Entry{Short: short, SlotOffset: i, SlotCount: 1}

		if havePending && shortNameChecksum(short.Name, short.Ext) == pendingChecksum {
			complete := true
			for _, s := range pendingLFN {
				if s == nil {
					complete = false
					break
				}
			}
			if complete {
				entry.LongName = decodeLFNName(pendingLFN)
				entry.SlotOffset = i - len(pendingLFN)
				entry.SlotCount = len(pendingLFN) + 1
			}
		}
		pendingLFN = nil
		havePending = false

		entries = append(entries, entry)
	}
	return entries, nil
}

// SerializeEntry renders a ShortEntry plus optional long name back into
// a contiguous byte slice of (LFN slots..., short slot), ready to be
// written at SlotOffset. codec encodes the 8.3 name/extension bytes per
// spec §4.6's oem_cp_converter; pass device.ASCIICodePage{} for the
// common case.
func SerializeEntry(short ShortEntry, longName string, codec device.CodePageConverter) []byte {
	if longName == "" {
		return encodeShort(short, codec)
	}

	checksum := shortNameChecksum(short.Name, short.Ext)
	lfnSlots := encodeLFNEntries(longName, checksum)

	out := make([]byte, 0, (len(lfnSlots)+1)*DirentSize)
	for _, s := range lfnSlots {
		out = append(out, s...)
	}
	out = append(out, encodeShort(short, codec)...)
	return out
}

// SlotsNeeded returns how many 32-byte slots an entry with the given
// long name (or "" for short-name-only) requires.
func SlotsNeeded(longName string) int {
	if longName == "" {
		return 1
	}
	units := utf16.Encode([]rune(longName))
	return (len(units)+1+12)/13 + 1
}

// FreeSlotBitmap scans a whole-directory buffer and returns a bitmap
// where bit i is set iff slot i is free or deleted, using the same
// go-bitmap library and linear free-run-search pattern the teacher's
// drivers/common/blockmanager.go uses for block allocation.
func FreeSlotBitmap(raw []byte) bitmap.Bitmap {
	slotCount := len(raw) / DirentSize
	bm := bitmap.New(slotCount)
	for i := 0; i < slotCount; i++ {
		marker := raw[i*DirentSize]
		if marker == slotFree || marker == slotDeleted {
			bm.Set(i, true)
		}
	}
	return bm
}

// FindFreeRun finds the first run of `need` consecutive free slots in
// bm, scanning linearly like BlockManager.findRun. It returns
// ErrNotEnoughSpace if no such run exists within the directory's current
// size; the caller (the fatfs facade's findFreeSlot) is responsible for
// growing the directory and retrying.
func FindFreeRun(bm bitmap.Bitmap, slotCount int, need int) (int, error) {
	runStart := -1
	runLen := 0
	for i := 0; i < slotCount; i++ {
		if bm.Get(i) {
			if runStart == -1 {
				runStart = i
			}
			runLen++
			if runLen == need {
				return runStart, nil
			}
		} else {
			runStart = -1
			runLen = 0
		}
	}
	return 0, fatfserrors.ErrNotEnoughSpace.WithMessage("no run of free directory slots found")
}

// MarkDeleted overwrites the first byte of every slot the entry
// occupies with 0xE5, the standard FAT deletion marker (spec §4.4).
func MarkDeleted(raw []byte, e *Entry) {
	for i := 0; i < e.SlotCount; i++ {
		raw[(e.SlotOffset+i)*DirentSize] = slotDeleted
	}
}
