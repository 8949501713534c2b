// Package table implements the File Allocation Table itself: reading and
// writing individual cluster-chain entries across all three on-disk
// encodings (packed 12-bit, 16-bit, 32-bit), and the higher-level chain
// operations (follow, allocate, extend, truncate, count free) built on
// top of them, per spec §4.1.
//
// The free-cluster presence cache is a github.com/boljen/go-bitmap
// bitmap (a set bit marks a free cluster); allocation takes the first set
// bit at or after a rotating scan hint, the same library and linear
// free-search strategy as the teacher's drivers/common/blockmanager.go
// BlockManager uses for its own free-block search.
package table

import (
	"github.com/boljen/go-bitmap"

	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/device"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
)

// EntryState classifies the meaning of a single FAT entry, per spec §4.1.
type EntryState int

const (
	StateFree EntryState = iota
	StateAllocated
	StateReserved
	StateBad
	StateEndOfChain
)

// Reserved cluster numbers, identical across all three variants (only the
// width of the encoding differs).
const (
	firstDataCluster = 2
	clusterFree      = 0
)

// Table is the in-memory representation of one FAT copy, decoded fully
// into a []uint32 regardless of on-disk width so that chain-walking code
// is variant-agnostic. It is mirrored back to every on-disk FAT copy on
// Flush, per spec §4.1's "all copies kept in sync" invariant.
type Table struct {
	variant  bpb.Variant
	entries  []uint32 // index 0..1 unused/reserved, data clusters start at 2
	free     bitmap.Bitmap
	freeHint uint32 // next cluster to start a linear free search from

	dev        device.Device
	fatOffsets []int64 // byte offset of each FAT copy's start
	fatBytes   int64   // size in bytes of one FAT copy
}

// eocMarker and badMarker are the canonical values this package writes
// when marking a cluster end-of-chain or bad; any value in the
// variant-specific EOC/bad range is accepted on read (spec §4.1 "a range
// of reserved values", not a single sentinel).
const (
	eocMarker32 = 0x0FFFFFFF
	eocMarker16 = 0xFFFF
	eocMarker12 = 0xFFF
	badMarker32 = 0x0FFFFFF7
	badMarker16 = 0xFFF7
	badMarker12 = 0xFF7
)

// Load decodes every copy-0 FAT entry for totalClusters data clusters
// (cluster numbers 2..totalClusters+1) from dev at the given byte offsets,
// one per FAT copy, each fatBytes long.
func Load(dev device.Device, variant bpb.Variant, totalClusters uint32, fatOffsets []int64, fatBytes int64) (*Table, error) {
	if len(fatOffsets) == 0 {
		return nil, fatfserrors.ErrInvalidInput.WithMessage("at least one FAT copy is required")
	}

	raw := make([]byte, fatBytes)
	if _, err := dev.Seek(fatOffsets[0], 0); err != nil {
		return nil, fatfserrors.ErrIO.WrapError(err)
	}
	if err := readFullFrom(dev, raw); err != nil {
		return nil, fatfserrors.ErrIO.WrapError(err)
	}

	entryCount := totalClusters + firstDataCluster
	t := &Table{
		variant:    variant,
		entries:    make([]uint32, entryCount),
		free:       bitmap.New(int(entryCount)),
		freeHint:   firstDataCluster,
		dev:        dev,
		fatOffsets: fatOffsets,
		fatBytes:   fatBytes,
	}

	for c := uint32(0); c < entryCount; c++ {
		entry, err := decodeEntry(raw, variant, c)
		if err != nil {
			return nil, err
		}
		t.entries[c] = entry
		freeValue := entry
		if variant == bpb.Variant32 {
			freeValue &= 0x0FFFFFFF
		}
		if c >= firstDataCluster && freeValue == clusterFree {
			t.free.Set(int(c), true)
		}
	}

	return t, nil
}

// NewBlank builds an all-free Table of entryCount entries, for Format to
// populate and then Flush.
func NewBlank(dev device.Device, variant bpb.Variant, totalClusters uint32, fatOffsets []int64, fatBytes int64, media uint8) *Table {
	entryCount := totalClusters + firstDataCluster
	t := &Table{
		variant:    variant,
		entries:    make([]uint32, entryCount),
		free:       bitmap.New(int(entryCount)),
		freeHint:   firstDataCluster,
		dev:        dev,
		fatOffsets: fatOffsets,
		fatBytes:   fatBytes,
	}

	// Entries 0 and 1 are reserved: entry 0 echoes the media descriptor,
	// entry 1 carries the dirty-volume/IO-error flags (left clear here).
	t.entries[0] = eocValueFor(variant)&0xFFFFFF00 | uint32(media)
	t.entries[1] = eocValueFor(variant)

	for c := uint32(firstDataCluster); c < entryCount; c++ {
		t.free.Set(int(c), true)
	}
	return t
}

func eocValueFor(variant bpb.Variant) uint32 {
	switch variant {
	case bpb.Variant12:
		return eocMarker12
	case bpb.Variant16:
		return eocMarker16
	default:
		return eocMarker32
	}
}

// TotalClusters returns the number of addressable data clusters (entries
// 2..TotalClusters+1).
func (t *Table) TotalClusters() uint32 {
	return uint32(len(t.entries)) - firstDataCluster
}

// Get returns the raw entry value and the state it represents, per the
// classification table in spec §4.1.
func (t *Table) Get(cluster uint32) (uint32, EntryState, error) {
	if err := t.checkClusterRange(cluster); err != nil {
		return 0, 0, err
	}
	value := t.entries[cluster]
	return value, classify(t.variant, value), nil
}

func classify(variant bpb.Variant, value uint32) EntryState {
	if variant == bpb.Variant32 {
		value &= 0x0FFFFFFF
	}
	switch {
	case value == clusterFree:
		return StateFree
	case isBad(variant, value):
		return StateBad
	case isEOC(variant, value):
		return StateEndOfChain
	case value == 1:
		return StateReserved
	default:
		return StateAllocated
	}
}

func isEOC(variant bpb.Variant, value uint32) bool {
	switch variant {
	case bpb.Variant12:
		return value >= 0xFF8
	case bpb.Variant16:
		return value >= 0xFFF8
	default:
		return value >= 0x0FFFFFF8
	}
}

func isBad(variant bpb.Variant, value uint32) bool {
	switch variant {
	case bpb.Variant12:
		return value == badMarker12
	case bpb.Variant16:
		return value == badMarker16
	default:
		return value == badMarker32
	}
}

// Set writes a new raw value into a single entry, updating the free
// bitmap accordingly. The change is only visible on disk after Flush.
//
// For FAT32, the top 4 bits of every 32-bit entry are reserved and must
// survive a write untouched (spec §3); since value is always supplied as
// a plain 28-bit pointer or marker, the previous entry's high nibble is
// carried forward here rather than being discarded.
func (t *Table) Set(cluster uint32, value uint32) error {
	if err := t.checkClusterRange(cluster); err != nil {
		return err
	}
	if t.variant == bpb.Variant32 {
		value = (value & 0x0FFFFFFF) | (t.entries[cluster] & 0xF0000000)
	}
	t.entries[cluster] = value
	t.free.Set(int(cluster), value&0x0FFFFFFF == clusterFree)
	return nil
}

// MarkEndOfChain writes the canonical EOC marker into cluster.
func (t *Table) MarkEndOfChain(cluster uint32) error {
	return t.Set(cluster, eocValueFor(t.variant))
}

func (t *Table) checkClusterRange(cluster uint32) error {
	if cluster < firstDataCluster || cluster >= uint32(len(t.entries)) {
		return fatfserrors.ErrInvalidInput.WithMessage("cluster number out of range")
	}
	return nil
}

// FollowChain walks the cluster chain starting at start and returns every
// cluster visited in order, stopping at end-of-chain. A cycle (a cluster
// visited twice) is reported as ErrCorruptedFileSystem rather than
// looping forever, per spec §4.1 edge cases.
func (t *Table) FollowChain(start uint32) ([]uint32, error) {
	if start < firstDataCluster {
		return nil, fatfserrors.ErrInvalidInput.WithMessage("chain must start at a data cluster")
	}

	visited := make(map[uint32]bool)
	var chain []uint32
	current := start
	for {
		if visited[current] {
			return nil, fatfserrors.ErrCorruptedFileSystem.WithMessage("cluster chain contains a cycle")
		}
		visited[current] = true

		value, state, err := t.Get(current)
		if err != nil {
			return nil, fatfserrors.ErrCorruptedFileSystem.WrapError(err)
		}
		switch state {
		case StateEndOfChain:
			chain = append(chain, current)
			return chain, nil
		case StateAllocated:
			chain = append(chain, current)
			current = value
			if t.variant == bpb.Variant32 {
				current &= 0x0FFFFFFF
			}
		default:
			return nil, fatfserrors.ErrCorruptedFileSystem.WithMessage(
				"cluster chain references a free, bad, or reserved cluster")
		}
	}
}

// CountFree returns the number of clusters currently marked free.
func (t *Table) CountFree() uint32 {
	count := uint32(0)
	for c := firstDataCluster; c < len(t.entries); c++ {
		if !t.free.Get(c) {
			continue
		}
		count++
	}
	return count
}

// AllocateChain allocates n fresh clusters and links them into a new
// chain, returning the head cluster number. Allocation scans linearly
// from freeHint, matching the teacher's BlockManager.AllocateBlock
// first-fit strategy, then advances freeHint past what it used so
// repeated allocations don't all rescan from the start.
func (t *Table) AllocateChain(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fatfserrors.ErrInvalidInput.WithMessage("cannot allocate a zero-length chain")
	}

	clusters := make([]uint32, 0, n)
	cursor := t.freeHint
	scanned := uint32(0)
	total := uint32(len(t.entries))
	for uint32(len(clusters)) < n {
		if scanned >= total {
			for _, c := range clusters {
				t.free.Set(int(c), true)
			}
			return 0, fatfserrors.ErrNotEnoughSpace.WithMessage("not enough free clusters")
		}
		if cursor >= total {
			cursor = firstDataCluster
		}
		if t.free.Get(int(cursor)) {
			clusters = append(clusters, cursor)
			// Mark used immediately, not just after the linking loop below:
			// otherwise a wraparound scan (cursor passes firstDataCluster
			// and catches back up to its own starting point within this
			// same call) would collect the same cluster twice before it is
			// ever written to the FAT.
			t.free.Set(int(cursor), false)
		}
		cursor++
		scanned++
	}

	for i, c := range clusters {
		if i == len(clusters)-1 {
			if err := t.MarkEndOfChain(c); err != nil {
				return 0, err
			}
		} else {
			if err := t.Set(c, clusters[i+1]); err != nil {
				return 0, err
			}
		}
	}
	t.freeHint = cursor
	return clusters[0], nil
}

// ExtendChain appends n additional clusters onto the end of the chain
// whose current last cluster is tail, linking them in and returning the
// new tail.
func (t *Table) ExtendChain(tail uint32, n uint32) (uint32, error) {
	if n == 0 {
		return tail, nil
	}
	_, state, err := t.Get(tail)
	if err != nil {
		return 0, err
	}
	if state != StateEndOfChain {
		return 0, fatfserrors.ErrInvalidInput.WithMessage("tail is not the end of its chain")
	}

	newHead, err := t.AllocateChain(n)
	if err != nil {
		return 0, err
	}
	if err := t.Set(tail, newHead); err != nil {
		return 0, err
	}
	chain, err := t.FollowChain(newHead)
	if err != nil {
		return 0, err
	}
	return chain[len(chain)-1], nil
}

// TruncateChain frees every cluster in chain starting at the one AFTER
// keepCount clusters from the head; if keepCount is 0 the entire chain,
// including the head, is freed. Returns the new tail cluster (0 if the
// chain is now empty).
func (t *Table) TruncateChain(head uint32, keepCount uint32) (uint32, error) {
	chain, err := t.FollowChain(head)
	if err != nil {
		return 0, err
	}
	if keepCount >= uint32(len(chain)) {
		return chain[len(chain)-1], nil
	}

	var newTail uint32
	if keepCount > 0 {
		newTail = chain[keepCount-1]
	}
	for _, c := range chain[keepCount:] {
		if err := t.Set(c, clusterFree); err != nil {
			return 0, err
		}
	}
	if keepCount > 0 {
		if err := t.MarkEndOfChain(newTail); err != nil {
			return 0, err
		}
	}
	return newTail, nil
}

// Flush re-encodes the in-memory table and writes it to every configured
// FAT copy on disk.
func (t *Table) Flush() error {
	raw := make([]byte, t.fatBytes)
	for c := uint32(0); c < uint32(len(t.entries)); c++ {
		encodeEntry(raw, t.variant, c, t.entries[c])
	}

	for _, offset := range t.fatOffsets {
		if _, err := t.dev.Seek(offset, 0); err != nil {
			return fatfserrors.ErrIO.WrapError(err)
		}
		if _, err := t.dev.Write(raw); err != nil {
			return fatfserrors.ErrIO.WrapError(err)
		}
	}
	return nil
}

func decodeEntry(raw []byte, variant bpb.Variant, cluster uint32) (uint32, error) {
	switch variant {
	case bpb.Variant12:
		byteOffset := cluster + cluster/2
		if int(byteOffset)+1 >= len(raw) {
			return 0, fatfserrors.ErrCorruptedFileSystem.WithMessage("FAT12 entry out of bounds")
		}
		packed := uint16(raw[byteOffset]) | uint16(raw[byteOffset+1])<<8
		if cluster%2 == 0 {
			return uint32(packed & 0x0FFF), nil
		}
		return uint32(packed >> 4), nil
	case bpb.Variant16:
		byteOffset := cluster * 2
		if int(byteOffset)+1 >= len(raw) {
			return 0, fatfserrors.ErrCorruptedFileSystem.WithMessage("FAT16 entry out of bounds")
		}
		return uint32(raw[byteOffset]) | uint32(raw[byteOffset+1])<<8, nil
	default:
		byteOffset := cluster * 4
		if int(byteOffset)+3 >= len(raw) {
			return 0, fatfserrors.ErrCorruptedFileSystem.WithMessage("FAT32 entry out of bounds")
		}
		// The top 4 bits are reserved and kept in the entry as-is (not
		// masked away here) so Flush can write them back unchanged;
		// classify and chain-walking mask them off wherever the value is
		// interpreted as a cluster pointer or state marker.
		value := uint32(raw[byteOffset]) | uint32(raw[byteOffset+1])<<8 |
			uint32(raw[byteOffset+2])<<16 | uint32(raw[byteOffset+3])<<24
		return value, nil
	}
}

func encodeEntry(raw []byte, variant bpb.Variant, cluster uint32, value uint32) {
	switch variant {
	case bpb.Variant12:
		byteOffset := cluster + cluster/2
		existing := uint16(raw[byteOffset]) | uint16(raw[byteOffset+1])<<8
		var packed uint16
		if cluster%2 == 0 {
			packed = (existing & 0xF000) | uint16(value&0x0FFF)
		} else {
			packed = (existing & 0x000F) | uint16(value&0x0FFF)<<4
		}
		raw[byteOffset] = byte(packed)
		raw[byteOffset+1] = byte(packed >> 8)
	case bpb.Variant16:
		byteOffset := cluster * 2
		raw[byteOffset] = byte(value)
		raw[byteOffset+1] = byte(value >> 8)
	default:
		// value already carries the preserved reserved nibble in its top
		// 4 bits (Set merges it back in on every write), so no
		// existingHigh read-back from raw is needed here.
		byteOffset := cluster * 4
		raw[byteOffset] = byte(value)
		raw[byteOffset+1] = byte(value >> 8)
		raw[byteOffset+2] = byte(value >> 16)
		raw[byteOffset+3] = byte(value >> 24)
	}
}

func readFullFrom(dev device.Device, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := dev.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
		if n == 0 {
			return fatfserrors.ErrUnexpectedEOF
		}
	}
	return nil
}
