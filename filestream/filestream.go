// Package filestream implements a seekable read/write cursor bound to a
// cluster chain, the data-plane half of an open file (spec §4.3). It
// knows nothing about directory entries; callers are responsible for
// persisting the resulting first-cluster and size back into the owning
// ShortEntry after writing (Stream has no Close).
package filestream

import (
	"io"

	"github.com/go-fatfs/fatfs/cluster"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
	"github.com/go-fatfs/fatfs/table"
)

// Stream is an io.ReadWriteSeeker over the bytes addressed by a cluster
// chain, lazily growing the chain as writes extend past its current
// length, mirroring the teacher's drivers/common/basicstream model
// generalized from a flat block range to a FAT cluster chain.
type Stream struct {
	io    *cluster.IO
	tbl   *table.Table
	first uint32 // 0 for an empty, as-yet-unallocated file
	size  int64
	pos   int64

	chain     []uint32 // cached chain, invalidated whenever it changes
	chainHead uint32
}

// Open binds a Stream to the chain starting at firstCluster (0 if the
// file is currently empty) with the given logical size in bytes.
func Open(io *cluster.IO, tbl *table.Table, firstCluster uint32, size int64) (*Stream, error) {
	s := &Stream{io: io, tbl: tbl, first: firstCluster, size: size}
	if firstCluster != 0 {
		chain, err := tbl.FollowChain(firstCluster)
		if err != nil {
			return nil, err
		}
		s.chain = chain
		s.chainHead = firstCluster
	}
	return s, nil
}

// FirstCluster returns the current head of the backing chain (0 if the
// stream has never had data written to it).
func (s *Stream) FirstCluster() uint32 { return s.first }

// Size returns the stream's current logical length in bytes.
func (s *Stream) Size() int64 { return s.size }

func (s *Stream) bytesPerCluster() int64 {
	return int64(s.io.ClusterBytes())
}

// Seek implements io.Seeker. Seeking past the current size is allowed;
// subsequent reads return io.EOF immediately and writes will zero-fill
// the gap, matching ordinary POSIX sparse-write semantics even though
// FAT itself has no sparse-file representation (the gap is materialized
// with real zeroed clusters on the first write).
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = s.size + offset
	default:
		return 0, fatfserrors.ErrInvalidInput.WithMessage("invalid whence")
	}
	if newPos < 0 {
		return 0, fatfserrors.ErrInvalidInput.WithMessage("negative seek position")
	}
	s.pos = newPos
	return s.pos, nil
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}
	remaining := s.size - s.pos
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	total := 0
	for total < len(p) {
		clusterIdx := int(s.pos / s.bytesPerCluster())
		offsetInCluster := uint32(s.pos % s.bytesPerCluster())
		if clusterIdx >= len(s.chain) {
			break
		}

		toRead := s.bytesPerCluster() - int64(offsetInCluster)
		if toRead > int64(len(p)-total) {
			toRead = int64(len(p) - total)
		}

		if err := s.io.ReadAt(s.chain[clusterIdx], offsetInCluster, p[total:total+int(toRead)]); err != nil {
			return total, err
		}
		total += int(toRead)
		s.pos += toRead
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Write implements io.Writer, growing the backing chain as needed. A
// write starting beyond the current size first extends the chain to
// cover the gap, zero-filling it, before writing the new data -- there
// is no sparse representation in FAT.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	endPos := s.pos + int64(len(p))
	if err := s.ensureCapacity(endPos); err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		clusterIdx := int(s.pos / s.bytesPerCluster())
		offsetInCluster := uint32(s.pos % s.bytesPerCluster())
		if clusterIdx >= len(s.chain) {
			return total, fatfserrors.ErrIO.WithMessage("write position exceeds allocated chain")
		}

		toWrite := s.bytesPerCluster() - int64(offsetInCluster)
		if toWrite > int64(len(p)-total) {
			toWrite = int64(len(p) - total)
		}

		if err := s.io.WriteAt(s.chain[clusterIdx], offsetInCluster, p[total:total+int(toWrite)]); err != nil {
			return total, err
		}
		total += int(toWrite)
		s.pos += toWrite
	}

	if s.pos > s.size {
		s.size = s.pos
	}
	return total, nil
}

// ensureCapacity grows the chain so that byte offset endPos-1 is
// addressable, allocating whole clusters and zeroing any newly added
// ones so a subsequent sparse write leaves no uninitialized bytes.
func (s *Stream) ensureCapacity(endPos int64) error {
	neededClusters := 0
	if endPos > 0 {
		neededClusters = int((endPos + s.bytesPerCluster() - 1) / s.bytesPerCluster())
	}
	haveClusters := len(s.chain)
	if neededClusters <= haveClusters {
		return nil
	}
	toAllocate := uint32(neededClusters - haveClusters)

	if s.first == 0 {
		head, err := s.tbl.AllocateChain(toAllocate)
		if err != nil {
			return err
		}
		s.first = head
		s.chainHead = head
		chain, err := s.tbl.FollowChain(head)
		if err != nil {
			return err
		}
		s.chain = chain
	} else {
		tail := s.chain[len(s.chain)-1]
		if _, err := s.tbl.ExtendChain(tail, toAllocate); err != nil {
			return err
		}
		chain, err := s.tbl.FollowChain(s.first)
		if err != nil {
			return err
		}
		s.chain = chain
	}

	for _, c := range s.chain[haveClusters:] {
		if err := s.io.ZeroCluster(c); err != nil {
			return err
		}
	}
	return nil
}

// Truncate sets the stream's logical size to newSize, freeing any
// clusters no longer needed (or zero-extending if newSize grows past the
// current size, same zero-fill behavior as Write).
func (s *Stream) Truncate(newSize int64) error {
	if newSize < 0 {
		return fatfserrors.ErrInvalidInput.WithMessage("negative size")
	}
	if newSize == s.size {
		return nil
	}
	if newSize > s.size {
		oldPos := s.pos
		s.pos = s.size
		if _, err := s.Write(make([]byte, newSize-s.size)); err != nil {
			return err
		}
		s.pos = oldPos
		return nil
	}

	keepClusters := uint32(0)
	if newSize > 0 {
		keepClusters = uint32((newSize + s.bytesPerCluster() - 1) / s.bytesPerCluster())
	}
	if s.first != 0 {
		newTail, err := s.tbl.TruncateChain(s.first, keepClusters)
		if err != nil {
			return err
		}
		if keepClusters == 0 {
			s.first = 0
			s.chain = nil
			s.chainHead = 0
		} else {
			chain, err := s.tbl.FollowChain(s.first)
			if err != nil {
				return err
			}
			s.chain = chain
			_ = newTail
		}
	}

	s.size = newSize
	if s.pos > s.size {
		s.pos = s.size
	}
	return nil
}
