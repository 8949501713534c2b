// Package cluster provides cluster-aligned I/O on top of a raw device,
// translating cluster numbers to byte offsets via the mounted boot
// sector and reading/writing whole or partial clusters, per spec §4.2.
package cluster

import (
	"github.com/go-fatfs/fatfs/bpb"
	"github.com/go-fatfs/fatfs/device"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
)

// IO binds a device to the geometry needed to address individual
// clusters. It has no notion of chains or files; that belongs to the
// table and filestream packages, respectively.
type IO struct {
	dev device.Device
	bs  *bpb.BootSector
}

// New creates an IO bound to dev using the geometry in bs.
func New(dev device.Device, bs *bpb.BootSector) *IO {
	return &IO{dev: dev, bs: bs}
}

// ClusterBytes returns the number of bytes in one cluster.
func (c *IO) ClusterBytes() uint32 {
	return c.bs.BytesPerCluster
}

// Offset returns the absolute byte offset of the start of cluster.
func (c *IO) Offset(cluster uint32) int64 {
	return c.bs.SectorOffset(c.bs.ClusterToSector(cluster))
}

// ReadCluster reads one full cluster's worth of bytes.
func (c *IO) ReadCluster(cluster uint32) ([]byte, error) {
	buf := make([]byte, c.bs.BytesPerCluster)
	if err := c.ReadAt(cluster, 0, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteCluster writes a full cluster's worth of bytes; len(data) must
// equal the cluster size.
func (c *IO) WriteCluster(cluster uint32, data []byte) error {
	if uint32(len(data)) != c.bs.BytesPerCluster {
		return fatfserrors.ErrInvalidInput.WithMessage("data length does not match cluster size")
	}
	return c.WriteAt(cluster, 0, data)
}

// ReadAt reads len(buf) bytes starting offset bytes into cluster. offset
// and offset+len(buf) must both fall within the cluster.
func (c *IO) ReadAt(cluster uint32, offset uint32, buf []byte) error {
	if err := c.checkBounds(offset, uint32(len(buf))); err != nil {
		return err
	}
	if _, err := c.dev.Seek(c.Offset(cluster)+int64(offset), 0); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	total := 0
	for total < len(buf) {
		n, err := c.dev.Read(buf[total:])
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

// WriteAt writes data starting offset bytes into cluster.
func (c *IO) WriteAt(cluster uint32, offset uint32, data []byte) error {
	if err := c.checkBounds(offset, uint32(len(data))); err != nil {
		return err
	}
	if _, err := c.dev.Seek(c.Offset(cluster)+int64(offset), 0); err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	n, err := c.dev.Write(data)
	if err != nil {
		return fatfserrors.ErrIO.WrapError(err)
	}
	if n == 0 && len(data) > 0 {
		return fatfserrors.ErrWriteZero
	}
	if n < len(data) {
		return fatfserrors.ErrIO.WithMessage("short write")
	}
	return nil
}

// ZeroCluster overwrites an entire cluster with zero bytes, used when
// allocating new clusters for directories (spec §4.4: new directory
// clusters start all-zero so unused entries read as end-of-directory).
func (c *IO) ZeroCluster(cluster uint32) error {
	return c.WriteCluster(cluster, make([]byte, c.bs.BytesPerCluster))
}

func (c *IO) checkBounds(offset, length uint32) error {
	if offset+length > c.bs.BytesPerCluster {
		return fatfserrors.ErrInvalidInput.WithMessage("access extends past end of cluster")
	}
	return nil
}
