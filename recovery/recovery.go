// Package recovery implements the cluster-carving recovery engine: it
// walks free clusters and offers each to a caller-supplied factory and
// then to per-file state machines, reconstructing files without trusting
// (or mutating) the FAT or directory metadata, per spec §4.5.
//
// The factory/state two-interface protocol is adapted from the
// signature-based byte-carving registry in
// _examples/ostafen-digler/internal/format (FileHeader/FileRegistry):
// that engine classifies a byte prefix against a fixed signature table;
// this one classifies whole clusters against an opaque caller-supplied
// state machine, since spec §4.5 carves by cluster-chain continuation
// rather than by file-format signature.
package recovery

import (
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/noxer/bytewriter"

	"github.com/go-fatfs/fatfs/cluster"
	fatfserrors "github.com/go-fatfs/fatfs/errors"
	"github.com/go-fatfs/fatfs/table"
)

// Verdict is a State's judgment about whether a given free cluster
// continues, ends, or does not belong to the file it is tracking.
type Verdict int

const (
	NotToFile Verdict = iota
	ToFile
	IsEndOfFile
)

// State tracks one in-progress recovery candidate across successive free
// clusters.
type State interface {
	// ClusterBelongsToFile inspects the next candidate cluster's bytes
	// and reports whether they continue this file, end it, or belong to
	// something else.
	ClusterBelongsToFile(clusterBytes []byte) Verdict
}

// Factory inspects a candidate first free cluster and either rejects it
// or returns a fresh State seeded to track the file starting there.
type Factory interface {
	IsStartOfFile(clusterBytes []byte) (State, bool)
}

// RecoveredFile is one reconstructed file: its accumulated bytes, the
// State that tracked it, and the ascending list of clusters it was
// assembled from (useful for cluster_map debugging, spec §4.6).
type RecoveredFile struct {
	Bytes    []byte
	State    State
	Clusters []uint32
}

// Options bounds the size, in clusters, of files the engine will accept,
// per spec §4.5's min_clusters/max_clusters.
type Options struct {
	MinClusters int
	MaxClusters int
}

type openFile struct {
	state     State
	buf       []byte // pre-sized to opts.MaxClusters*clusterSize when bounded (4 clusters otherwise), grown when full
	writer    *bytewriter.Writer
	clusters  []uint32
	startedAt uint32
	written   int
	closed    bool
}

func newOpenFile(state State, clusterBytes int, opts Options) *openFile {
	capacity := clusterBytes * 4
	if opts.MaxClusters > 0 {
		capacity = clusterBytes * opts.MaxClusters
	}
	buf := make([]byte, capacity)
	return &openFile{
		state:  state,
		buf:    buf,
		writer: bytewriter.New(buf),
	}
}

// Recover scans every free cluster in the table in ascending order and
// reconstructs files per the factory/state protocol. It never mutates
// the FAT (io and tbl are only read from); the first I/O error from the
// disk adapter aborts the scan and is returned wrapped in ErrIO, together
// with the files assembled before it.
func Recover(io *cluster.IO, tbl *table.Table, factory Factory, opts Options) ([]RecoveredFile, error) {
	freeClusters := freeClustersAscending(tbl)

	var open []*openFile
	var errs *multierror.Error

	for _, c := range freeClusters {
		data, err := io.ReadCluster(c)
		if err != nil {
			errs = multierror.Append(errs, err)
			break
		}

		// Offer to every still-open file first (ascending start-cluster
		// order already holds since `open` is appended to in scan order),
		// so a cluster that could start a new file but is also accepted
		// by an older open file goes to the older file -- spec §4.5 tie-break.
		consumed := false
		for _, f := range open {
			if f == nil || f.closed {
				continue
			}
			switch f.state.ClusterBelongsToFile(data) {
			case ToFile:
				appendCluster(f, c, data)
				consumed = true
			case IsEndOfFile:
				appendCluster(f, c, data)
				f.closed = true
				consumed = true
			case NotToFile:
				// leave open; a later cluster may still belong.
			}
			if consumed {
				break
			}
		}
		if consumed {
			continue
		}

		if state, ok := factory.IsStartOfFile(data); ok {
			f := newOpenFile(state, len(data), opts)
			f.startedAt = c
			appendCluster(f, c, data)
			// A start cluster that its own state already reports as the end
			// of the file makes a single-cluster file.
			if state.ClusterBelongsToFile(data) == IsEndOfFile {
				f.closed = true
			}
			open = append(open, f)
		}
	}

	results := make([]RecoveredFile, 0, len(open))
	for _, f := range open {
		if f == nil || !withinBounds(len(f.clusters), opts) {
			continue
		}
		results = append(results, RecoveredFile{
			Bytes:    f.buf[:f.written],
			State:    f.state,
			Clusters: f.clusters,
		})
	}

	if errs.ErrorOrNil() != nil {
		return results, fatfserrors.ErrIO.WrapError(errs)
	}
	return results, nil
}

// appendCluster records c as belonging to f and copies its bytes into
// f's accumulation buffer, replacing the buffer with a larger one when
// the next cluster would not fit. Clusters are always counted towards
// Clusters so bounds-checking in Recover can reject an oversized file.
func appendCluster(f *openFile, c uint32, data []byte) {
	f.clusters = append(f.clusters, c)
	if f.written+len(data) > len(f.buf) {
		grown := make([]byte, 2*len(f.buf)+len(data))
		copy(grown, f.buf[:f.written])
		f.buf = grown
		f.writer = bytewriter.New(grown[f.written:])
	}
	n, _ := f.writer.Write(data)
	f.written += n
}

func withinBounds(clusterCount int, opts Options) bool {
	if opts.MinClusters > 0 && clusterCount < opts.MinClusters {
		return false
	}
	if opts.MaxClusters > 0 && clusterCount > opts.MaxClusters {
		return false
	}
	return true
}

func freeClustersAscending(tbl *table.Table) []uint32 {
	var free []uint32
	for c := uint32(2); c < tbl.TotalClusters()+2; c++ {
		_, state, err := tbl.Get(c)
		if err != nil {
			continue
		}
		if state == table.StateFree {
			free = append(free, c)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })
	return free
}
