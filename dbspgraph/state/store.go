// Package state implements the Graph State Store (C1): a persistent,
// embedded key-value store holding one worker's vertices and out-edges,
// backed by go.etcd.io/bbolt. bbolt's ordered b+tree buckets give list and
// prefix-scan operations sorted-key iteration for free, and its
// copy-on-write transactions make create_checkpoint a non-blocking snapshot
// — the same property the original RocksDB-backed implementation relies on
// its Checkpoint API for.
package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var bucketVertices = []byte("vertices")
var bucketEdges = []byte("edges")

// edgeNonce is a process-wide monotonic counter used to build composite
// edge keys. Relaxed ordering suffices: nonces only need to be distinct
// within this process, per the spec's "Global state" design note.
var edgeNonce uint64

// Vertex is a single (id, value) pair as stored and retrieved.
type Vertex struct {
	ID    []byte
	Value []byte
}

// Edge is a single out-edge (target, value) as retrieved for its source.
type Edge struct {
	Target []byte
	Value  []byte
}

// Store is a single worker's persistent graph state store.
type Store struct {
	db   *bbolt.DB
	path string
}

// Open opens (creating if necessary) a Store backed by a bbolt file under
// dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("create state dir: %w", err)
	}
	dbPath := filepath.Join(dir, "graph.db")
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, xerrors.Errorf("open bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketVertices); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketEdges)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("init buckets: %w", err)
	}
	return &Store{db: db, path: dbPath}, nil
}

// Close releases the store's file handle.
func (s *Store) Close() error { return s.db.Close() }

// PutVertex overwrites the stored value for id.
func (s *Store) PutVertex(id, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVertices).Put(id, value)
	})
}

// PutVertexBatch overwrites the stored values for every vertex in one
// transaction.
func (s *Store) PutVertexBatch(vertices []Vertex) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVertices)
		for _, v := range vertices {
			if err := b.Put(v.ID, v.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetVertex returns the stored value for id, or ok=false if absent.
func (s *Store) GetVertex(id []byte) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketVertices).Get(id)
		if v != nil {
			value = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

// ListVertices iterates every vertex in sorted key order, invoking fn for
// each. Iteration stops early if fn returns an error.
func (s *Store) ListVertices(fn func(Vertex) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketVertices).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(Vertex{ID: append([]byte(nil), k...), Value: append([]byte(nil), v...)}); err != nil {
				return err
			}
		}
		return nil
	})
}

// EdgeBatchEntry is one edge from a put_edge_batch call.
type EdgeBatchEntry struct {
	Src    []byte
	Target []byte
	Value  []byte
}

// PutEdgeBatch appends edges keyed under the composite scheme
// `len(src_id)(4 BE) ∥ src_id ∥ nonce(8 BE) ∥ index(4 BE)`, guaranteeing that concurrent or
// repeated batches from the same source never clobber each other and that
// parallel edges are preserved (spec §9: the composite-key scheme is
// canonical for correctness under parallel batch loading).
func (s *Store) PutEdgeBatch(edges []EdgeBatchEntry) error {
	nonce := atomic.AddUint64(&edgeNonce, 1)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEdges)
		for i, e := range edges {
			key := compositeEdgeKey(e.Src, nonce, uint32(i))
			val := encodeEdgeValue(e.Target, e.Value)
			if err := b.Put(key, val); err != nil {
				return err
			}
		}
		return nil
	})
}

// srcKeyPrefix length-delimits src so that one source id's composite keys
// can never be a byte-prefix of a different, longer source id's keys (e.g.
// "v1" vs "v10") — a plain concatenation would let GetOutEdges("v1") leak
// v10's edges.
func srcKeyPrefix(src []byte) []byte {
	prefix := make([]byte, 4+len(src))
	binary.BigEndian.PutUint32(prefix, uint32(len(src)))
	copy(prefix[4:], src)
	return prefix
}

func compositeEdgeKey(src []byte, nonce uint64, index uint32) []byte {
	prefix := srcKeyPrefix(src)
	key := make([]byte, len(prefix)+8+4)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], nonce)
	binary.BigEndian.PutUint32(key[len(prefix)+8:], index)
	return key
}

func encodeEdgeValue(target, value []byte) []byte {
	buf := make([]byte, 4+len(target)+len(value))
	binary.BigEndian.PutUint32(buf, uint32(len(target)))
	copy(buf[4:], target)
	copy(buf[4+len(target):], value)
	return buf
}

func decodeEdgeValue(b []byte) (target, value []byte) {
	n := binary.BigEndian.Uint32(b[:4])
	return b[4 : 4+n], b[4+n:]
}

// GetOutEdges returns every edge stored for src, via a prefix scan that
// stops as soon as the key prefix diverges from src.
func (s *Store) GetOutEdges(src []byte) ([]Edge, error) {
	prefix := srcKeyPrefix(src)
	var out []Edge
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEdges).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			target, value := decodeEdgeValue(v)
			out = append(out, Edge{
				Target: append([]byte(nil), target...),
				Value:  append([]byte(nil), value...),
			})
		}
		return nil
	})
	return out, err
}

// CreateCheckpoint writes an atomic snapshot of both tables into dir,
// suitable for reopening with Open. The snapshot is taken from inside a
// read-only transaction, so it never blocks concurrent readers or writers
// for longer than the copy itself.
func (s *Store) CreateCheckpoint(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("create checkpoint dir: %w", err)
	}
	dst := filepath.Join(dir, "graph.db")
	return s.db.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(dst)
		if err != nil {
			return xerrors.Errorf("create checkpoint file: %w", err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return xerrors.Errorf("write checkpoint snapshot: %w", err)
		}
		return nil
	})
}

// Codec renders a stored vertex value as a line of CSV-friendly text,
// selected by the owning algorithm (uint64 decimal for WCC, IEEE-754
// decimal for PageRank).
type Codec func(value []byte) string

// DumpVerticesCSV writes one line per vertex, "{id},{value}", to path,
// formatting each value with codec.
func (s *Store) DumpVerticesCSV(path string, idFmt func([]byte) string, codec Codec) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("create csv output: %w", err)
	}
	defer f.Close()

	return s.ListVertices(func(v Vertex) error {
		_, err := fmt.Fprintf(f, "%s,%s\n", idFmt(v.ID), codec(v.Value))
		return err
	})
}
