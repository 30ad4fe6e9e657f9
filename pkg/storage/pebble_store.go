package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/mbp10/pkg/mbp"
)

var ErrNotFound = errors.New("storage: snapshot not found")

// PebbleStore archives every emitted snapshot keyed by its sequence number.
// It is an mbp.Sink; opening it wipes snapshots from any previous run.
type PebbleStore struct {
	db    *pebble.DB
	runID string
}

func NewPebbleStore(path, runID string) (*PebbleStore, error) {
	return open(path, runID, &pebble.Options{})
}

// NewPebbleStoreFS opens the store on a custom filesystem, e.g. vfs.NewMem() in tests.
func NewPebbleStoreFS(path, runID string, fs vfs.FS) (*PebbleStore, error) {
	return open(path, runID, &pebble.Options{FS: fs})
}

func open(path, runID string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store %s: %w", path, err)
	}
	s := &PebbleStore{db: db, runID: runID}
	if err := s.reset(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) reset() error {
	prefix := []byte(prefixSnapshot)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, keyUpperBound(prefix), nil); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	if err := b.Delete(keyLast, nil); err != nil {
		return fmt.Errorf("clear last seq: %w", err)
	}
	if err := b.Set(keyRun, []byte(s.runID), nil); err != nil {
		return fmt.Errorf("save run id: %w", err)
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) RunID() string { return s.runID }

// Write stores snap and advances the last-seq marker in one batch.
func (s *PebbleStore) Write(snap mbp.Snapshot) error {
	val, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.Seq, err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(snapshotKey(snap.Seq), val, nil); err != nil {
		return err
	}
	if err := b.Set(keyLast, seqBytes(snap.Seq), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.Seq, err)
	}
	return nil
}

func (s *PebbleStore) Get(seq uint64) (mbp.Snapshot, error) {
	val, closer, err := s.db.Get(snapshotKey(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return mbp.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return mbp.Snapshot{}, fmt.Errorf("get snapshot %d: %w", seq, err)
	}
	defer closer.Close()
	snap, err := decodeSnapshot(val)
	if err != nil {
		return mbp.Snapshot{}, fmt.Errorf("decode snapshot %d: %w", seq, err)
	}
	return snap, nil
}

// Last returns the highest stored seq, or 0 when nothing was written.
func (s *PebbleStore) Last() (uint64, error) {
	val, closer, err := s.db.Get(keyLast)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(val), nil
}

// Range calls fn for each stored snapshot with from <= seq < to, in order,
// until fn returns false.
func (s *PebbleStore) Range(from, to uint64, fn func(mbp.Snapshot) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: snapshotKey(from),
		UpperBound: snapshotKey(to),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		snap, err := decodeSnapshot(iter.Value())
		if err != nil {
			return fmt.Errorf("decode snapshot at %x: %w", iter.Key(), err)
		}
		if !fn(snap) {
			break
		}
	}
	return iter.Error()
}

func (s *PebbleStore) Close() error {
	if err := s.db.Flush(); err != nil {
		s.db.Close()
		return fmt.Errorf("flush snapshot store: %w", err)
	}
	return s.db.Close()
}

var _ mbp.Sink = (*PebbleStore)(nil)
