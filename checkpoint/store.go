// Package checkpoint persists river positions and statuses in Pebble.
package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/mashable/elasticsearch-river-mongodb/oplog"
	"github.com/mashable/elasticsearch-river-mongodb/river"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixPosition = "/riverpos/"    // /riverpos/{riverName}
	prefixStatus   = "/riverstatus/" // /riverstatus/{riverName}
)

const memTableSize = 4 << 20 // 4MB

// Store keeps the committed position and last status of each river
type Store struct {
	db   *pebble.DB
	path string

	// In-memory position map, loaded at open
	positions   map[string]oplog.Position
	positionsMu sync.RWMutex

	closed atomic.Bool
	now    func() time.Time
}

// Open creates or opens the checkpoint store under dataDir
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "checkpoints")

	opts := &pebble.Options{
		MemTableSize: memTableSize,
		DisableWAL:   false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store at %s: %w", path, err)
	}

	s := &Store{
		db:        db,
		path:      path,
		positions: make(map[string]oplog.Position),
		now:       time.Now,
	}

	if err := s.loadPositions(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	return s, nil
}

func (s *Store) loadPositions() error {
	prefix := []byte(prefixPosition)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefixPosition):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		pos, err := decodePosition(val)
		if err != nil {
			return fmt.Errorf("corrupted position of river %s: %w", name, err)
		}
		s.positions[name] = pos
	}

	if err := iter.Error(); err != nil {
		return err
	}

	if len(s.positions) > 0 {
		log.Info().Int("rivers", len(s.positions)).Msg("Loaded river checkpoints")
	}
	return nil
}

// Position returns the committed position of a river, zero when none
func (s *Store) Position(name string) (oplog.Position, error) {
	if s.closed.Load() {
		return oplog.Position{}, fmt.Errorf("checkpoint store is closed")
	}

	s.positionsMu.RLock()
	defer s.positionsMu.RUnlock()
	return s.positions[name], nil
}

// CommitPosition records pos as handled. Positions never move backwards.
func (s *Store) CommitPosition(name string, pos oplog.Position) error {
	if s.closed.Load() {
		return fmt.Errorf("checkpoint store is closed")
	}
	if pos.IsZero() {
		return nil
	}

	s.positionsMu.Lock()
	defer s.positionsMu.Unlock()

	if cur, ok := s.positions[name]; ok && pos.Compare(cur) <= 0 {
		return nil
	}

	val, err := encodePosition(pos, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	if err := s.db.Set([]byte(prefixPosition+name), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit position: %w", err)
	}

	s.positions[name] = pos
	return nil
}

// Status returns the last persisted status of a river, INIT when none
func (s *Store) Status(name string) (river.Status, error) {
	if s.closed.Load() {
		return river.StatusInit, fmt.Errorf("checkpoint store is closed")
	}

	val, closer, err := s.db.Get([]byte(prefixStatus + name))
	if err == pebble.ErrNotFound {
		return river.StatusInit, nil
	}
	if err != nil {
		return river.StatusInit, err
	}
	defer closer.Close()

	status, err := decodeStatus(val)
	if err != nil {
		return river.StatusInit, fmt.Errorf("corrupted status of river %s: %w", name, err)
	}
	return status, nil
}

// SetStatus persists the status of a river
func (s *Store) SetStatus(name string, status river.Status) error {
	if s.closed.Load() {
		return fmt.Errorf("checkpoint store is closed")
	}

	val, err := encodeRecord(statusRecord{Status: status.String(), UpdatedAt: s.now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.db.Set([]byte(prefixStatus+name), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist status: %w", err)
	}
	return nil
}

// Reset forgets the position and status of a river
func (s *Store) Reset(name string) error {
	if s.closed.Load() {
		return fmt.Errorf("checkpoint store is closed")
	}

	s.positionsMu.Lock()
	defer s.positionsMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete([]byte(prefixPosition+name), pebble.Sync); err != nil {
		return err
	}
	if err := batch.Delete([]byte(prefixStatus+name), pebble.Sync); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to reset river %s: %w", name, err)
	}

	delete(s.positions, name)
	log.Info().Str("river", name).Msg("Reset river checkpoint")
	return nil
}

// Rivers lists every river with a committed position
func (s *Store) Rivers() []string {
	s.positionsMu.RLock()
	defer s.positionsMu.RUnlock()

	names := make([]string, 0, len(s.positions))
	for name := range s.positions {
		names = append(names, name)
	}
	return names
}

// Close closes the Pebble database
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("checkpoint store already closed")
	}
	return s.db.Close()
}

// Stream binds the store to one river
func (s *Store) Stream(name string) *Stream {
	return &Stream{store: s, name: name}
}

// Stream is the checkpoint view of a single river
type Stream struct {
	store *Store
	name  string
}

// Name returns the river name
func (s *Stream) Name() string { return s.name }

// Position returns the committed position
func (s *Stream) Position() (oplog.Position, error) {
	return s.store.Position(s.name)
}

// CommitPosition records pos as delivered downstream
func (s *Stream) CommitPosition(_ context.Context, pos oplog.Position) error {
	return s.store.CommitPosition(s.name, pos)
}

// Status returns the persisted status
func (s *Stream) Status(_ context.Context) (river.Status, error) {
	return s.store.Status(s.name)
}

// SetStatus persists status
func (s *Stream) SetStatus(_ context.Context, status river.Status) error {
	return s.store.SetStatus(s.name, status)
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
