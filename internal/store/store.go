// Package store holds conversation records in memory, one per user id,
// with a per-user lock for serialized read-evaluate-write.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/hpungsan/scoper/internal/conversation"
)

// ErrReleased is returned when a Handle is used after Release.
var ErrReleased = errors.New("store: handle already released")

// lockEntry is one user's lock. ch has capacity 1; holding the lock means
// owning the buffered slot. refs counts the holder plus waiters.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

// Store maps user ids to conversation records.
// Records are stored and returned as clones, so callers never share memory with it.
type Store struct {
	mu      sync.Mutex
	records map[string]*conversation.Record
	locks   map[string]*lockEntry

	onSize func(int)
}

// Option configures a Store.
type Option func(*Store)

// WithSizeObserver registers fn to be called with the record count after every change.
func WithSizeObserver(fn func(int)) Option {
	return func(s *Store) {
		s.onSize = fn
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*conversation.Record),
		locks:   make(map[string]*lockEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key is the canonical form of a user id. Surrounding whitespace is not
// significant, so " alice" and "alice" share one record and one lock.
func Key(id string) string {
	return strings.TrimSpace(id)
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (*conversation.Record, bool) {
	id = Key(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Contains reports whether id has a record.
func (s *Store) Contains(id string) bool {
	id = Key(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// List returns copies of all records, most recently updated first.
func (s *Store) List() []*conversation.Record {
	s.mu.Lock()
	out := make([]*conversation.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *conversation.Record) int {
		if a.UpdatedAt != b.UpdatedAt {
			if a.UpdatedAt > b.UpdatedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

// Upsert stores a copy of rec under id, waiting for the user's lock.
func (s *Store) Upsert(ctx context.Context, id string, rec *conversation.Record) error {
	h, err := s.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer h.Release()
	return h.Commit(rec)
}

// Delete removes the record for id, waiting for the user's lock.
// Deleting an unknown id is a no-op and reports false.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	h, err := s.Acquire(ctx, id)
	if err != nil {
		return false, err
	}
	defer h.Release()
	return h.Delete()
}

// Acquire takes the lock for id, honoring ctx while waiting.
// Locks for different ids are independent. The caller must Release the handle.
func (s *Store) Acquire(ctx context.Context, id string) (*Handle, error) {
	id = Key(id)
	s.mu.Lock()
	e, ok := s.locks[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		s.locks[id] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return &Handle{store: s, id: id, entry: e}, nil
	case <-ctx.Done():
		s.unref(id, e)
		return nil, ctx.Err()
	}
}

func (s *Store) unref(id string, e *lockEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.locks, id)
	}
}

func (s *Store) notifySize(n int) {
	if s.onSize != nil {
		s.onSize(n)
	}
}

// lockCount is the number of live lock entries (tests use it to check cleanup).
func (s *Store) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Handle is exclusive access to one user's record until Release.
type Handle struct {
	store    *Store
	id       string
	entry    *lockEntry
	released bool
}

// ID returns the user id this handle locks.
func (h *Handle) ID() string {
	return h.id
}

// Record returns a copy of the current record, or nil when none exists.
func (h *Handle) Record() *conversation.Record {
	rec, _ := h.store.Get(h.id)
	return rec
}

// Commit replaces the record with a copy of rec.
func (h *Handle) Commit(rec *conversation.Record) error {
	if h.released {
		return ErrReleased
	}
	if rec == nil {
		return errors.New("store: nil record")
	}
	s := h.store
	s.mu.Lock()
	s.records[h.id] = rec.Clone()
	n := len(s.records)
	s.mu.Unlock()
	s.notifySize(n)
	return nil
}

// Delete removes the record and reports whether one existed.
func (h *Handle) Delete() (bool, error) {
	if h.released {
		return false, ErrReleased
	}
	s := h.store
	s.mu.Lock()
	_, ok := s.records[h.id]
	delete(s.records, h.id)
	n := len(s.records)
	s.mu.Unlock()
	if ok {
		s.notifySize(n)
	}
	return ok, nil
}

// Release gives up the lock. Calling it more than once is safe.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	<-h.entry.ch
	h.store.unref(h.id, h.entry)
}
