package docstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gocrave/runner-api/internal/ports/out/docstore"
)

// Store is an in-memory implementation of docstore.Store.
// It is safe for concurrent use; a single lock covers precondition checks and writes.
type Store struct {
	mu   sync.RWMutex
	docs map[docstore.Path][]byte

	// FailCommit, when set, is returned by Commit before anything is checked or written.
	FailCommit error
}

func NewStore() *Store {
	return &Store{docs: make(map[docstore.Path][]byte)}
}

func (s *Store) Get(ctx context.Context, path docstore.Path) (json.RawMessage, bool, error) {
	_ = ctx
	if err := path.Validate(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.docs[path]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(raw), true, nil
}

func (s *Store) Commit(ctx context.Context, b docstore.Batch) error {
	_ = ctx
	if err := b.Validate(); err != nil {
		return err
	}
	encoded, err := b.EncodeWrites()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCommit != nil {
		return s.FailCommit
	}
	for _, p := range b.MustNotExist {
		if _, ok := s.docs[p]; ok {
			return &docstore.PreconditionFailedError{Path: p}
		}
	}
	for p, raw := range encoded {
		s.docs[p] = raw
	}
	for _, p := range b.Deletes {
		delete(s.docs, p)
	}
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Snapshot returns a copy of every stored document.
func (s *Store) Snapshot() map[docstore.Path]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[docstore.Path]json.RawMessage, len(s.docs))
	for p, raw := range s.docs {
		out[p] = cloneBytes(raw)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
