package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/gocrave/runner-api/internal/ports/out/docstore"
)

const maxWatchAttempts = 3

// Store is a Redis implementation of docstore.Store. Each path is a string key holding
// the JSON document.
//
// Guarded paths are WATCHed and checked before a MULTI/EXEC of all writes; a concurrent
// change to any of them aborts the EXEC and the check is repeated.
type Store struct {
	c      rdb.UniversalClient
	prefix string
}

func NewStore(c rdb.UniversalClient, prefix string) *Store {
	return &Store{c: c, prefix: prefix}
}

// New dials a single-node client.
func New(addr string, db int, prefix string) *Store {
	return NewStore(rdb.NewClient(&rdb.Options{Addr: addr, DB: db}), prefix)
}

func (s *Store) Close() error {
	return s.c.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

func (s *Store) key(p docstore.Path) string {
	return s.prefix + string(p)
}

func (s *Store) Get(ctx context.Context, path docstore.Path) (json.RawMessage, bool, error) {
	if err := path.Validate(); err != nil {
		return nil, false, err
	}
	b, err := s.c.Get(ctx, s.key(path)).Bytes()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return json.RawMessage(b), true, nil
}

func (s *Store) Commit(ctx context.Context, b docstore.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	encoded, err := b.EncodeWrites()
	if err != nil {
		return err
	}

	watched := make([]string, len(b.MustNotExist))
	for i, p := range b.MustNotExist {
		watched[i] = s.key(p)
	}

	txf := func(tx *rdb.Tx) error {
		for _, p := range b.MustNotExist {
			n, err := tx.Exists(ctx, s.key(p)).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return &docstore.PreconditionFailedError{Path: p}
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
			for p, raw := range encoded {
				pipe.Set(ctx, s.key(p), raw, 0)
			}
			for _, p := range b.Deletes {
				pipe.Del(ctx, s.key(p))
			}
			return nil
		})
		return err
	}

	return retryWatch(maxWatchAttempts, func() error {
		return s.c.Watch(ctx, txf, watched...)
	})
}

// retryWatch repeats an optimistic transaction while EXEC is aborted by a concurrent
// change. Running out of attempts is contention, not a violated precondition: the
// guarded keys may well still be absent.
func retryWatch(attempts int, watch func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = watch()
		if !errors.Is(err, rdb.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis commit gave up after %d attempts: %w: %w", attempts, docstore.ErrContention, err)
}
