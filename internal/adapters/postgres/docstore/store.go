package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gocrave/runner-api/internal/ports/out/docstore"
)

// Store is a Postgres implementation of docstore.Store backed by the documents table.
//
// A commit runs in one transaction. Guarded paths that are also written are inserted
// with ON CONFLICT DO NOTHING, so a concurrent committer of the same path either blocks
// until this transaction ends or sees zero affected rows.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, path docstore.Path) (json.RawMessage, bool, error) {
	if s.pool == nil {
		return nil, false, errors.New("nil postgres pool")
	}
	if err := path.Validate(); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM documents WHERE path = $1`, string(path)).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}

func (s *Store) Commit(ctx context.Context, b docstore.Batch) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	if err := b.Validate(); err != nil {
		return err
	}
	encoded, err := b.EncodeWrites()
	if err != nil {
		return err
	}

	guarded := make(map[docstore.Path]bool, len(b.MustNotExist))
	for _, p := range b.MustNotExist {
		guarded[p] = true
	}
	rest := make([]docstore.Path, 0, len(encoded))
	for p := range encoded {
		if !guarded[p] {
			rest = append(rest, p)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, p := range b.MustNotExist {
			raw, written := encoded[p]
			if !written {
				var exists bool
				if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE path = $1)`, string(p)).Scan(&exists); err != nil {
					return err
				}
				if exists {
					return &docstore.PreconditionFailedError{Path: p}
				}
				continue
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO documents (path, value) VALUES ($1, $2::jsonb)
				ON CONFLICT (path) DO NOTHING
			`, string(p), string(raw))
			if err != nil {
				return fmt.Errorf("insert %s: %w", p, err)
			}
			if tag.RowsAffected() == 0 {
				return &docstore.PreconditionFailedError{Path: p}
			}
		}
		for _, p := range rest {
			if _, err := tx.Exec(ctx, `
				INSERT INTO documents (path, value) VALUES ($1, $2::jsonb)
				ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			`, string(p), string(encoded[p])); err != nil {
				return fmt.Errorf("upsert %s: %w", p, err)
			}
		}
		if len(b.Deletes) > 0 {
			paths := make([]string, len(b.Deletes))
			for i, p := range b.Deletes {
				paths[i] = string(p)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE path = ANY($1)`, paths); err != nil {
				return fmt.Errorf("delete documents: %w", err)
			}
		}
		return nil
	})
}
