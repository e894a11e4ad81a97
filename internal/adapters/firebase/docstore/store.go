package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"

	"github.com/gocrave/runner-api/internal/platform/logger"
	"github.com/gocrave/runner-api/internal/ports/out/docstore"
)

var errTaken = errors.New("path already exists")

// Store implements docstore.Store on the Firebase Realtime Database.
//
// The database has no multi-location conditional write. Each guarded path that is also
// written is claimed with its own transaction (which only succeeds on an empty
// location); the remaining writes then go out as one multi-path update. If any claim or
// the update fails, the claims already taken are removed again.
type Store struct {
	client *db.Client
}

func NewStore(client *db.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, path docstore.Path) (json.RawMessage, bool, error) {
	if err := path.Validate(); err != nil {
		return nil, false, err
	}
	var raw json.RawMessage
	if err := s.client.NewRef(string(path)).Get(ctx, &raw); err != nil {
		return nil, false, err
	}
	if isNull(raw) {
		return nil, false, nil
	}
	return raw, true, nil
}

func (s *Store) Commit(ctx context.Context, b docstore.Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	encoded, err := b.EncodeWrites()
	if err != nil {
		return err
	}

	var claimed []docstore.Path
	release := func() {
		rctx := context.WithoutCancel(ctx)
		for _, p := range claimed {
			if err := s.client.NewRef(string(p)).Delete(rctx); err != nil {
				logger.From(ctx).Error("release claimed path failed", zap.String("path", string(p)), zap.Error(err))
			}
		}
	}

	for _, p := range b.MustNotExist {
		raw, written := encoded[p]
		if !written {
			_, exists, err := s.Get(ctx, p)
			if err != nil {
				release()
				return err
			}
			if exists {
				release()
				return &docstore.PreconditionFailedError{Path: p}
			}
			continue
		}
		err := s.client.NewRef(string(p)).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
			var cur json.RawMessage
			if err := tn.Unmarshal(&cur); err != nil {
				return nil, err
			}
			if !isNull(cur) {
				return nil, errTaken
			}
			return json.RawMessage(raw), nil
		})
		if err != nil {
			release()
			if errors.Is(err, errTaken) {
				return &docstore.PreconditionFailedError{Path: p}
			}
			return fmt.Errorf("claim %s: %w", p, err)
		}
		claimed = append(claimed, p)
	}

	rest := make(map[string]interface{}, len(encoded)+len(b.Deletes))
	for p, raw := range encoded {
		if contains(claimed, p) {
			continue
		}
		rest[string(p)] = json.RawMessage(raw)
	}
	// A nil value in a multi-path update removes the node.
	for _, p := range b.Deletes {
		rest[string(p)] = nil
	}
	if len(rest) == 0 {
		return nil
	}
	if err := s.client.NewRef("/").Update(ctx, rest); err != nil {
		release()
		return fmt.Errorf("multi-path update: %w", err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func contains(ps []docstore.Path, p docstore.Path) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}
