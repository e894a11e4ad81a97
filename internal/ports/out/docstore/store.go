package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Path is a slash-separated document location such as "runnerIndex/byPhone/+18765550101".
//
// Stores address documents by exact path: a Get returns what a Commit wrote at that same
// path, never an aggregate of the paths beneath it.
type Path string

// Join builds a Path from segments. It does not validate; see Validate.
func Join(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

// Validate rejects empty paths and empty segments, and the characters the realtime
// database forbids in keys (. $ # [ ]).
func (p Path) Validate() error {
	if p == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(string(p), "/") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, p)
		}
		if strings.ContainsAny(seg, ".$#[]") {
			return fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidPath, p)
		}
	}
	return nil
}

// Batch is a set of writes applied as one all-or-nothing unit.
//
// Values must be JSON-marshalable. Deletes removes documents; deleting an absent path
// is not an error. A path may not be both written and deleted. MustNotExist lists paths
// that have to be absent when the batch is applied; if any exists, nothing is written
// and Commit returns a *PreconditionFailedError.
type Batch struct {
	Writes       map[Path]any
	Deletes      []Path
	MustNotExist []Path
}

// Validate checks every path in the batch.
func (b Batch) Validate() error {
	if len(b.Writes) == 0 && len(b.Deletes) == 0 {
		return ErrEmptyBatch
	}
	for p := range b.Writes {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, p := range b.Deletes {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := b.Writes[p]; ok {
			return fmt.Errorf("%w: %q is both written and deleted", ErrInvalidPath, p)
		}
	}
	for _, p := range b.MustNotExist {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EncodeWrites marshals every value of the batch, keyed by path.
func (b Batch) EncodeWrites() (map[Path][]byte, error) {
	out := make(map[Path][]byte, len(b.Writes))
	for p, v := range b.Writes {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", p, err)
		}
		out[p] = raw
	}
	return out, nil
}

// Store is a keyed JSON document store with conditional multi-path commits.
type Store interface {
	// Get returns the document stored at path. ok is false when nothing is stored there.
	Get(ctx context.Context, path Path) (doc json.RawMessage, ok bool, err error)

	// Commit applies the batch atomically, guarded by its MustNotExist preconditions.
	Commit(ctx context.Context, b Batch) error
}
