// Package reconcile repairs runner identities left behind by provisioning calls that
// failed between identity creation and the record commit.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gocrave/runner-api/internal/app/runners"
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/platform/logger"
	"github.com/gocrave/runner-api/internal/platform/metrics"
	clockport "github.com/gocrave/runner-api/internal/ports/out/clock"
	"github.com/gocrave/runner-api/internal/ports/out/docstore"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

const (
	DefaultGracePeriod = 15 * time.Minute
	DefaultConcurrency = 4
	DefaultPageSize    = 500
)

// Report summarizes one sweep.
type Report struct {
	Scanned   int
	Pending   int
	Finalized int
	Deleted   int
	Skipped   int
	Failed    int
}

// Sweeper walks every identity and resolves the ones still tagged pending:
// those whose record set was committed get their final claims, those older than
// GracePeriod without a record are deleted, younger ones are left alone.
type Sweeper struct {
	idp  identity.Provider
	docs docstore.Store
	clk  clockport.Clock

	GracePeriod time.Duration
	Concurrency int
	PageSize    int
	Metrics     *metrics.Metrics
}

func NewSweeper(idp identity.Provider, docs docstore.Store, clk clockport.Clock) *Sweeper {
	return &Sweeper{
		idp:         idp,
		docs:        docs,
		clk:         clk,
		GracePeriod: DefaultGracePeriod,
		Concurrency: DefaultConcurrency,
		PageSize:    DefaultPageSize,
	}
}

// Run performs one full sweep. Failures on single identities are counted and logged;
// only a failure to list identities (or ctx ending) aborts the sweep.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	log := logger.From(ctx).Named("reconcile")

	var (
		mu  sync.Mutex
		rep Report
		g   errgroup.Group
	)
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)

	record := func(a action) {
		mu.Lock()
		defer mu.Unlock()
		switch a {
		case actionFinalized:
			rep.Finalized++
		case actionDeleted:
			rep.Deleted++
		case actionSkipped:
			rep.Skipped++
		case actionFailed:
			rep.Failed++
		}
	}

	now := s.clk.Now().UTC().UnixMilli()
	token := ""
	var listErr error
	for {
		if err := ctx.Err(); err != nil {
			listErr = err
			break
		}
		page, err := s.idp.ListUsers(ctx, token, s.PageSize)
		if err != nil {
			listErr = fmt.Errorf("list identities: %w", err)
			break
		}
		for _, u := range page.Users {
			mu.Lock()
			rep.Scanned++
			mu.Unlock()

			since, pending := identity.PendingSince(u.CustomClaims)
			if !pending {
				continue
			}
			mu.Lock()
			rep.Pending++
			mu.Unlock()

			g.Go(func() error {
				a, err := s.resolve(ctx, u, since, now)
				if err != nil {
					log.Warn("reconcile identity failed", logger.AuthUID(string(u.UID)), zap.Error(err))
					a = actionFailed
				}
				record(a)
				return nil
			})
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	_ = g.Wait()

	s.Metrics.ObserveReconcile(string(actionFinalized), rep.Finalized)
	s.Metrics.ObserveReconcile(string(actionDeleted), rep.Deleted)
	s.Metrics.ObserveReconcile(string(actionSkipped), rep.Skipped)
	s.Metrics.ObserveReconcile(string(actionFailed), rep.Failed)

	return rep, listErr
}

// RunEvery sweeps immediately and then once per interval until ctx is done.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration) error {
	log := logger.From(ctx).Named("reconcile")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		rep, err := s.Run(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("sweep aborted", zap.Error(err))
		} else if err == nil {
			log.Info("sweep complete",
				zap.Int("scanned", rep.Scanned),
				zap.Int("pending", rep.Pending),
				zap.Int("finalized", rep.Finalized),
				zap.Int("deleted", rep.Deleted),
				zap.Int("skipped", rep.Skipped),
				zap.Int("failed", rep.Failed),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

type action string

const (
	actionFinalized action = "finalized"
	actionDeleted   action = "deleted"
	actionSkipped   action = "skipped"
	actionFailed    action = "failed"
)

func (s *Sweeper) resolve(ctx context.Context, u identity.User, since, now int64) (action, error) {
	id, typ, committed, err := s.committedRecord(ctx, u.UID)
	if err != nil {
		return actionFailed, err
	}
	if committed {
		if err := s.idp.SetCustomClaims(ctx, u.UID, identity.RunnerClaims(id, typ)); err != nil {
			return actionFailed, fmt.Errorf("finalize claims: %w", err)
		}
		return actionFinalized, nil
	}

	// Index entries without a record may belong to a commit still in flight.
	if time.Duration(now-since)*time.Millisecond < s.GracePeriod {
		return actionSkipped, nil
	}

	// Release the identity's index entries first: an identity deleted before its entries
	// would no longer be found by the next sweep.
	dangling, err := s.danglingIndexes(ctx, u)
	if err != nil {
		return actionFailed, err
	}
	if len(dangling) > 0 {
		if err := s.docs.Commit(ctx, docstore.Batch{Deletes: dangling}); err != nil {
			return actionFailed, fmt.Errorf("release index entries: %w", err)
		}
	}

	if err := s.idp.DeleteUser(ctx, u.UID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return actionSkipped, nil
		}
		return actionFailed, fmt.Errorf("delete identity: %w", err)
	}
	logger.From(ctx).Info("deleted orphaned runner identity",
		logger.AuthUID(string(u.UID)),
		zap.Int("released_index_entries", len(dangling)),
	)
	return actionDeleted, nil
}

// committedRecord reports whether a complete record set for uid exists: the by-auth-uid
// index names a runnerId, the by-runnerId index points back at uid, and the runner record
// it locates carries uid as its authUid. An index entry alone is not proof of a commit.
func (s *Sweeper) committedRecord(ctx context.Context, uid domain.AuthUID) (domain.RunnerID, domain.RunnerType, bool, error) {
	var id domain.RunnerID
	ok, err := s.getJSON(ctx, runners.IndexByAuthUIDPath(uid), &id)
	if err != nil || !ok {
		return "", "", false, err
	}
	var entry domain.RunnerIndexEntry
	ok, err = s.getJSON(ctx, runners.IndexByRunnerIDPath(id), &entry)
	if err != nil || !ok || entry.UID != uid {
		return "", "", false, err
	}
	var rec domain.Runner
	ok, err = s.getJSON(ctx, runners.RunnerPath(entry.Type, id), &rec)
	if err != nil || !ok || rec.AuthUID != uid {
		return "", "", false, err
	}
	return id, entry.Type, true, nil
}

// danglingIndexes lists the index entries reserved for u by a provisioning call whose
// record never landed. Entries that point at another identity are left alone.
func (s *Sweeper) danglingIndexes(ctx context.Context, u identity.User) ([]docstore.Path, error) {
	var out []docstore.Path

	claimed, _ := u.CustomClaims[identity.ClaimRunnerID].(string)
	id := domain.NormalizeRunnerID(claimed)
	var indexed domain.RunnerID
	authPath := runners.IndexByAuthUIDPath(u.UID)
	ok, err := s.getJSON(ctx, authPath, &indexed)
	if err != nil {
		return nil, err
	}
	if ok {
		out = append(out, authPath)
		id = indexed
	}
	if !domain.ValidRunnerID(id) {
		return out, nil
	}

	var entry domain.RunnerIndexEntry
	idPath := runners.IndexByRunnerIDPath(id)
	idTaken, err := s.getJSON(ctx, idPath, &entry)
	if err != nil {
		return nil, err
	}
	ownsID := idTaken && entry.UID == u.UID
	if ownsID {
		out = append(out, idPath)
	}

	phone := identity.PendingPhone(u.CustomClaims)
	if !domain.ValidPhone(phone) || (idTaken && !ownsID) {
		return out, nil
	}
	var phoneOwner domain.RunnerID
	phonePath := runners.IndexByPhonePath(phone)
	ok, err = s.getJSON(ctx, phonePath, &phoneOwner)
	if err != nil {
		return nil, err
	}
	if ok && phoneOwner == id {
		out = append(out, phonePath)
	}
	return out, nil
}

func (s *Sweeper) getJSON(ctx context.Context, p docstore.Path, dst any) (bool, error) {
	raw, ok, err := s.docs.Get(ctx, p)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", p, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", p, err)
	}
	return true, nil
}
