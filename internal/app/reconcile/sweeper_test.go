package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memclock "github.com/gocrave/runner-api/internal/adapters/memory/clock"
	memdocstore "github.com/gocrave/runner-api/internal/adapters/memory/docstore"
	memidentity "github.com/gocrave/runner-api/internal/adapters/memory/identity"
	"github.com/gocrave/runner-api/internal/app/runners"
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/ports/out/docstore"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seedPending(idp *memidentity.Provider, uid, runnerID string, age time.Duration) {
	idp.Seed(identity.User{
		UID:          domain.AuthUID(uid),
		Email:        uid + "@example.com",
		CustomClaims: identity.PendingRunnerClaims(domain.RunnerID(runnerID), domain.RunnerTypeIndependent, phoneFor(runnerID), testNow.Add(-age).UnixMilli()),
	})
}

func phoneFor(runnerID string) string {
	return "+1876555" + runnerID[len(runnerID)-4:]
}

// indexWrites are the three index entries a provisioning call reserves for uid.
func indexWrites(uid, runnerID string) map[docstore.Path]any {
	return map[docstore.Path]any{
		runners.IndexByAuthUIDPath(domain.AuthUID(uid)):          runnerID,
		runners.IndexByRunnerIDPath(domain.RunnerID(runnerID)): domain.RunnerIndexEntry{Type: domain.RunnerTypeIndependent, UID: domain.AuthUID(uid)},
		runners.IndexByPhonePath(phoneFor(runnerID)):             runnerID,
	}
}

func commitRecordSet(t *testing.T, docs docstore.Store, uid, runnerID string) {
	t.Helper()
	w := indexWrites(uid, runnerID)
	w[runners.RunnerPath(domain.RunnerTypeIndependent, domain.RunnerID(runnerID))] = domain.Runner{
		RunnerID:   domain.RunnerID(runnerID),
		RunnerType: domain.RunnerTypeIndependent,
		Phone:      phoneFor(runnerID),
		AuthUID:    domain.AuthUID(uid),
	}
	require.NoError(t, docs.Commit(context.Background(), docstore.Batch{Writes: w}))
}

func TestSweeper_ResolvesPendingIdentities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idp := memidentity.NewProvider()
	docs := memdocstore.NewStore()
	clk := memclock.NewManualClock(testNow)

	seedPending(idp, "uid-committed", "GC1001", time.Hour)
	seedPending(idp, "uid-orphan", "GC1002", time.Hour)
	seedPending(idp, "uid-young", "GC1003", time.Minute)
	idp.Seed(identity.User{
		UID:          "uid-admin",
		CustomClaims: map[string]any{identity.ClaimRole: "admin"},
	})
	commitRecordSet(t, docs, "uid-committed", "GC1001")

	sw := NewSweeper(idp, docs, clk)
	sw.PageSize = 1

	rep, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 4, Pending: 3, Finalized: 1, Deleted: 1, Skipped: 1}, rep)

	u, err := idp.LookupUser(ctx, "uid-committed")
	require.NoError(t, err)
	assert.Equal(t, identity.RunnerClaims("GC1001", domain.RunnerTypeIndependent), u.CustomClaims)

	_, err = idp.LookupUser(ctx, "uid-orphan")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	u, err = idp.LookupUser(ctx, "uid-young")
	require.NoError(t, err)
	_, pending := identity.PendingSince(u.CustomClaims)
	assert.True(t, pending)

	// Once the grace period passes the young orphan goes too.
	clk.Advance(DefaultGracePeriod)
	rep, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 2, idp.Count())
}

func TestSweeper_IndexWithoutRecordIsNotCommitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idp := memidentity.NewProvider()
	idp.Seed(identity.User{UID: "admin-1", CustomClaims: map[string]any{identity.ClaimRole: "admin"}})
	docs := memdocstore.NewStore()
	clk := memclock.NewManualClock(testNow)

	// Index entries reserved, record never written.
	seedPending(idp, "uid-stranded", "GC2002", time.Minute)
	require.NoError(t, docs.Commit(ctx, docstore.Batch{Writes: indexWrites("uid-stranded", "GC2002")}))

	sw := NewSweeper(idp, docs, clk)

	// Within the grace period the commit may still be in flight.
	rep, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Pending: 1, Skipped: 1}, rep)
	assert.Equal(t, 3, docs.Len())
	u, err := idp.LookupUser(ctx, "uid-stranded")
	require.NoError(t, err)
	_, pending := identity.PendingSince(u.CustomClaims)
	assert.True(t, pending)

	clk.Advance(DefaultGracePeriod)
	rep, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Finalized)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 0, docs.Len(), "index entries of the stranded identity must be released")
	_, err = idp.LookupUser(ctx, "uid-stranded")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	// The runnerId and phone are free again.
	age := 30.0
	_, err = runners.NewService(idp, docs, clk).Provision(ctx, "admin-1", runners.ProvisionInput{
		Name: "Retry", DOB: "2000-01-01", Age: &age, Address: "1 Main St", TRN: "111222333",
		IDType: "nid", IDNumber: "N9876543", RunnerID: "GC2002", Phone: phoneFor("GC2002"),
		RunnerType: "independent", LoginEmail: "retry@example.com",
	})
	require.NoError(t, err)
}

func TestSweeper_RecordOwnedByAnotherIdentityIsNotFinalized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idp := memidentity.NewProvider()
	docs := memdocstore.NewStore()
	clk := memclock.NewManualClock(testNow)

	// uid-winner committed GC3003; uid-loser kept a stale by-auth-uid entry naming it.
	commitRecordSet(t, docs, "uid-winner", "GC3003")
	seedPending(idp, "uid-loser", "GC3003", time.Hour)
	require.NoError(t, docs.Commit(ctx, docstore.Batch{
		Writes: map[docstore.Path]any{runners.IndexByAuthUIDPath("uid-loser"): "GC3003"},
	}))

	rep, err := NewSweeper(idp, docs, clk).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Pending: 1, Deleted: 1}, rep)

	// Only the loser's own entry goes; the winner's record set is untouched.
	_, ok, err := docs.Get(ctx, runners.IndexByAuthUIDPath("uid-loser"))
	require.NoError(t, err)
	assert.False(t, ok)
	for p := range indexWrites("uid-winner", "GC3003") {
		_, ok, err := docs.Get(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok, "winner entry %s removed", p)
	}
}

func TestSweeper_CountsFailuresAndContinues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idp := memidentity.NewProvider()
	seedPending(idp, "uid-a", "GC1001", time.Hour)
	seedPending(idp, "uid-b", "GC1002", time.Hour)
	idp.FailDelete = errors.New("identity service unavailable")

	sw := NewSweeper(idp, memdocstore.NewStore(), memclock.NewManualClock(testNow))
	rep, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 2, idp.Count())
}

type failingLister struct {
	*memidentity.Provider
}

func (failingLister) ListUsers(context.Context, string, int) (identity.Page, error) {
	return identity.Page{}, errors.New("list unavailable")
}

func TestSweeper_ListFailureAborts(t *testing.T) {
	t.Parallel()

	sw := NewSweeper(failingLister{memidentity.NewProvider()}, memdocstore.NewStore(), memclock.NewManualClock(testNow))
	_, err := sw.Run(context.Background())
	require.Error(t, err)
}

func TestSweeper_RemovesIdentityLeftByFailedProvisioning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idp := memidentity.NewProvider()
	idp.Seed(identity.User{UID: "admin-1", CustomClaims: map[string]any{identity.ClaimRole: "admin"}})
	docs := memdocstore.NewStore()
	clk := memclock.NewManualClock(testNow)

	docs.FailCommit = errors.New("store unavailable")
	idp.FailDelete = errors.New("identity service unavailable")

	age := 30.0
	_, err := runners.NewService(idp, docs, clk).Provision(ctx, "admin-1", runners.ProvisionInput{
		Name: "Orphan", DOB: "2000-01-01", Age: &age, Address: "1 Main St", TRN: "111222333",
		IDType: "nid", IDNumber: "N9876543", RunnerID: "GC4040", Phone: "8765550000",
		RunnerType: "goCrave", LoginEmail: "orphan@example.com",
	})
	require.Error(t, err)
	require.Equal(t, 2, idp.Count())

	docs.FailCommit = nil
	idp.FailDelete = nil
	clk.Advance(DefaultGracePeriod + time.Second)

	rep, err := NewSweeper(idp, docs, clk).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, idp.Count())
}

func TestSweeper_RunEveryStopsWithContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sw := NewSweeper(memidentity.NewProvider(), memdocstore.NewStore(), memclock.NewManualClock(testNow))

	done := make(chan error, 1)
	go func() { done <- sw.RunEvery(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunEvery did not return after cancel")
	}
}
