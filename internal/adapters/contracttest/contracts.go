package contracttest

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/gocrave/runner-api/internal/domain"
	docstoreport "github.com/gocrave/runner-api/internal/ports/out/docstore"
	identityport "github.com/gocrave/runner-api/internal/ports/out/identity"
)

type CleanupFunc = func()

type DocStoreFactory func(t *testing.T) (docstoreport.Store, CleanupFunc)
type IdentityProviderFactory func(t *testing.T) (identityport.Provider, CleanupFunc)

func RunDocStore(t *testing.T, newStore DocStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	// Shared backends (postgres, redis) keep data between runs; scope every path.
	root := "contract-" + uuid.NewString()
	p := func(segs ...string) docstoreport.Path {
		return docstoreport.Join(append([]string{root}, segs...)...)
	}

	if _, ok, err := store.Get(ctx, p("missing")); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	type rec struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	if err := store.Commit(ctx, docstoreport.Batch{
		Writes: map[docstoreport.Path]any{
			p("records", "a"):         rec{Name: "alpha", N: 1},
			p("index", "byName", "a"): "alpha",
		},
		MustNotExist: []docstoreport.Path{p("index", "byName", "a")},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	raw, ok, err := store.Get(ctx, p("records", "a"))
	if err != nil || !ok {
		t.Fatalf("Get record: ok=%v err=%v", ok, err)
	}
	var got rec
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if !reflect.DeepEqual(got, rec{Name: "alpha", N: 1}) {
		t.Fatalf("record=%+v", got)
	}
	raw, ok, err = store.Get(ctx, p("index", "byName", "a"))
	if err != nil || !ok {
		t.Fatalf("Get index: ok=%v err=%v", ok, err)
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil || name != "alpha" {
		t.Fatalf("index value=%q err=%v", name, err)
	}

	// A violated precondition rejects the whole batch.
	err = store.Commit(ctx, docstoreport.Batch{
		Writes: map[docstoreport.Path]any{
			p("records", "b"):         rec{Name: "beta", N: 2},
			p("index", "byName", "a"): "beta",
		},
		MustNotExist: []docstoreport.Path{p("index", "byName", "a")},
	})
	if !errors.Is(err, docstoreport.ErrPreconditionFailed) {
		t.Fatalf("expected ErrPreconditionFailed, got %v", err)
	}
	var pfe *docstoreport.PreconditionFailedError
	if !errors.As(err, &pfe) || pfe.Path != p("index", "byName", "a") {
		t.Fatalf("expected PreconditionFailedError naming the guarded path, got %v", err)
	}
	if _, ok, err := store.Get(ctx, p("records", "b")); err != nil || ok {
		t.Fatalf("partial write observed: ok=%v err=%v", ok, err)
	}
	raw, _, _ = store.Get(ctx, p("index", "byName", "a"))
	if err := json.Unmarshal(raw, &name); err != nil || name != "alpha" {
		t.Fatalf("guarded value overwritten: %q", name)
	}

	// Unguarded writes overwrite.
	if err := store.Commit(ctx, docstoreport.Batch{
		Writes: map[docstoreport.Path]any{p("records", "a"): rec{Name: "alpha", N: 3}},
	}); err != nil {
		t.Fatalf("Commit overwrite: %v", err)
	}
	raw, _, _ = store.Get(ctx, p("records", "a"))
	if err := json.Unmarshal(raw, &got); err != nil || got.N != 3 {
		t.Fatalf("overwrite not applied: %+v err=%v", got, err)
	}

	// Deletes apply in the same unit as writes; an absent path is not an error.
	if err := store.Commit(ctx, docstoreport.Batch{
		Writes:  map[docstoreport.Path]any{p("records", "c"): rec{Name: "gamma", N: 4}},
		Deletes: []docstoreport.Path{p("index", "byName", "a"), p("never-written")},
	}); err != nil {
		t.Fatalf("Commit with deletes: %v", err)
	}
	if _, ok, err := store.Get(ctx, p("index", "byName", "a")); err != nil || ok {
		t.Fatalf("deleted path still present: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Get(ctx, p("records", "c")); err != nil || !ok {
		t.Fatalf("write next to delete missing: ok=%v err=%v", ok, err)
	}
	if err := store.Commit(ctx, docstoreport.Batch{Deletes: []docstoreport.Path{p("records", "c")}}); err != nil {
		t.Fatalf("delete-only Commit: %v", err)
	}
	if _, ok, _ := store.Get(ctx, p("records", "c")); ok {
		t.Fatalf("delete-only Commit left the document")
	}
	if err := store.Commit(ctx, docstoreport.Batch{
		Writes:  map[docstoreport.Path]any{p("records", "d"): 1},
		Deletes: []docstoreport.Path{p("records", "d")},
	}); !errors.Is(err, docstoreport.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath for write+delete of one path, got %v", err)
	}

	if err := store.Commit(ctx, docstoreport.Batch{}); !errors.Is(err, docstoreport.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if err := store.Commit(ctx, docstoreport.Batch{
		Writes: map[docstoreport.Path]any{docstoreport.Path(root + "/bad.key"): 1},
	}); !errors.Is(err, docstoreport.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
	if _, _, err := store.Get(ctx, docstoreport.Path(root+"//x")); !errors.Is(err, docstoreport.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath on Get, got %v", err)
	}

	// Racing commits guarded by the same path: exactly one wins.
	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		rejects int
	)
	guard := p("index", "race")
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Commit(ctx, docstoreport.Batch{
				Writes: map[docstoreport.Path]any{
					guard:                       i,
					p("race", uuid.NewString()): i,
				},
				MustNotExist: []docstoreport.Path{guard},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, docstoreport.ErrPreconditionFailed):
				rejects++
			default:
				t.Errorf("racer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || rejects != racers-1 {
		t.Fatalf("race: wins=%d rejects=%d, want 1/%d", wins, rejects, racers-1)
	}
}

func RunIdentityProvider(t *testing.T, newProvider IdentityProviderFactory) {
	t.Helper()
	ctx := context.Background()

	prov, cleanup := newProvider(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	email := "runner-" + uuid.NewString() + "@example.com"
	u, err := prov.CreateUser(ctx, identityport.NewUser{
		Email:       email,
		Password:    "s3cret-pass",
		DisplayName: "Runner One",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.UID == "" || u.Email != email || u.DisplayName != "Runner One" {
		t.Fatalf("created user=%+v", u)
	}

	if _, err := prov.CreateUser(ctx, identityport.NewUser{Email: email, Password: "other-pass", DisplayName: "Dup"}); !errors.Is(err, identityport.ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}

	got, err := prov.LookupUser(ctx, u.UID)
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if len(got.CustomClaims) != 0 {
		t.Fatalf("expected no claims, got %v", got.CustomClaims)
	}

	if err := prov.SetCustomClaims(ctx, u.UID, identityport.PendingRunnerClaims("GC1234", domain.RunnerTypeGoCrave, "+18765550101", 1000)); err != nil {
		t.Fatalf("SetCustomClaims pending: %v", err)
	}
	got, _ = prov.LookupUser(ctx, u.UID)
	if since, ok := identityport.PendingSince(got.CustomClaims); !ok || since != 1000 || identityport.PendingPhone(got.CustomClaims) != "+18765550101" {
		t.Fatalf("pending claims not stored: %v", got.CustomClaims)
	}

	// Claims are replaced, not merged.
	if err := prov.SetCustomClaims(ctx, u.UID, identityport.RunnerClaims("GC1234", domain.RunnerTypeGoCrave)); err != nil {
		t.Fatalf("SetCustomClaims final: %v", err)
	}
	got, _ = prov.LookupUser(ctx, u.UID)
	if _, ok := identityport.PendingSince(got.CustomClaims); ok {
		t.Fatalf("pending tag survived replacement: %v", got.CustomClaims)
	}
	if identityport.RoleOf(got.CustomClaims) != domain.RoleRunner || got.CustomClaims[identityport.ClaimRunnerID] != "GC1234" {
		t.Fatalf("claims=%v", got.CustomClaims)
	}

	second, err := prov.CreateUser(ctx, identityport.NewUser{
		Email:       "runner-" + uuid.NewString() + "@example.com",
		Password:    "s3cret-pass",
		DisplayName: "Runner Two",
	})
	if err != nil {
		t.Fatalf("CreateUser second: %v", err)
	}

	seen := map[domain.AuthUID]bool{}
	token := ""
	for pages := 0; ; pages++ {
		if pages > 10000 {
			t.Fatalf("ListUsers does not terminate")
		}
		page, err := prov.ListUsers(ctx, token, 1)
		if err != nil {
			t.Fatalf("ListUsers: %v", err)
		}
		if len(page.Users) > 1 {
			t.Fatalf("ListUsers ignored limit: %d users", len(page.Users))
		}
		for _, pu := range page.Users {
			seen[pu.UID] = true
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if !seen[u.UID] || !seen[second.UID] {
		t.Fatalf("ListUsers missed created identities")
	}

	if err := prov.DeleteUser(ctx, u.UID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := prov.LookupUser(ctx, u.UID); !errors.Is(err, identityport.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound after delete, got %v", err)
	}
	if err := prov.DeleteUser(ctx, u.UID); !errors.Is(err, identityport.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound deleting twice, got %v", err)
	}
	if err := prov.SetCustomClaims(ctx, u.UID, map[string]any{}); !errors.Is(err, identityport.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound setting claims, got %v", err)
	}

	// The email is free again once the identity is gone.
	if _, err := prov.CreateUser(ctx, identityport.NewUser{Email: email, Password: "s3cret-pass", DisplayName: "Again"}); err != nil {
		t.Fatalf("CreateUser after delete: %v", err)
	}
}
