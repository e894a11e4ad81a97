package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

const defaultPageSize = 1000

type record struct {
	user         identity.User
	passwordHash []byte
}

// Provider is an in-memory implementation of identity.Provider.
// It is safe for concurrent use.
type Provider struct {
	mu        sync.RWMutex
	byUID     map[domain.AuthUID]record
	uidByMail map[string]domain.AuthUID

	bcryptCost int
	now        func() time.Time

	// Injected failures, used by tests to exercise partial-failure paths.
	FailCreate    error
	FailSetClaims error
	FailDelete    error
}

// NewProvider returns an empty provider. Password hashes use bcrypt.MinCost since this
// backend only serves tests and local development.
func NewProvider() *Provider {
	return &Provider{
		byUID:      make(map[domain.AuthUID]record),
		uidByMail:  make(map[string]domain.AuthUID),
		bcryptCost: bcrypt.MinCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Seed inserts an identity as-is (for example an admin caller) without a password.
func (p *Provider) Seed(u identity.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byUID[u.UID] = record{user: cloneUser(u)}
	if u.Email != "" {
		p.uidByMail[u.Email] = u.UID
	}
}

func (p *Provider) LookupUser(ctx context.Context, uid domain.AuthUID) (identity.User, error) {
	_ = ctx
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.byUID[uid]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return cloneUser(rec.user), nil
}

func (p *Provider) CreateUser(ctx context.Context, in identity.NewUser) (identity.User, error) {
	_ = ctx
	if p.FailCreate != nil {
		return identity.User{}, p.FailCreate
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), p.bcryptCost)
	if err != nil {
		return identity.User{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.uidByMail[in.Email]; ok {
		return identity.User{}, identity.ErrEmailAlreadyExists
	}
	u := identity.User{
		UID:          domain.AuthUID(uuid.NewString()),
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		CustomClaims: map[string]any{},
		CreatedAt:    p.now(),
	}
	p.byUID[u.UID] = record{user: u, passwordHash: hash}
	p.uidByMail[u.Email] = u.UID
	return cloneUser(u), nil
}

func (p *Provider) SetCustomClaims(ctx context.Context, uid domain.AuthUID, claims map[string]any) error {
	_ = ctx
	if p.FailSetClaims != nil {
		return p.FailSetClaims
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.byUID[uid]
	if !ok {
		return identity.ErrUserNotFound
	}
	rec.user.CustomClaims = cloneClaims(claims)
	p.byUID[uid] = rec
	return nil
}

func (p *Provider) DeleteUser(ctx context.Context, uid domain.AuthUID) error {
	_ = ctx
	if p.FailDelete != nil {
		return p.FailDelete
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.byUID[uid]
	if !ok {
		return identity.ErrUserNotFound
	}
	delete(p.byUID, uid)
	delete(p.uidByMail, rec.user.Email)
	return nil
}

func (p *Provider) ListUsers(ctx context.Context, pageToken string, limit int) (identity.Page, error) {
	_ = ctx
	if limit <= 0 {
		limit = defaultPageSize
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	uids := make([]string, 0, len(p.byUID))
	for uid := range p.byUID {
		if string(uid) > pageToken {
			uids = append(uids, string(uid))
		}
	}
	sort.Strings(uids)

	page := identity.Page{}
	for i, uid := range uids {
		if i == limit {
			page.NextPageToken = uids[i-1]
			break
		}
		page.Users = append(page.Users, cloneUser(p.byUID[domain.AuthUID(uid)].user))
	}
	return page, nil
}

// CheckPassword reports whether password matches the stored hash for email.
func (p *Provider) CheckPassword(email, password string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	uid, ok := p.uidByMail[email]
	if !ok {
		return false
	}
	rec := p.byUID[uid]
	if rec.passwordHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password)) == nil
}

// Count returns the number of identities.
func (p *Provider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUID)
}

func cloneUser(u identity.User) identity.User {
	out := u
	out.CustomClaims = cloneClaims(u.CustomClaims)
	return out
}

func cloneClaims(c map[string]any) map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
