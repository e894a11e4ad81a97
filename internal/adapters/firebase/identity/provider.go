package identity

import (
	"context"
	"time"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"

	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

// Firebase Auth caps list pages at 1000 users.
const maxPageSize = 1000

// Provider implements identity.Provider on Firebase Authentication.
type Provider struct {
	client *auth.Client
}

func NewProvider(client *auth.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) LookupUser(ctx context.Context, uid domain.AuthUID) (identity.User, error) {
	rec, err := p.client.GetUser(ctx, string(uid))
	if err != nil {
		return identity.User{}, mapError(err)
	}
	return toUser(rec), nil
}

func (p *Provider) CreateUser(ctx context.Context, in identity.NewUser) (identity.User, error) {
	params := (&auth.UserToCreate{}).
		Email(in.Email).
		Password(in.Password).
		DisplayName(in.DisplayName)
	rec, err := p.client.CreateUser(ctx, params)
	if err != nil {
		return identity.User{}, mapError(err)
	}
	return toUser(rec), nil
}

func (p *Provider) SetCustomClaims(ctx context.Context, uid domain.AuthUID, claims map[string]any) error {
	return mapError(p.client.SetCustomUserClaims(ctx, string(uid), claims))
}

func (p *Provider) DeleteUser(ctx context.Context, uid domain.AuthUID) error {
	return mapError(p.client.DeleteUser(ctx, string(uid)))
}

func (p *Provider) ListUsers(ctx context.Context, pageToken string, limit int) (identity.Page, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	pager := iterator.NewPager(p.client.Users(ctx, ""), limit, pageToken)

	var batch []*auth.ExportedUserRecord
	next, err := pager.NextPage(&batch)
	if err != nil {
		return identity.Page{}, err
	}
	page := identity.Page{NextPageToken: next}
	for _, r := range batch {
		page.Users = append(page.Users, toUser(r.UserRecord))
	}
	return page, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case auth.IsUserNotFound(err):
		return identity.ErrUserNotFound
	case auth.IsEmailAlreadyExists(err):
		return identity.ErrEmailAlreadyExists
	default:
		return err
	}
}

func toUser(rec *auth.UserRecord) identity.User {
	if rec == nil || rec.UserInfo == nil {
		return identity.User{}
	}
	u := identity.User{
		UID:          domain.AuthUID(rec.UID),
		Email:        rec.Email,
		DisplayName:  rec.DisplayName,
		CustomClaims: map[string]any{},
	}
	for k, v := range rec.CustomClaims {
		u.CustomClaims[k] = v
	}
	if rec.UserMetadata != nil {
		u.CreatedAt = time.UnixMilli(rec.UserMetadata.CreationTimestamp).UTC()
	}
	return u
}
