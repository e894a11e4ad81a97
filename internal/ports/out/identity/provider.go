package identity

import (
	"context"
	"time"

	"github.com/gocrave/runner-api/internal/domain"
)

// User is an identity as seen through the provider.
type User struct {
	UID          domain.AuthUID
	Email        string
	DisplayName  string
	CustomClaims map[string]any
	CreatedAt    time.Time
}

// NewUser is the input of CreateUser. Password is plaintext and must only be handed
// to the provider, never stored elsewhere.
type NewUser struct {
	Email       string
	Password    string
	DisplayName string
}

// Page is one page of ListUsers. An empty NextPageToken means the listing is complete.
type Page struct {
	Users         []User
	NextPageToken string
}

// Provider is the external identity platform.
type Provider interface {
	LookupUser(ctx context.Context, uid domain.AuthUID) (User, error)
	CreateUser(ctx context.Context, in NewUser) (User, error)
	// SetCustomClaims replaces the full claim set of the identity.
	SetCustomClaims(ctx context.Context, uid domain.AuthUID, claims map[string]any) error
	DeleteUser(ctx context.Context, uid domain.AuthUID) error
	ListUsers(ctx context.Context, pageToken string, limit int) (Page, error)
}
