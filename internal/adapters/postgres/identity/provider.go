package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	postgres "github.com/gocrave/runner-api/internal/adapters/postgres"
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/ports/out/identity"
)

const defaultPageSize = 1000

// Provider is a Postgres implementation of identity.Provider for deployments that
// manage logins themselves.
type Provider struct {
	pool *pgxpool.Pool

	// BcryptCost is the work factor for new password hashes.
	BcryptCost int
}

func NewProvider(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool, BcryptCost: bcrypt.DefaultCost}
}

func (p *Provider) LookupUser(ctx context.Context, uid domain.AuthUID) (identity.User, error) {
	if p.pool == nil {
		return identity.User{}, errors.New("nil postgres pool")
	}
	row := p.pool.QueryRow(ctx, `
		SELECT uid, email, display_name, custom_claims, created_at
		FROM identities
		WHERE uid = $1
	`, string(uid))
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.User{}, identity.ErrUserNotFound
		}
		return identity.User{}, err
	}
	return u, nil
}

func (p *Provider) CreateUser(ctx context.Context, in identity.NewUser) (identity.User, error) {
	if p.pool == nil {
		return identity.User{}, errors.New("nil postgres pool")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), p.BcryptCost)
	if err != nil {
		return identity.User{}, fmt.Errorf("hash password: %w", err)
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO identities (uid, email, display_name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING uid, email, display_name, custom_claims, created_at
	`, uuid.NewString(), in.Email, in.DisplayName, hash, time.Now().UTC())
	u, err := scanUser(row)
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode && pe.ConstraintName == "identities_email_unique" {
			return identity.User{}, identity.ErrEmailAlreadyExists
		}
		return identity.User{}, err
	}
	return u, nil
}

func (p *Provider) SetCustomClaims(ctx context.Context, uid domain.AuthUID, claims map[string]any) error {
	if p.pool == nil {
		return errors.New("nil postgres pool")
	}
	if claims == nil {
		claims = map[string]any{}
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("encode claims: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `UPDATE identities SET custom_claims = $2::jsonb WHERE uid = $1`, string(uid), string(b))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (p *Provider) DeleteUser(ctx context.Context, uid domain.AuthUID) error {
	if p.pool == nil {
		return errors.New("nil postgres pool")
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM identities WHERE uid = $1`, string(uid))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// ListUsers pages in uid order; the page token is the last uid of the previous page.
func (p *Provider) ListUsers(ctx context.Context, pageToken string, limit int) (identity.Page, error) {
	if p.pool == nil {
		return identity.Page{}, errors.New("nil postgres pool")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, err := p.pool.Query(ctx, `
		SELECT uid, email, display_name, custom_claims, created_at
		FROM identities
		WHERE uid > $1
		ORDER BY uid
		LIMIT $2
	`, pageToken, limit+1)
	if err != nil {
		return identity.Page{}, err
	}
	defer rows.Close()

	var page identity.Page
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return identity.Page{}, err
		}
		page.Users = append(page.Users, u)
	}
	if err := rows.Err(); err != nil {
		return identity.Page{}, err
	}
	if len(page.Users) > limit {
		page.Users = page.Users[:limit]
		page.NextPageToken = string(page.Users[limit-1].UID)
	}
	return page, nil
}

// CheckPassword reports whether password matches the stored hash for email.
func (p *Provider) CheckPassword(ctx context.Context, email, password string) (bool, error) {
	var hash []byte
	err := p.pool.QueryRow(ctx, `SELECT password_hash FROM identities WHERE lower(email) = lower($1)`, email).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if hash == nil {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil, nil
}

func scanUser(row pgx.Row) (identity.User, error) {
	var (
		u      identity.User
		uid    string
		claims []byte
	)
	if err := row.Scan(&uid, &u.Email, &u.DisplayName, &claims, &u.CreatedAt); err != nil {
		return identity.User{}, err
	}
	u.UID = domain.AuthUID(uid)
	u.CustomClaims = map[string]any{}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &u.CustomClaims); err != nil {
			return identity.User{}, fmt.Errorf("decode claims: %w", err)
		}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
