// Package firebase connects to the Firebase project that hosts runner logins and the
// realtime database.
package firebase

import (
	"context"
	"errors"
	"fmt"

	fb "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

type Config struct {
	ProjectID   string
	DatabaseURL string
	// CredentialsFile is a service account key. Empty means application default
	// credentials (or the emulators, when their env vars are set).
	CredentialsFile string
}

func NewApp(ctx context.Context, cfg Config) (*fb.App, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := fb.NewApp(ctx, &fb.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}
