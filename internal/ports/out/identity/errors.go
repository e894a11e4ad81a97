package identity

import "errors"

var (
	// ErrUserNotFound indicates no identity exists for the uid.
	ErrUserNotFound = errors.New("identity not found")

	// ErrEmailAlreadyExists indicates another identity already uses the email.
	ErrEmailAlreadyExists = errors.New("identity email already exists")
)
