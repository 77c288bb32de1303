package app

import "errors"

var (
	// ErrInvalidInput covers user-correctable input such as an empty prompt or folder name.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthenticated is returned when no caller identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound is returned both for missing rows and for rows owned by someone else,
	// so callers cannot probe for existence.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReference means a patch names a folder the caller does not own.
	ErrInvalidReference = errors.New("invalid folder reference")
	// ErrCompletionFailed wraps provider failures; the detail stays server-side.
	ErrCompletionFailed = errors.New("completion failed")
	ErrStorage          = errors.New("storage failure")

	// ErrInvalidCredentials is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrOAuthUnavailable   = errors.New("oauth sign-in not configured")
)
