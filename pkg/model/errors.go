package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrInvalidID indicates a session or item ID that fails charset/length validation.
	ErrInvalidID = goerr.New("invalid identifier")

	// ErrPathViolation indicates a relative path that escapes the session root.
	ErrPathViolation = goerr.New("path resolves outside session root")

	// ErrNotFound indicates a referenced item or file does not exist.
	ErrNotFound = goerr.New("not found")

	// ErrAlreadyExists indicates a write without overwrite onto an existing file.
	ErrAlreadyExists = goerr.New("already exists")

	// ErrExternalCommand indicates the subtitle source failed or returned unusable output.
	ErrExternalCommand = goerr.New("external command failed")
)
