package models

import "errors"

// Error taxonomy shared by the server and the client. Server components wrap
// these with context; the client decodes API error kinds back into them.
var (
	ErrPathEscape    = errors.New("path escapes root")
	ErrNotFound      = errors.New("not found")
	ErrNotADirectory = errors.New("not a directory")
	ErrIsDirectory   = errors.New("is a directory")
	ErrAlreadyExists = errors.New("already exists")
	ErrIO            = errors.New("i/o error")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrBadRequest    = errors.New("bad request")
	ErrRateLimited   = errors.New("rate limited")
)
