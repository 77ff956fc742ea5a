// Package common defines shared constants and sentinel errors used across
// the chatkeeper packages. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound           = errors.New("not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadyExists        = errors.New("already exists")

	// Blob store errors.
	ErrBlobNotFound = errors.New("blob not found")
	ErrStorage      = errors.New("storage error")

	// ErrParse marks malformed transcripts and undecodable file URLs.
	// Readers recover from it; it is never fatal to a batch.
	ErrParse = errors.New("parse error")

	// Validation errors.
	ErrInvalidSender = errors.New("invalid sender")
	ErrInvalidModel  = errors.New("invalid model")

	// ErrProvider wraps upstream generation failures once a fragment
	// sequence has been collected into a single value.
	ErrProvider = errors.New("provider error")

	ErrorInternal = errors.New("internal error")
)
