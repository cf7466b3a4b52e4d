package models

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates generation failures so UI layers can render a
// tier-upgrade prompt differently from an "add an API key" prompt
type ErrorKind string

// Error kinds
const (
	ErrNoProviderConfigured  ErrorKind = "no_provider_configured"
	ErrTierInsufficient      ErrorKind = "tier_insufficient"
	ErrQuotaExceeded         ErrorKind = "quota_exceeded"
	ErrProviderCallFailed    ErrorKind = "provider_call_failed"
	ErrGenerationUnavailable ErrorKind = "generation_unavailable"
)

// GenerationError is a typed generation failure with a human-readable
// message and a machine-discriminable kind
type GenerationError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
	Limit   int       `json:"limit,omitempty"` // populated for quota_exceeded
	Err     error     `json:"-"`
}

// Error implements the error interface
func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// NewGenerationError creates a generation error with the given kind and message
func NewGenerationError(kind ErrorKind, message string) *GenerationError {
	return &GenerationError{Kind: kind, Message: message}
}

// AsGenerationError extracts a *GenerationError from an error chain
func AsGenerationError(err error) (*GenerationError, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}

// IsKind reports whether err is a GenerationError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	genErr, ok := AsGenerationError(err)
	return ok && genErr.Kind == kind
}
