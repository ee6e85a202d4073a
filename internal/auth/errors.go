package auth

import (
	"errors"
	"sort"
	"strings"

	"github.com/babushkafon/auth-api/internal/logging"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// the two cases are indistinguishable from outside.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailNotConfirmed is deliberately specific: a user who types the
	// right password needs to know why they still cannot log in.
	ErrEmailNotConfirmed = errors.New("email not confirmed, please check your inbox")

	// ErrTokenInvalid is the single external face of every token
	// verification failure.
	ErrTokenInvalid = errors.New("link is invalid or has expired")
)

// ValidationError carries field-level messages for form errors that are safe
// and useful to show the user, such as a too-short password.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// ClassifyTokenError maps the token service's typed failures onto the one
// generic ErrTokenInvalid, logging the specific subtype for diagnostics.
// Collapsing here keeps every redemption endpoint from becoming an oracle
// for token validity or account existence.
func ClassifyTokenError(logger *logging.Logger, purpose Purpose, err error) error {
	switch {
	case errors.Is(err, ErrBadSignature),
		errors.Is(err, ErrWrongPurpose),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrUnknownUser),
		errors.Is(err, ErrStaleFingerprint):
		logger.Warn("token verification failed",
			"purpose", string(purpose),
			"reason", err.Error(),
		)
		return ErrTokenInvalid
	default:
		// Unexpected (infrastructure) failure; keep it distinguishable for
		// the caller's 500 path but still log it.
		logger.Error("token verification errored",
			"purpose", string(purpose),
			"error", err.Error(),
		)
		return err
	}
}
