package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEntityNotFound       = errors.New("entity not found")
	ErrMissingEmbedding     = errors.New("missing embedding")
	ErrInsufficientPeers    = errors.New("insufficient peers")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	ErrBatchInProgress   = errors.New("batch run already in progress")
	ErrNoTagSet          = errors.New("no tag set recorded")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

var classified = []error{
	ErrEntityNotFound,
	ErrMissingEmbedding,
	ErrInsufficientPeers,
	ErrStoreUnavailable,
	ErrInvalidConfiguration,
	ErrBatchInProgress,
	ErrNoTagSet,
	ErrDimensionMismatch,
}

// IsClassified reports whether err already carries one of the engine's error kinds.
func IsClassified(err error) bool {
	for _, kind := range classified {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// StoreError wraps err as ErrStoreUnavailable unless it is nil, a context
// error, or already classified.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// InvalidConfig builds an ErrInvalidConfiguration with a formatted reason.
func InvalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrEntityNotFound for id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
}

// MissingEmbedding builds an ErrMissingEmbedding for id.
func MissingEmbedding(id string) error {
	return fmt.Errorf("%w: %q", ErrMissingEmbedding, id)
}
