package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTenantRequired      = errors.New("tenant id is required")
	ErrSettingsNotFound    = errors.New("retrieval settings not found")
	ErrEmbeddingFailed     = errors.New("embedding failed")
	ErrSearchBackendFailed = errors.New("search backend failed")
	ErrTemporary           = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
