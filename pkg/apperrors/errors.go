package apperrors

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrDimensionMismatch     = errors.New("embedding dimension mismatch")
	ErrInvalidStatementShape = errors.New("invalid atomic statement shape")
	ErrMissingStatementText  = errors.New("atomic statement missing text")
	ErrNoTenantScope         = errors.New("no tenant scope in context")
)
