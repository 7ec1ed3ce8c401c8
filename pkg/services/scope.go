package services

import "context"

// ScopeBinder attaches a fresh database scope to the context of one work
// unit and returns the release func for it. A pooled connection is not safe
// for concurrent use, so batch services invoke the binder once per unit
// instead of sharing the caller's scope across the pool.
type ScopeBinder func(ctx context.Context) (context.Context, func(), error)

// NoScope leaves the context untouched. Used when the caller's context
// already carries a usable scope and no fan-out happens.
func NoScope(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}
