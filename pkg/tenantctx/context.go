// Package tenantctx carries the active tenant partition through a request's
// context. The partition is request-scoped by construction: there is no
// package-level current-tenant variable, so concurrent requests can never
// observe each other's partition.
package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Ref identifies one tenant's isolated data partition.
type Ref struct {
	TenantID snowflake.ID
	Schema   string
}

// Zero reports whether the ref does not point at a partition.
func (r Ref) Zero() bool {
	return r.Schema == ""
}

type refKey struct{}

// With returns a context carrying the partition ref.
func With(ctx context.Context, ref Ref) context.Context {
	return context.WithValue(ctx, refKey{}, ref)
}

// From returns the partition ref stored in the context, if any.
func From(ctx context.Context) (Ref, bool) {
	if ctx == nil {
		return Ref{}, false
	}
	ref, ok := ctx.Value(refKey{}).(Ref)
	if !ok || ref.Zero() {
		return Ref{}, false
	}
	return ref, true
}
