package download

import (
	"context"
	"strings"

	"reelfeed/internal/services"
)

// Resolver turns an opaque remote reference into a fetchable URL or local
// path. Implemented by the external blob storage collaborator; the pipeline
// only consumes it.
type Resolver interface {
	ResolveRemoteReference(ctx context.Context, ref string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, ref string) (string, error)

func (f ResolverFunc) ResolveRemoteReference(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// IdentityResolver treats references as already-fetchable URLs or paths,
// which is the common case for signed CDN URLs handed to the feed.
func IdentityResolver() Resolver {
	return ResolverFunc(func(_ context.Context, ref string) (string, error) {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" {
			return "", services.Wrap(services.ErrNotFound, "resolver", "resolve reference", "empty remote reference", nil)
		}
		return trimmed, nil
	})
}
