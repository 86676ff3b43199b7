// Package tokenstore shares OIDC access tokens between requests and, with
// the Redis backend, between service instances.
package tokenstore

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/oauth2"
)

type Store interface {
	Get(ctx context.Context, key string) (*oauth2.Token, bool, error)
	Put(ctx context.Context, key string, tok *oauth2.Token) error
	Delete(ctx context.Context, key string) error
}

// Key derives the store key for a client registration without leaking the
// client id into Redis.
func Key(clientID, tokenURL string) string {
	return fmt.Sprintf("openeo:token:%016x", xxhash.Sum64String(clientID+"|"+tokenURL))
}
