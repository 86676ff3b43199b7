package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Fetcher obtains a brand new token. clientcredentials.Config satisfies it.
type Fetcher interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Source hands out access tokens from the store and refreshes them through
// the fetcher once they expire or the backend rejects them. Store failures
// degrade to fetching directly.
type Source struct {
	logger    *slog.Logger
	store     Store
	key       string
	fetcher   Fetcher
	opTimeout time.Duration

	mu sync.Mutex
}

func NewSource(logger *slog.Logger, store Store, key string, fetcher Fetcher, opTimeout time.Duration) *Source {
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Source{logger: logger, store: store, key: key, fetcher: fetcher, opTimeout: opTimeout}
}

func (s *Source) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	tok, ok, err := s.store.Get(sctx, s.key)
	cancel()
	if err != nil {
		s.logger.WarnContext(ctx, "token store get failed", "err", err)
	}
	if ok {
		return tok.AccessToken, nil
	}

	tok, err = s.fetcher.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("fetch token: empty access token")
	}

	sctx, cancel = context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.store.Put(sctx, s.key, tok); err != nil {
		s.logger.WarnContext(ctx, "token store put failed", "err", err)
	}
	s.logger.DebugContext(ctx, "access token refreshed", "expiry", tok.Expiry)
	return tok.AccessToken, nil
}

func (s *Source) Invalidate(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.store.Delete(sctx, s.key); err != nil {
		s.logger.WarnContext(ctx, "token store delete failed", "err", err)
	}
	s.logger.InfoContext(ctx, "access token invalidated")
}
