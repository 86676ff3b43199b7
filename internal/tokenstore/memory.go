package tokenstore

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
)

// MemoryStore keeps tokens in a small in-process LRU. Expired tokens are
// reported as misses and evicted on read.
type MemoryStore struct {
	mu  sync.Mutex
	lru *lru.Cache[string, *oauth2.Token]
}

func NewMemory(size int) *MemoryStore {
	if size <= 0 {
		size = 16
	}
	c, _ := lru.New[string, *oauth2.Token](size)
	return &MemoryStore{lru: c}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*oauth2.Token, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !tok.Valid() {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return tok, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, tok)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
	return nil
}
