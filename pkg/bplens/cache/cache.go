// Package cache remembers keyword counts by blueprint hash so unchanged
// blueprints skip extraction on the next run.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
)

// Cache stores keyword counts keyed by blueprint hash.
type Cache interface {
	Get(ctx context.Context, hash string) (keywords.Counts, bool, error)
	Set(ctx context.Context, hash string, counts keywords.Counts) error
}

// Nop never hits.
type Nop struct{}

func (Nop) Get(context.Context, string) (keywords.Counts, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, keywords.Counts) error         { return nil }

// Memory is a process-local LRU cache.
type Memory struct {
	lru *lru.Cache[string, keywords.Counts]
}

// NewMemory returns an LRU cache holding up to size entries.
func NewMemory(size int) (*Memory, error) {
	c, err := lru.New[string, keywords.Counts](size)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d", internalerr.ErrInvalidConfig, size)
	}
	return &Memory{lru: c}, nil
}

// Get returns a copy of the cached counts.
func (m *Memory) Get(_ context.Context, hash string) (keywords.Counts, bool, error) {
	c, ok := m.lru.Get(hash)
	if !ok {
		return nil, false, nil
	}
	return clone(c), true, nil
}

// Set stores a copy of counts.
func (m *Memory) Set(_ context.Context, hash string, counts keywords.Counts) error {
	m.lru.Add(hash, clone(counts))
	return nil
}

// Len reports the number of cached entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}

func clone(c keywords.Counts) keywords.Counts {
	out := make(keywords.Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
