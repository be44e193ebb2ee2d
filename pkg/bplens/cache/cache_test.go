package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(2)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := c.Get(ctx, "h1"); ok {
		t.Fatal("empty cache should miss")
	}
	counts := keywords.Counts{"input__state": 2}
	_ = c.Set(ctx, "h1", counts)
	counts["input__state"] = 5

	got, ok, err := c.Get(ctx, "h1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got %v %v", ok, err)
	}
	if got["input__state"] != 2 {
		t.Errorf("cache shares caller's map: %v", got)
	}

	_ = c.Set(ctx, "h2", keywords.Counts{})
	_ = c.Set(ctx, "h3", keywords.Counts{})
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "h1"); ok {
		t.Error("oldest entry should be evicted")
	}
}

func TestMemoryCacheInvalidSize(t *testing.T) {
	if _, err := NewMemory(0); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	_ = c.Set(context.Background(), "h", keywords.Counts{"a": 1})
	if _, ok, _ := c.Get(context.Background(), "h"); ok {
		t.Fatal("nop cache should never hit")
	}
}
