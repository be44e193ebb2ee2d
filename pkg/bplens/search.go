package bplens

import (
	"context"

	"github.com/cognicore/bplens/pkg/bplens/store"
)

// Search runs a full-text query against one column, best match first.
func (e *Engine) Search(ctx context.Context, column store.FTSColumn, query string, limit int) ([]store.SearchHit, error) {
	return e.store.SearchFTS(ctx, column, query, limit)
}

// SearchSections matches inputQuery against trigger and condition text and
// outputQuery against action text.
func (e *Engine) SearchSections(ctx context.Context, inputQuery, outputQuery string, limit int) ([]store.SearchHit, error) {
	return e.store.SearchSections(ctx, inputQuery, outputQuery, limit)
}

// SearchKeywords filters blueprints by their extracted keyword counts.
func (e *Engine) SearchKeywords(ctx context.Context, q store.KeywordQuery) ([]store.Blueprint, error) {
	return e.store.SearchByKeywordCount(ctx, q)
}
