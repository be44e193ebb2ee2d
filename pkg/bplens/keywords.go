package bplens

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

type extraction struct {
	counts     keywords.Counts
	unresolved int
	cached     bool
	err        error
}

// UpdateBlueprintKeywords extracts the section keyword counts of every
// stored blueprint and writes them back. Blueprints that fail to parse or
// resolve are logged, counted and left untouched.
func (e *Engine) UpdateBlueprintKeywords(ctx context.Context) (PassStats, error) {
	return e.runPass(ctx, PassKeywords, func(stats *PassStats) error {
		bps, err := e.store.AllBlueprints(ctx)
		if err != nil {
			return fmt.Errorf("load blueprints: %w", err)
		}

		results := make([]extraction, len(bps))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		for i := range bps {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = e.extract(gctx, bps[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, bp := range bps {
			res := results[i]
			if res.err != nil {
				stats.Failed++
				e.countFailure(PassKeywords, res.err)
				e.logger.Warn("keyword extraction failed",
					zap.Int64("blueprint_id", bp.ID), zap.Error(res.err))
				continue
			}
			if err := e.store.UpdateBlueprintKeywords(ctx, bp.ID, res.counts); err != nil {
				return fmt.Errorf("update blueprint %d: %w", bp.ID, err)
			}
			stats.Processed++
			stats.Unresolved += res.unresolved
		}
		return nil
	})
}

func (e *Engine) extract(ctx context.Context, bp store.Blueprint) extraction {
	hash := bp.Hash
	if hash == "" {
		hash = blueprint.Hash(bp.Code)
	}
	if counts, ok, err := e.cache.Get(ctx, hash); err != nil {
		e.logger.Debug("keyword cache read failed", zap.Error(err))
	} else if ok {
		e.countCache("hit")
		return extraction{counts: counts, cached: true}
	}
	e.countCache("miss")

	tree, err := e.parser.Parse(bp.Code)
	if err != nil {
		return extraction{err: err}
	}
	resolved, report, err := blueprint.Resolve(tree)
	if err != nil {
		return extraction{err: err}
	}
	if report.Unresolved > 0 {
		e.logger.Debug("unresolved input references",
			zap.Int64("blueprint_id", bp.ID), zap.Strings("inputs", report.Missing))
	}

	counts := keywords.Count(keywords.Extract(resolved))
	if err := e.cache.Set(ctx, hash, counts); err != nil {
		e.logger.Debug("keyword cache write failed", zap.Error(err))
	}
	return extraction{counts: counts, unresolved: report.Unresolved}
}

func (e *Engine) countCache(result string) {
	if e.metrics != nil {
		e.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
