// Package bplens runs the keyword passes over a corpus of forum-posted Home
// Assistant blueprints.
package bplens

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/bplens/internal/metrics"
	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/cache"
	"github.com/cognicore/bplens/pkg/bplens/config"
	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/stoplist"
	"github.com/cognicore/bplens/pkg/bplens/store"
)

// Pass names, as recorded in the run log and metrics.
const (
	PassImport     = "import"
	PassKeywords   = "keywords"
	PassExtractive = "yake"
	PassTFIDF      = "tfidf"
	PassFTS        = "fts"
)

// Engine is the batch driver over a blueprint store
type Engine struct {
	store   store.Store
	parser  *blueprint.Parser
	cache   cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
	stops   *stoplist.Manager
	vocab   config.Vocabulary
	ranking Ranking
	workers int
}

// Ranking configures the two topic keyword rankers.
type Ranking struct {
	ExtractiveTopN int
	MaxPhraseLen   int
	TFIDFTopN      int
	TFIDF          rank.TFIDFOptions
	// NoStemming keeps TF-IDF terms in their surface form.
	NoStemming bool
}

// DefaultRanking returns three single-word phrases and five TF-IDF terms
// per topic.
func DefaultRanking() Ranking {
	return Ranking{
		ExtractiveTopN: 3,
		MaxPhraseLen:   1,
		TFIDFTopN:      5,
		TFIDF:          rank.DefaultTFIDFOptions(),
	}
}

// Options configures an Engine. Only Store is required.
type Options struct {
	Store   store.Store
	Parser  *blueprint.Parser
	Cache   cache.Cache
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Stopwords seed both rankers. Nil means the built-in English list.
	Stopwords  []string
	Vocabulary *config.Vocabulary
	Ranking    Ranking
	// Workers bounds concurrent keyword extraction. Zero means one per CPU.
	Workers int
}

// New creates an Engine with the given dependencies
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("bplens: store is required")
	}
	e := &Engine{
		store:   opts.Store,
		parser:  opts.Parser,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		ranking: opts.Ranking,
		workers: opts.Workers,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.parser == nil {
		p, err := blueprint.NewParser(blueprint.WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.parser = p
	}
	if e.cache == nil {
		e.cache = cache.Nop{}
	}
	if e.workers <= 0 {
		e.workers = runtime.NumCPU()
	}
	if e.ranking == (Ranking{}) {
		e.ranking = DefaultRanking()
	}

	stops := opts.Stopwords
	if stops == nil {
		stops = config.DefaultStoplist().Terms
	}
	e.stops = stoplist.NewManager(stops)

	if opts.Vocabulary != nil {
		e.vocab = *opts.Vocabulary
	} else {
		e.vocab = config.DefaultVocabulary()
	}
	return e, nil
}

// Close cleanly shuts down the store
func (e *Engine) Close() error {
	return e.store.Close()
}

// PassStats summarizes one batch pass.
type PassStats struct {
	RunID      string        `json:"run_id"`
	Pass       string        `json:"pass"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Unresolved int           `json:"unresolved"`
	Duration   time.Duration `json:"duration_ns"`
}

// runPass gives fn a fresh run ID and stats, then records the outcome in the
// store, the metrics and the log.
func (e *Engine) runPass(ctx context.Context, pass string, fn func(*PassStats) error) (PassStats, error) {
	start := time.Now()
	stats := PassStats{RunID: ulid.Make().String(), Pass: pass}
	logger := e.logger.With(zap.String("pass", pass), zap.String("run_id", stats.RunID))
	logger.Info("pass started")

	err := fn(&stats)
	stats.Duration = time.Since(start)

	run := store.Run{
		ID:         stats.RunID,
		Pass:       pass,
		StartedAt:  start,
		FinishedAt: start.Add(stats.Duration),
		Processed:  stats.Processed,
		Failed:     stats.Failed,
		Skipped:    stats.Skipped,
		Unresolved: stats.Unresolved,
	}
	if err != nil {
		run.Err = err.Error()
	}
	if recErr := e.store.RecordRun(ctx, run); recErr != nil {
		logger.Warn("recording run failed", zap.Error(recErr))
	}

	if e.metrics != nil {
		e.metrics.ObservePass(pass, start)
		e.metrics.ItemsProcessed.WithLabelValues(pass).Add(float64(stats.Processed))
		e.metrics.Unresolved.Add(float64(stats.Unresolved))
	}

	fields := []zap.Field{
		zap.Int("processed", stats.Processed),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("unresolved", stats.Unresolved),
		zap.Duration("duration", stats.Duration),
	}
	if err != nil {
		logger.Error("pass failed", append(fields, zap.Error(err))...)
		return stats, err
	}
	logger.Info("pass finished", fields...)
	return stats, nil
}

func (e *Engine) countFailure(pass string, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.ItemsFailed.WithLabelValues(pass, failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, internalerr.ErrParse):
		return "parse"
	case errors.Is(err, internalerr.ErrResolution):
		return "resolve"
	case errors.Is(err, internalerr.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

// Run executes the keyword, extractive and TF-IDF passes in order. An empty
// TF-IDF corpus is logged and does not fail the run.
func (e *Engine) Run(ctx context.Context) ([]PassStats, error) {
	passes := []func(context.Context) (PassStats, error){
		e.UpdateBlueprintKeywords,
		e.UpdateTopicKeywordsExtractive,
		e.UpdateTopicKeywordsTFIDF,
	}
	var all []PassStats
	for _, pass := range passes {
		stats, err := pass(ctx)
		all = append(all, stats)
		if errors.Is(err, internalerr.ErrEmptyCorpus) {
			continue
		}
		if err != nil {
			return all, err
		}
	}
	return all, nil
}
