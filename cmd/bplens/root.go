package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cognicore/bplens/internal/logging"
	"github.com/cognicore/bplens/internal/metrics"
	"github.com/cognicore/bplens/pkg/bplens"
	"github.com/cognicore/bplens/pkg/bplens/blueprint"
	"github.com/cognicore/bplens/pkg/bplens/cache"
	"github.com/cognicore/bplens/pkg/bplens/cache/rediscache"
	"github.com/cognicore/bplens/pkg/bplens/config"
	"github.com/cognicore/bplens/pkg/bplens/rank"
	"github.com/cognicore/bplens/pkg/bplens/store"
	"github.com/cognicore/bplens/pkg/bplens/store/memstore"
	"github.com/cognicore/bplens/pkg/bplens/store/postgres"
	"github.com/cognicore/bplens/pkg/bplens/store/sqlite"
)

// app carries what every subcommand needs once flags and config are read.
type app struct {
	v        *viper.Viper
	cfgFile  string
	settings config.Settings
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "bplens",
		Short: "Keyword extraction and comparison for Home Assistant blueprints",
		Long: `bplens reads Home Assistant blueprints posted on the community forum,
counts the integrations and domains each one uses, ranks topic keywords and
scores how similar blueprints are to each other.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml)")
	flags.String("db-driver", "", "store backend: sqlite, postgres or memory")
	flags.String("db", "", "sqlite database path")
	flags.String("dsn", "", "postgres connection string")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json or console")
	flags.Int("workers", 0, "concurrent keyword extraction workers")
	flags.String("cache", "", "keyword cache: none, memory or redis")
	flags.String("redis-addr", "", "redis address for the keyword cache")
	flags.String("metrics-file", "", "write pass metrics to this node exporter textfile")

	for key, flag := range map[string]string{
		"database.driver": "db-driver",
		"database.path":   "db",
		"database.dsn":    "dsn",
		"log.level":       "log-level",
		"log.format":      "log-format",
		"workers":         "workers",
		"cache.backend":   "cache",
		"cache.addr":      "redis-addr",
		"metrics_file":    "metrics-file",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.importCmd(),
		a.keywordsCmd(),
		a.topicsCmd(),
		a.tfidfCmd(),
		a.indexCmd(),
		a.similarityCmd(),
		a.searchCmd(),
		a.validateCmd(),
		a.runCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.cfgFile, err)
		}
	}
	s, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.settings = s

	logger, err := logging.New(s.Log.Level, s.Log.Format)
	if err != nil {
		return err
	}
	a.logger = logger
	a.metrics = metrics.New()
	return nil
}

func (a *app) teardown() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.settings.MetricsFile == "" || a.metrics == nil {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.settings.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// buildEngine opens the configured store and cache and wires the engine.
// cleanup closes both.
func buildEngine(ctx context.Context, s config.Settings, logger *zap.Logger, m *metrics.Metrics) (*bplens.Engine, func(), error) {
	st, err := openStore(ctx, s.Database)
	if err != nil {
		return nil, nil, err
	}

	kwCache, closeCache, err := openCache(ctx, s.Cache)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	var stops []string
	if s.StoplistPath != "" {
		sl, err := config.LoadStoplist(s.StoplistPath)
		if err != nil {
			st.Close()
			closeCache()
			return nil, nil, fmt.Errorf("load stoplist: %w", err)
		}
		stops = sl.Terms
	}
	var vocab *config.Vocabulary
	if s.VocabularyPath != "" {
		v, err := config.LoadVocabulary(s.VocabularyPath)
		if err != nil {
			st.Close()
			closeCache()
			return nil, nil, fmt.Errorf("load vocabulary: %w", err)
		}
		vocab = &v
	}

	parser, err := blueprint.NewParser(blueprint.WithCache(1024), blueprint.WithLogger(logger))
	if err != nil {
		st.Close()
		closeCache()
		return nil, nil, err
	}

	engine, err := bplens.New(bplens.Options{
		Store:      st,
		Parser:     parser,
		Cache:      kwCache,
		Metrics:    m,
		Logger:     logger,
		Stopwords:  stops,
		Vocabulary: vocab,
		Workers:    s.Workers,
		Ranking: bplens.Ranking{
			ExtractiveTopN: s.Ranking.ExtractiveTopN,
			MaxPhraseLen:   s.Ranking.MaxPhraseLen,
			TFIDFTopN:      s.Ranking.TFIDFTopN,
			TFIDF:          rank.TFIDFOptions{MinDF: s.Ranking.MinDF, MaxDF: s.Ranking.MaxDF},
			NoStemming:     !s.Ranking.Stemming,
		},
	})
	if err != nil {
		st.Close()
		closeCache()
		return nil, nil, err
	}

	cleanup := func() {
		engine.Close()
		closeCache()
	}
	return engine, cleanup, nil
}

func openStore(ctx context.Context, d config.DatabaseSettings) (store.Store, error) {
	switch d.Driver {
	case "sqlite":
		return sqlite.OpenSQLite(ctx, d.Path)
	case "postgres":
		return postgres.Open(ctx, d.PostgresDSN())
	case "memory":
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", d.Driver)
}

func openCache(ctx context.Context, c config.CacheSettings) (cache.Cache, func(), error) {
	switch c.Backend {
	case "memory":
		m, err := cache.NewMemory(c.Size)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {}, nil
	case "redis":
		rc := rediscache.New(rediscache.NewClient(c.Addr, "", 0), c.TTL)
		if err := rc.Ping(ctx); err != nil {
			rc.Close()
			return nil, nil, err
		}
		return rc, func() { rc.Close() }, nil
	}
	return cache.Nop{}, func() {}, nil
}

// withEngine runs fn with a freshly built engine.
func (a *app) withEngine(cmd *cobra.Command, fn func(context.Context, *bplens.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	engine, cleanup, err := buildEngine(ctx, a.settings, a.logger, a.metrics)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, engine)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
