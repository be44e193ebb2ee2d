package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
)

// EnvPrefix prefixes every environment variable read into Settings.
const EnvPrefix = "BPLENS"

// Settings are the runtime settings of the batch passes.
type Settings struct {
	Database DatabaseSettings `mapstructure:"database"`
	Ranking  RankingSettings  `mapstructure:"ranking"`
	Cache    CacheSettings    `mapstructure:"cache"`
	Log      LogSettings      `mapstructure:"log"`

	Workers        int    `mapstructure:"workers"`
	StoplistPath   string `mapstructure:"stoplist"`
	VocabularyPath string `mapstructure:"vocabulary"`
	MetricsFile    string `mapstructure:"metrics_file"`
}

// DatabaseSettings select the store backend.
type DatabaseSettings struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres or memory
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// RankingSettings tune the topic keyword passes.
type RankingSettings struct {
	ExtractiveTopN int     `mapstructure:"extractive_top_n"`
	MaxPhraseLen   int     `mapstructure:"max_phrase_len"`
	TFIDFTopN      int     `mapstructure:"tfidf_top_n"`
	MinDF          int     `mapstructure:"min_df"`
	MaxDF          float64 `mapstructure:"max_df"`
	Stemming       bool    `mapstructure:"stemming"`
}

// CacheSettings configure the keyword-count cache.
type CacheSettings struct {
	Backend string        `mapstructure:"backend"` // none, memory or redis
	Size    int           `mapstructure:"size"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LogSettings configure the zap logger.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "bplens.db")
	v.SetDefault("ranking.extractive_top_n", 3)
	v.SetDefault("ranking.max_phrase_len", 1)
	v.SetDefault("ranking.tfidf_top_n", 5)
	v.SetDefault("ranking.min_df", 2)
	v.SetDefault("ranking.max_df", 0.95)
	v.SetDefault("ranking.stemming", true)
	v.SetDefault("cache.backend", "none")
	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.ttl", "168h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("workers", runtime.NumCPU())
}

// Load reads settings from v. Variables in a .env file in the working
// directory are loaded into the environment first; database credentials
// fall back to POSTGRESQL_USERNAME and POSTGRESQL_PASSWORD.
func Load(v *viper.Viper) (Settings, error) {
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.user", EnvPrefix+"_DATABASE_USER", "POSTGRESQL_USERNAME")
	_ = v.BindEnv("database.password", EnvPrefix+"_DATABASE_PASSWORD", "POSTGRESQL_PASSWORD")

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks that the settings are usable.
func (s Settings) Validate() error {
	var problems []string
	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" {
			problems = append(problems, "database.path is required for sqlite")
		}
	case "postgres":
		if s.Database.DSN == "" {
			problems = append(problems, "database.dsn is required for postgres")
		}
	case "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown database.driver %q", s.Database.Driver))
	}
	if s.Ranking.ExtractiveTopN <= 0 || s.Ranking.TFIDFTopN <= 0 {
		problems = append(problems, "top-n values must be positive")
	}
	if s.Ranking.MaxPhraseLen <= 0 {
		problems = append(problems, "ranking.max_phrase_len must be positive")
	}
	if s.Ranking.MinDF < 1 {
		problems = append(problems, "ranking.min_df must be at least 1")
	}
	if s.Ranking.MaxDF <= 0 || s.Ranking.MaxDF > 1 {
		problems = append(problems, "ranking.max_df must be in (0, 1]")
	}
	if s.Workers <= 0 {
		problems = append(problems, "workers must be positive")
	}
	switch s.Cache.Backend {
	case "", "none":
	case "memory":
		if s.Cache.Size <= 0 {
			problems = append(problems, "cache.size must be positive")
		}
	case "redis":
		if s.Cache.Addr == "" {
			problems = append(problems, "cache.addr is required for redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown cache.backend %q", s.Cache.Backend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// PostgresDSN returns the DSN with credentials filled in when the DSN is a
// URL without a user part.
func (d DatabaseSettings) PostgresDSN() string {
	if d.User == "" || !strings.HasPrefix(d.DSN, "postgres") || strings.Contains(d.DSN, "@") {
		return d.DSN
	}
	scheme, rest, ok := strings.Cut(d.DSN, "://")
	if !ok {
		return d.DSN
	}
	cred := d.User
	if d.Password != "" {
		cred += ":" + d.Password
	}
	return scheme + "://" + cred + "@" + rest
}
