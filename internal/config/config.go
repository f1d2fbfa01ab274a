// Package config resolves runtime settings for the pipeline from the
// config file, environment variables, and defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// Config holds the resolved pipeline settings. Environment variables
// override values read from the config file.
type Config struct {
	// Engine selects the synthesis backend.
	Engine string `env:"READALONG_ENGINE"`
	// Speed is the synthesis speed multiplier.
	Speed float64 `env:"READALONG_SPEED"`
	// Align enables word-level timing computation.
	Align bool `env:"READALONG_ALIGN"`

	// CacheDir is where durable alignment records live. Empty means
	// the platform cache directory.
	CacheDir string `env:"READALONG_CACHE_DIR"`

	// Pipeline budgets.
	Lookahead      int   `env:"READALONG_LOOKAHEAD"`
	MaxParagraphs  int   `env:"READALONG_MAX_PARAGRAPHS"`
	MaxBufferBytes int64 `env:"READALONG_MAX_BUFFER_BYTES"`

	// HighlightRate is how often the playback clock is sampled for
	// word highlighting.
	HighlightRate time.Duration `env:"READALONG_HIGHLIGHT_RATE"`

	// For debugging.
	Debug   bool   `env:"READALONG_DEBUG"`
	LogFile string `env:"READALONG_LOGFILE"`
}

// Load reads settings from viper, then applies environment overrides.
func Load() (Config, error) {
	cfg := Config{
		Engine:         viper.GetString("engine"),
		Speed:          viper.GetFloat64("speed"),
		Align:          viper.GetBool("align"),
		CacheDir:       viper.GetString("cache.dir"),
		Lookahead:      viper.GetInt("pipeline.lookahead"),
		MaxParagraphs:  viper.GetInt("pipeline.max_paragraphs"),
		MaxBufferBytes: viper.GetInt64("pipeline.max_buffer_bytes"),
		HighlightRate:  viper.GetDuration("highlight.rate"),
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	if cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return cfg, err
		}
		cfg.CacheDir = dir
	} else {
		cfg.CacheDir = ExpandPath(cfg.CacheDir)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Engine == "" {
		return fmt.Errorf("no synthesis engine configured")
	}
	if c.Speed != 0 && (c.Speed < 0.1 || c.Speed > 3.0) {
		return fmt.Errorf("speed must be between 0.1 and 3.0, got %.2f", c.Speed)
	}
	return nil
}

// DefaultCacheDir returns the platform cache directory for alignment
// records.
func DefaultCacheDir() (string, error) {
	scope := gap.NewScope(gap.User, "readalong")
	dir, err := scope.CacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache directory: %w", err)
	}
	return filepath.Join(dir, "alignments"), nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		expanded, err := homedir.Expand(path)
		if err == nil {
			return expanded
		}
	}
	return path
}
