// Package config loads stackgraph settings from stackgraph.yaml and STACKGRAPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"stackgraph/internal/graph"
	"stackgraph/internal/refmeta"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "stackgraph"

// Unlimited disables a limit.
const Unlimited = -1

// Config holds all configuration options for stackgraph.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Traversal TraversalConfig `mapstructure:"traversal"`
	Metadata  MetadataConfig  `mapstructure:"metadata"`
}

// TraversalConfig controls how graphs are built.
type TraversalConfig struct {
	// LimitHint is the soft per-lane commit limit, Unlimited for none.
	LimitHint int `mapstructure:"limit_hint"`
	// HardLimit caps the total number of commits, Unlimited for none.
	HardLimit        int      `mapstructure:"hard_limit"`
	LimitExtensionAt []string `mapstructure:"limit_extension_at"`
	CollectTags      bool     `mapstructure:"collect_tags"`
	ExtraTarget      string   `mapstructure:"extra_target"`
	// IgnoreRefs are doublestar globs of reference names to leave out, like "refs/heads/wip/**".
	IgnoreRefs []string `mapstructure:"ignore_refs"`
}

// MetadataConfig selects the store for workspace and branch metadata.
type MetadataConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Traversal: TraversalConfig{
			LimitHint: Unlimited,
			HardLimit: Unlimited,
		},
		Metadata: MetadataConfig{
			Backend: refmeta.BackendFile,
			Path:    ".stackgraph/meta.yaml",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("traversal.limit_hint", d.Traversal.LimitHint)
	v.SetDefault("traversal.hard_limit", d.Traversal.HardLimit)
	v.SetDefault("traversal.limit_extension_at", []string{})
	v.SetDefault("traversal.collect_tags", d.Traversal.CollectTags)
	v.SetDefault("traversal.extra_target", d.Traversal.ExtraTarget)
	v.SetDefault("traversal.ignore_refs", []string{})
	v.SetDefault("metadata.backend", d.Metadata.Backend)
	v.SetDefault("metadata.path", d.Metadata.Path)
}

// Load reads the configuration. With an empty path, stackgraph.yaml is looked up in
// dir and may be missing. Environment variables override the file, for example
// STACKGRAPH_TRAVERSAL_LIMIT_HINT.
func Load(path, dir string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("STACKGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	t := c.Traversal
	if t.LimitHint < Unlimited {
		errs = append(errs, fmt.Errorf("traversal.limit_hint: %d is negative", t.LimitHint))
	}
	if t.HardLimit < Unlimited || t.HardLimit == 0 {
		errs = append(errs, fmt.Errorf("traversal.hard_limit: must be positive or %d, got %d", Unlimited, t.HardLimit))
	}
	for _, id := range t.LimitExtensionAt {
		if !plumbing.IsHash(id) {
			errs = append(errs, fmt.Errorf("traversal.limit_extension_at: %q is not a full commit hash", id))
		}
	}
	if t.ExtraTarget != "" && !strings.HasPrefix(t.ExtraTarget, "refs/") {
		errs = append(errs, fmt.Errorf("traversal.extra_target: %q is not a full reference name", t.ExtraTarget))
	}
	for _, pattern := range t.IgnoreRefs {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("traversal.ignore_refs: invalid glob %q", pattern))
		}
	}
	switch c.Metadata.Backend {
	case refmeta.BackendMemory:
	case refmeta.BackendFile, refmeta.BackendSQLite:
		if c.Metadata.Path == "" {
			errs = append(errs, fmt.Errorf("metadata.path: required for the %s backend", c.Metadata.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("metadata.backend: unknown backend %q", c.Metadata.Backend))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// GraphOptions converts the traversal settings into build options.
func (t TraversalConfig) GraphOptions() graph.Options {
	opts := graph.Options{
		CollectTags: t.CollectTags,
		ExtraTarget: t.ExtraTarget,
	}
	if t.LimitHint != Unlimited {
		opts = opts.WithLimitHint(t.LimitHint)
	}
	if t.HardLimit != Unlimited {
		opts = opts.WithHardLimit(t.HardLimit)
	}
	for _, id := range t.LimitExtensionAt {
		opts = opts.WithLimitExtensionAt(plumbing.NewHash(id))
	}
	if len(t.IgnoreRefs) > 0 {
		patterns := t.IgnoreRefs
		opts.IgnoreRef = func(refName string) bool {
			return MatchAny(patterns, refName)
		}
	}
	return opts
}

// MatchAny reports whether refName matches one of the globs.
func MatchAny(patterns []string, refName string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, refName); ok {
			return true
		}
	}
	return false
}
