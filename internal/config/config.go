package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docground/internal/catalog"
	"docground/internal/ddr"
)

type Config struct {
	Gate struct {
		Threshold  float64 `yaml:"threshold"`
		Strict     bool    `yaml:"strict"`
		MaxRetries int     `yaml:"max_retries"`
	} `yaml:"gate"`
	Retrieval struct {
		Concurrency       int  `yaml:"concurrency"` // 0 means one worker per CPU
		MaxResults        int  `yaml:"max_results"`
		CacheSize         int  `yaml:"cache_size"`
		Fuzzy             bool `yaml:"fuzzy"`
		FuzzyMinKeyLength int  `yaml:"fuzzy_min_key_length"`
	} `yaml:"retrieval"`
	Sources struct {
		Weights map[string]float64 `yaml:"weights"`
	} `yaml:"sources"`
	Catalogs []catalog.Descriptor `yaml:"catalogs"`
	Corpus   struct {
		Root    string   `yaml:"root"`
		Sources []string `yaml:"sources"`
	} `yaml:"corpus"`
	Storage struct {
		DB string `yaml:"db"` // empty disables persistence
	} `yaml:"storage"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Gate.Threshold = 0.02
	cfg.Gate.MaxRetries = 3
	cfg.Retrieval.MaxResults = 5
	cfg.Retrieval.CacheSize = 1024
	cfg.Retrieval.FuzzyMinKeyLength = 4
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config over the defaults
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// 3. Override with Environment Variables if present
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default plus environment
// overrides when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DOCGROUND_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid DOCGROUND_THRESHOLD %q: %w", v, err)
		}
		c.Gate.Threshold = f
	}
	if v := os.Getenv("DOCGROUND_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DOCGROUND_CONCURRENCY %q: %w", v, err)
		}
		c.Retrieval.Concurrency = n
	}
	if v := os.Getenv("DOCGROUND_STRICT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DOCGROUND_STRICT %q: %w", v, err)
		}
		c.Gate.Strict = b
	}
	if v := os.Getenv("DOCGROUND_DB"); v != "" {
		c.Storage.DB = v
	}
	if v := os.Getenv("DOCGROUND_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate rejects out-of-range values and unknown source names.
func (c *Config) Validate() error {
	var errs []error
	if c.Gate.Threshold < 0 || c.Gate.Threshold > 1 {
		errs = append(errs, fmt.Errorf("gate.threshold must be within [0, 1], got %v", c.Gate.Threshold))
	}
	if c.Gate.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("gate.max_retries must not be negative, got %d", c.Gate.MaxRetries))
	}
	if c.Retrieval.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("retrieval.concurrency must not be negative, got %d", c.Retrieval.Concurrency))
	}
	for name, w := range c.Sources.Weights {
		if !catalog.Source(name).IsKnown() {
			errs = append(errs, fmt.Errorf("sources.weights: unknown source %q", name))
			continue
		}
		if w <= 0 || w > 1 {
			errs = append(errs, fmt.Errorf("sources.weights.%s must be within (0, 1], got %v", name, w))
		}
	}
	for i, d := range c.Catalogs {
		if d.Path == "" {
			errs = append(errs, fmt.Errorf("catalogs[%d]: path is required", i))
		}
		if d.Source != "" && !d.Source.IsKnown() {
			errs = append(errs, fmt.Errorf("catalogs[%d]: unknown source %q", i, d.Source))
		}
	}
	for _, s := range c.Corpus.Sources {
		if !catalog.Source(s).IsKnown() {
			errs = append(errs, fmt.Errorf("corpus.sources: unknown source %q", s))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SourceWeights returns the configured weights keyed by source.
func (c *Config) SourceWeights() map[catalog.Source]float64 {
	out := make(map[catalog.Source]float64, len(c.Sources.Weights))
	for name, w := range c.Sources.Weights {
		out[catalog.Source(name)] = w
	}
	return out
}

// CorpusSources returns the corpus sources to crawl.
func (c *Config) CorpusSources() []catalog.Source {
	out := make([]catalog.Source, 0, len(c.Corpus.Sources))
	for _, s := range c.Corpus.Sources {
		out = append(out, catalog.Source(s))
	}
	return out
}

// RetryController builds a retry controller for s from the gate and
// retrieval settings. max_retries bounds the attempts of one round.
func (c *Config) RetryController(s *ddr.Session) *ddr.RetryController {
	return &ddr.RetryController{
		Session:     s,
		MaxAttempts: c.Gate.MaxRetries,
		Strict:      c.Gate.Strict,
		Concurrency: c.Retrieval.Concurrency,
	}
}
