// Package config provides configuration loading for the corpus builder.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paperlens/corpus-builder/internal/domain"
)

// Config holds all configuration for a corpus build run.
type Config struct {
	Render        RenderConfig        `yaml:"render"`
	Detection     DetectionConfig     `yaml:"detection"`
	Annotation    AnnotationConfig    `yaml:"annotation"`
	Quality       QualityConfig       `yaml:"quality"`
	Dataset       DatasetConfig       `yaml:"dataset"`
	Cache         CacheConfig         `yaml:"cache"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// RenderConfig holds page and crop rendering settings.
type RenderConfig struct {
	DPI          float64 `yaml:"dpi"`
	CropDPI      float64 `yaml:"crop_dpi"`
	ExpandMargin int     `yaml:"expand_margin"` // pixels added on each crop side
	MaxDimension int     `yaml:"max_dimension"`
}

// DetectionConfig holds element detection settings.
type DetectionConfig struct {
	MinFigureArea       float64 `yaml:"min_figure_area"` // doc units squared
	MinTableArea        float64 `yaml:"min_table_area"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	OverlapIoU          float64 `yaml:"overlap_iou"`
}

// AnnotationConfig holds model annotation settings.
type AnnotationConfig struct {
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"-"`
	BaseURL        string        `yaml:"base_url"`
	BatchSize      int           `yaml:"batch_size"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// QualityConfig holds consistency and dedup settings.
type QualityConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	Similarity          string  `yaml:"similarity"` // tokens or embedding
	StrictMode          bool    `yaml:"strict_mode"`
}

// DatasetConfig holds dataset generation settings.
type DatasetConfig struct {
	TaskWeights      map[domain.TaskType]float64 `yaml:"task_weights"`
	Seed             int64                       `yaml:"seed"`
	MaxSamplesPerDoc int                         `yaml:"max_samples_per_doc"`
	OutputDir        string                      `yaml:"output_dir"`
}

// CacheConfig holds annotation response cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CatalogConfig holds run catalog settings.
type CatalogConfig struct {
	Path   string `yaml:"path"`
	Resume bool   `yaml:"resume"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Workers   int    `yaml:"workers"` // document-level parallelism
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Render: RenderConfig{
			DPI:          200,
			CropDPI:      300,
			ExpandMargin: 16,
			MaxDimension: 4096,
		},
		Detection: DetectionConfig{
			MinFigureArea:       10000,
			MinTableArea:        5000,
			ConfidenceThreshold: 0.5,
			OverlapIoU:          0.9,
		},
		Annotation: AnnotationConfig{
			Model:          "mistralai/pixtral-large-2411",
			BaseURL:        "https://openrouter.ai/api/v1",
			BatchSize:      5,
			MaxRetries:     3,
			InitialBackoff: 4 * time.Second,
			MaxBackoff:     60 * time.Second,
			MaxInFlight:    5,
			RequestTimeout: 120 * time.Second,
		},
		Quality: QualityConfig{
			SimilarityThreshold: 0.95,
			Similarity:          "tokens",
			StrictMode:          false,
		},
		Dataset: DatasetConfig{
			TaskWeights:      domain.DefaultTaskWeights(),
			Seed:             42,
			MaxSamplesPerDoc: 40,
			OutputDir:        "corpus_out",
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Catalog: CatalogConfig{
			Path:   "corpus_out/catalog.db",
			Resume: false,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Workers:   4,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Render.DPI <= 0 || c.Render.CropDPI <= 0 {
		return fmt.Errorf("dpi must be positive")
	}

	if c.Render.ExpandMargin < 0 {
		return fmt.Errorf("expand_margin must not be negative")
	}

	if c.Detection.MinFigureArea < 0 {
		return fmt.Errorf("min_figure_area must not be negative")
	}

	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]")
	}

	if c.Annotation.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}

	if c.Annotation.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	if c.Quality.SimilarityThreshold <= 0 || c.Quality.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0,1]")
	}

	if c.Quality.Similarity != "tokens" && c.Quality.Similarity != "embedding" {
		return fmt.Errorf("invalid similarity backend: %s", c.Quality.Similarity)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Observability.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}

	if err := validateTaskWeights(c.Dataset.TaskWeights); err != nil {
		return err
	}

	return nil
}

// validateTaskWeights checks that weights cover known tasks and sum to 1.0.
func validateTaskWeights(weights map[domain.TaskType]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("task_weights must not be empty")
	}

	known := make(map[domain.TaskType]bool, len(domain.AllTasks))
	for _, t := range domain.AllTasks {
		known[t] = true
	}

	sum := 0.0
	for task, w := range weights {
		if !known[task] {
			return fmt.Errorf("unknown task type: %s", task)
		}
		if w < 0 {
			return fmt.Errorf("task weight for %s must not be negative", task)
		}
		sum += w
	}

	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("task_weights must sum to 1.0, got %.4f", sum)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Annotation.APIKey = v
	}

	if v := os.Getenv("CORPUS_MODEL"); v != "" {
		cfg.Annotation.Model = v
	}

	if v := os.Getenv("CORPUS_BASE_URL"); v != "" {
		cfg.Annotation.BaseURL = v
	}

	if v := os.Getenv("CORPUS_DPI"); v != "" {
		if dpi, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Render.DPI = dpi
		}
	}

	if v := os.Getenv("CORPUS_OUTPUT_DIR"); v != "" {
		cfg.Dataset.OutputDir = v
	}

	if v := os.Getenv("CORPUS_STRICT"); v == "true" {
		cfg.Quality.StrictMode = true
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("CORPUS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Observability.Workers = n
		}
	}
}
