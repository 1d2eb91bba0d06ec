package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the search service and trainer
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Paths    PathsConfig    `yaml:"paths"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Training TrainingConfig `yaml:"training"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DefaultTopN     int           `yaml:"default_top_n"`
	MaxTopN         int           `yaml:"max_top_n"`
}

// PathsConfig locates the catalog and the trained artifacts
type PathsConfig struct {
	CatalogPath string `yaml:"catalog"`
	ModelPath   string `yaml:"model"`
	MatrixPath  string `yaml:"matrix"`
}

// CatalogConfig maps catalog columns onto records
type CatalogConfig struct {
	IDColumn     string        `yaml:"id_column"`
	TextColumns  []string      `yaml:"text_columns"`
	StripMarkup  bool          `yaml:"strip_markup"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// TrainingConfig holds hyperparameter search settings
type TrainingConfig struct {
	Folds         int    `yaml:"folds"`
	Workers       int    `yaml:"workers"`
	JudgmentsPath string `yaml:"judgments"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			DefaultTopN:     10,
			MaxTopN:         100,
		},
		Paths: PathsConfig{
			CatalogPath: "./data/products.csv",
			ModelPath:   "./models/tfidf_vectorizer.json",
			MatrixPath:  "./models/tfidf_matrix.json",
		},
		Catalog: CatalogConfig{
			IDColumn:     "product_id",
			TextColumns:  []string{"product_name", "product_description"},
			FetchTimeout: 60 * time.Second,
		},
		Training: TrainingConfig{
			Folds: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML file over the defaults, then applies environment
// overrides. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = GetStringEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.ReadTimeout = GetDurationEnv("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = GetDurationEnv("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = GetDurationEnv("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.DefaultTopN = GetIntEnv("SEARCH_DEFAULT_TOP_N", c.Server.DefaultTopN)
	c.Server.MaxTopN = GetIntEnv("SEARCH_MAX_TOP_N", c.Server.MaxTopN)

	c.Paths.CatalogPath = GetStringEnv("CATALOG_PATH", c.Paths.CatalogPath)
	c.Paths.ModelPath = GetStringEnv("MODEL_PATH", c.Paths.ModelPath)
	c.Paths.MatrixPath = GetStringEnv("MATRIX_PATH", c.Paths.MatrixPath)

	c.Catalog.IDColumn = GetStringEnv("CATALOG_ID_COLUMN", c.Catalog.IDColumn)
	c.Catalog.TextColumns = GetStringSliceEnv("CATALOG_TEXT_COLUMNS", c.Catalog.TextColumns)
	c.Catalog.StripMarkup = GetBoolEnv("CATALOG_STRIP_MARKUP", c.Catalog.StripMarkup)
	c.Catalog.FetchTimeout = GetDurationEnv("CATALOG_FETCH_TIMEOUT", c.Catalog.FetchTimeout)

	c.Training.Folds = GetIntEnv("TRAINING_FOLDS", c.Training.Folds)
	c.Training.Workers = GetIntEnv("TRAINING_WORKERS", c.Training.Workers)
	c.Training.JudgmentsPath = GetStringEnv("TRAINING_JUDGMENTS", c.Training.JudgmentsPath)

	c.Log.Level = GetStringEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetStringEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = GetStringEnv("LOG_FILE", c.Log.File)
}

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	if c.Server.DefaultTopN <= 0 {
		return fmt.Errorf("server.default_top_n must be positive, got %d", c.Server.DefaultTopN)
	}
	if c.Server.MaxTopN < c.Server.DefaultTopN {
		return fmt.Errorf("server.max_top_n (%d) must be at least default_top_n (%d)", c.Server.MaxTopN, c.Server.DefaultTopN)
	}
	if c.Training.Folds < 2 {
		return fmt.Errorf("training.folds must be at least 2, got %d", c.Training.Folds)
	}
	if c.Paths.ModelPath == "" || c.Paths.MatrixPath == "" {
		return fmt.Errorf("paths.model and paths.matrix are required")
	}
	if len(c.Catalog.TextColumns) == 0 {
		return fmt.Errorf("catalog.text_columns is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

func GetStringEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetStringSliceEnv reads a comma-separated list, skipping blank items
func GetStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
