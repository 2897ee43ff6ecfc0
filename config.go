package exporter

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all exporter settings. Values come from defaults, then an
// optional YAML file, then environment variable overrides, in that order.
type Config struct {
	DatabaseURL    string `yaml:"databaseUrl"`
	ListenAddr     string `yaml:"listenAddr"`
	MetricsPath    string `yaml:"metricsPath"`
	CanaryDagID    string `yaml:"canaryDagId"`
	QueryTimeoutMs int64  `yaml:"queryTimeoutMs"`
	LogLevel       string `yaml:"logLevel"`
	LogFormat      string `yaml:"logFormat"`
}

// DefaultConfig returns a Config with working defaults for everything
// except the database URL, which has no sensible default.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":9112",
		MetricsPath:    defaultMetricsPath,
		CanaryDagID:    DefaultCanaryDagID,
		QueryTimeoutMs: 15000,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// LoadConfig reads the config file at path (skipped when empty), applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AIRFLOW_EXPORTER_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("AIRFLOW_EXPORTER_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("AIRFLOW_EXPORTER_METRICS_PATH"); v != "" {
		c.MetricsPath = v
	}
	if v := os.Getenv("AIRFLOW_EXPORTER_CANARY_DAG_ID"); v != "" {
		c.CanaryDagID = v
	}
	if v := os.Getenv("AIRFLOW_EXPORTER_QUERY_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.QueryTimeoutMs = ms
		}
	}
	if v := os.Getenv("AIRFLOW_EXPORTER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AIRFLOW_EXPORTER_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("databaseUrl is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listenAddr must not be empty")
	}
	if c.QueryTimeoutMs <= 0 {
		return fmt.Errorf("queryTimeoutMs must be positive, got %d", c.QueryTimeoutMs)
	}

	return nil
}
