// Package config handles loading and validation of lakeloader.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dwsmith1983/lakeloader/pkg/types"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up in the project dir.
const FileName = "lakeloader.yaml"

// Load reads and parses lakeloader.yaml from the given directory. Relative
// catalog, schema and report dirs and report paths are resolved against dir.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Warehouse.DSN = os.ExpandEnv(cfg.Warehouse.DSN)
	cfg.Source.URI = os.ExpandEnv(cfg.Source.URI)
	cfg.CatalogDirs = resolveDirs(dir, cfg.CatalogDirs)
	cfg.SchemaDirs = resolveDirs(dir, cfg.SchemaDirs)
	cfg.ReportDirs = resolveDirs(dir, cfg.ReportDirs)
	for i, r := range cfg.Reports {
		if r.Path != "" && !filepath.IsAbs(r.Path) {
			cfg.Reports[i].Path = filepath.Join(dir, r.Path)
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func resolveDirs(base string, dirs []string) []string {
	out := make([]string, len(dirs))
	for i, d := range dirs {
		if filepath.IsAbs(d) {
			out[i] = d
		} else {
			out[i] = filepath.Join(base, d)
		}
	}
	return out
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Warehouse.DSN == "" && cfg.Warehouse.DSNSecret == "" {
		return fmt.Errorf("warehouse.dsn or warehouse.dsnSecret is required")
	}
	if cfg.Source.URI == "" {
		return fmt.Errorf("source.uri is required")
	}
	if cfg.Source.Database == "" {
		return fmt.Errorf("source.database is required")
	}
	if len(cfg.CatalogDirs) == 0 {
		return fmt.Errorf("at least one catalogDir is required")
	}
	if len(cfg.SchemaDirs) == 0 {
		return fmt.Errorf("at least one schemaDir is required")
	}
	if cfg.MaxParallel < 0 {
		return fmt.Errorf("maxParallel must not be negative")
	}
	if cfg.Loader.MaxRecords < 0 || cfg.Loader.BatchSize < 0 {
		return fmt.Errorf("loader.batchSize and loader.maxRecords must not be negative")
	}
	if r := cfg.Retry; r != nil {
		if r.MaxAttempts < 1 {
			return fmt.Errorf("retry.maxAttempts must be at least 1")
		}
		if r.BackoffSeconds < 0 || r.BackoffMultiplier < 0 {
			return fmt.Errorf("retry backoff must not be negative")
		}
	}
	if w := cfg.WaitFor; w != nil {
		if w.Workflow == "" {
			return fmt.Errorf("waitFor.workflow is required")
		}
		if w.Workflow == cfg.Name {
			return fmt.Errorf("waitFor.workflow cannot be the workflow itself")
		}
		if _, _, err := WaitDurations(w); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(cfg.Reports))
	for _, r := range cfg.Reports {
		if r.ID == "" {
			return fmt.Errorf("report id is required")
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate report %q", r.ID)
		}
		seen[r.ID] = true
	}
	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: webhook url is required", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: file path is required", i)
			}
		case types.AlertSQS:
			if a.QueueURL == "" {
				return fmt.Errorf("alerts[%d]: sqs queueUrl is required", i)
			}
		case types.AlertEventBridge:
		default:
			return fmt.Errorf("alerts[%d]: unknown alert type %q", i, a.Type)
		}
	}
	return nil
}

// Default sensor timings when waitFor leaves them unset.
const (
	DefaultPollInterval = time.Minute
	DefaultWaitTimeout  = 6 * time.Hour
)

// WaitDurations parses the sensor poll interval and timeout.
func WaitDurations(w *types.WaitForConfig) (poll, timeout time.Duration, err error) {
	poll, timeout = DefaultPollInterval, DefaultWaitTimeout
	if w.PollInterval != "" {
		if poll, err = time.ParseDuration(w.PollInterval); err != nil {
			return 0, 0, fmt.Errorf("waitFor.pollInterval: %w", err)
		}
	}
	if w.Timeout != "" {
		if timeout, err = time.ParseDuration(w.Timeout); err != nil {
			return 0, 0, fmt.Errorf("waitFor.timeout: %w", err)
		}
	}
	if poll <= 0 || timeout <= 0 {
		return 0, 0, fmt.Errorf("waitFor durations must be positive")
	}
	return poll, timeout, nil
}

// RetryPolicy returns the configured policy or the default.
func RetryPolicy(cfg *types.ProjectConfig) types.RetryPolicy {
	if cfg.Retry != nil {
		return *cfg.Retry
	}
	return types.DefaultRetryPolicy()
}
