// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bcem/leaveintake/internal/envelope"
	"github.com/bcem/leaveintake/internal/pipeline"
	"github.com/bcem/leaveintake/internal/queue"
	"github.com/bcem/leaveintake/internal/schema"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "/app/config/config.yaml"

// QuotaBackend selects where submission counters live.
type QuotaBackend string

const (
	// QuotaMemory keeps counters in the process; they reset on restart and
	// are not shared between replicas.
	QuotaMemory   QuotaBackend = "memory"
	QuotaRedis    QuotaBackend = "redis"
	QuotaPostgres QuotaBackend = "postgres"
)

// QuotaConfig holds the submission limit settings.
type QuotaConfig struct {
	Backend      QuotaBackend
	MonthlyLimit int
	WindowDays   int
}

// Config holds all configuration for the intake service.
type Config struct {
	// Redis
	RedisURL    string
	IntakeQueue string
	Queues      queue.Queues
	PollTimeout time.Duration
	DedupTTL    time.Duration

	// Postgres is optional unless the quota backend needs it.
	PostgresURL string

	Quota    QuotaConfig
	Pipeline pipeline.Options

	Workers int

	// Server (health check only)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Intake      string `yaml:"intake"`
			Submissions string `yaml:"submissions"`
			Rejections  string `yaml:"rejections"`
			Decisions   string `yaml:"decisions"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quota struct {
		Backend      string `yaml:"backend"`
		MonthlyLimit int    `yaml:"monthly_limit"`
		WindowDays   int    `yaml:"window_days"`
	} `yaml:"quota"`
	Pipeline struct {
		SchemaVariant string `yaml:"schema_variant"`
		HeaderMode    string `yaml:"header_mode"`
		RowPolicy     string `yaml:"row_policy"`
		DateFormat    string `yaml:"date_format"`
		GroupBy       string `yaml:"group_by"`
		Flatten       bool   `yaml:"flatten"`
		HoursPerDay   int    `yaml:"hours_per_day"`
		RecordEmail   string `yaml:"record_email"`
		Timezone      string `yaml:"timezone"`
	} `yaml:"pipeline"`
	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`
}

// Load reads the file named by CONFIG_PATH.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", DefaultPath))
}

// LoadFile reads configuration from path (with env var expansion) and
// environment variables for non-YAML settings.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. ${VAR} references are expanded
// first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		IntakeQueue: firstNonEmpty(raw.Redis.Queues.Intake, envOrDefault("INTAKE_QUEUE", "leave-intake")),
		Queues: queue.Queues{
			Submissions: firstNonEmpty(raw.Redis.Queues.Submissions, envOrDefault("SUBMISSIONS_QUEUE", "leave-submissions")),
			Rejections:  firstNonEmpty(raw.Redis.Queues.Rejections, envOrDefault("REJECTIONS_QUEUE", "leave-rejections")),
			Decisions:   firstNonEmpty(raw.Redis.Queues.Decisions, envOrDefault("DECISIONS_QUEUE", "leave-decisions")),
		},
		PollTimeout: envOrDefaultDuration("POLL_TIMEOUT", 5*time.Second),
		DedupTTL:    envOrDefaultDuration("DEDUP_TTL", 72*time.Hour),
		PostgresURL: firstNonEmpty(raw.Postgres.URL, os.Getenv("DATABASE_URL")),
		Quota: QuotaConfig{
			Backend:      QuotaBackend(strings.ToLower(firstNonEmpty(raw.Quota.Backend, envOrDefault("QUOTA_BACKEND", string(QuotaRedis))))),
			MonthlyLimit: raw.Quota.MonthlyLimit,
			WindowDays:   raw.Quota.WindowDays,
		},
		Workers: raw.Workers.Count,
		Port:    envOrDefaultInt("PORT", 8080),
	}
	if cfg.Workers <= 0 {
		cfg.Workers = envOrDefaultInt("WORKERS", 4)
	}

	opts, err := pipelineOptions(raw)
	if err != nil {
		return nil, err
	}
	cfg.Pipeline = opts

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pipelineOptions parses the pipeline section. The behavioural switches
// have no defaults: an empty value is reported as missing.
func pipelineOptions(raw rawConfig) (pipeline.Options, error) {
	p := raw.Pipeline
	var (
		opts pipeline.Options
		errs []error
		err  error
	)

	required := func(name, value string) bool {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("pipeline.%s is required", name))
			return false
		}
		return true
	}

	if required("schema_variant", p.SchemaVariant) {
		if opts.SchemaVariant, err = schema.ParseVariant(p.SchemaVariant); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.schema_variant: %w", err))
		}
	}
	if required("header_mode", p.HeaderMode) {
		if opts.HeaderMode, err = schema.ParseMode(p.HeaderMode); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.header_mode: %w", err))
		}
	}
	if required("row_policy", p.RowPolicy) {
		if opts.RowPolicy, err = pipeline.ParseRowPolicy(p.RowPolicy); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.row_policy: %w", err))
		}
	}
	if required("date_format", p.DateFormat) {
		if opts.DateFormat, err = envelope.ParseDateFormat(p.DateFormat); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.date_format: %w", err))
		}
	}
	if opts.GroupBy, err = envelope.ParseGroupBy(p.GroupBy); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.group_by: %w", err))
	}

	opts.Flatten = p.Flatten
	opts.HoursPerDay = p.HoursPerDay
	opts.RecordEmail = p.RecordEmail

	tz := firstNonEmpty(p.Timezone, envOrDefault("PIPELINE_TIMEZONE", "UTC"))
	if opts.Location, err = time.LoadLocation(tz); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.timezone: %w", err))
	}

	if len(errs) > 0 {
		return pipeline.Options{}, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return opts, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Quota.Backend {
	case QuotaMemory, QuotaRedis:
	case QuotaPostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("quota.backend postgres needs postgres.url or DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("quota.backend %q is not one of memory, redis, postgres", c.Quota.Backend))
	}
	if c.Quota.MonthlyLimit < 0 || c.Quota.WindowDays < 0 {
		errs = append(errs, errors.New("quota limits must not be negative"))
	}
	if c.Pipeline.HoursPerDay < 0 {
		errs = append(errs, errors.New("pipeline.hours_per_day must not be negative"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
