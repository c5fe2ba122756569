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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bcem/leaveintake/internal/envelope"
	"github.com/bcem/leaveintake/internal/pipeline"
	"github.com/bcem/leaveintake/internal/schema"
)

const fullYAML = `
redis:
  url: ${TEST_REDIS_URL}
  queues:
    intake: in
    submissions: out
postgres:
  url: postgres://leave@db/leave
quota:
  backend: postgres
  monthly_limit: 6
  window_days: 7
pipeline:
  schema_variant: typed
  header_mode: superset_any_order
  row_policy: lenient
  date_format: midnight_suffix
  group_by: manager
  flatten: true
  hours_per_day: 7
  record_email: hr@example.com
  timezone: UTC
workers:
  count: 2
`

// TestLoad verifies the YAML file named by CONFIG_PATH is read and env
// references are expanded.
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("TEST_REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.IntakeQueue != "in" || cfg.Queues.Submissions != "out" || cfg.Queues.Rejections == "" {
		t.Errorf("queues = %q %+v", cfg.IntakeQueue, cfg.Queues)
	}
	if cfg.Quota != (QuotaConfig{Backend: QuotaPostgres, MonthlyLimit: 6, WindowDays: 7}) {
		t.Errorf("quota = %+v", cfg.Quota)
	}
	if cfg.Workers != 2 {
		t.Errorf("workers = %d", cfg.Workers)
	}

	p := cfg.Pipeline
	if p.SchemaVariant != schema.VariantTyped || p.HeaderMode != schema.SupersetAnyOrder ||
		p.RowPolicy != pipeline.Lenient || p.DateFormat != envelope.MidnightSuffix {
		t.Errorf("pipeline switches = %+v", p)
	}
	if p.GroupBy != envelope.GroupManager || !p.Flatten || p.HoursPerDay != 7 || p.RecordEmail != "hr@example.com" {
		t.Errorf("pipeline settings = %+v", p)
	}
	if p.Location == nil || p.Location.String() != "UTC" {
		t.Errorf("location = %v", p.Location)
	}
}

// TestParse_RequiredSwitches verifies there is no silent default for the
// pipeline switches.
func TestParse_RequiredSwitches(t *testing.T) {
	_, err := Parse([]byte("redis:\n  url: redis://x:6379/0\n"))
	if err == nil {
		t.Fatal("expected error for missing pipeline section")
	}
	for _, want := range []string{"schema_variant", "header_mode", "row_policy", "date_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

// TestParse_Invalid verifies bad values are reported.
func TestParse_Invalid(t *testing.T) {
	base := `
redis:
  url: redis://x:6379/0
pipeline:
  schema_variant: standard
  header_mode: exact_order
  row_policy: strict
  date_format: date_only
`
	tests := []struct {
		name  string
		extra string
		want  string
	}{
		{name: "base loads", extra: "", want: ""},
		{name: "bad group", extra: "  group_by: department\n", want: "group_by"},
		{name: "bad timezone", extra: "  timezone: Mars/Olympus\n", want: "timezone"},
		{name: "unknown backend", extra: "quota:\n  backend: etcd\n", want: "quota.backend"},
		{name: "postgres without url", extra: "quota:\n  backend: postgres\n", want: "postgres.url"},
	}

	t.Setenv("DATABASE_URL", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(base + tt.extra))
			if tt.want == "" {
				if err != nil {
					t.Fatalf("base config should load: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

// TestParse_Defaults verifies fallbacks for optional settings.
func TestParse_Defaults(t *testing.T) {
	t.Setenv("QUOTA_BACKEND", "")
	t.Setenv("WORKERS", "")
	t.Setenv("PORT", "9090")

	cfg, err := Parse([]byte(`
redis:
  url: redis://x:6379/0
pipeline:
  schema_variant: standard
  header_mode: exact
  row_policy: strict
  date_format: date_only
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Quota.Backend != QuotaRedis || cfg.Workers != 4 || cfg.Port != 9090 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Pipeline.GroupBy != envelope.GroupNone || cfg.Pipeline.HoursPerDay != 0 {
		t.Errorf("pipeline defaults = %+v", cfg.Pipeline)
	}
}
