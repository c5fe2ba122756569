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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/bcem/leaveintake/internal/config"
	"github.com/bcem/leaveintake/internal/quota"
)

var (
	quotaMonth  string
	quotaBefore string
	quotaJSON   bool
)

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.AddCommand(quotaListCmd, quotaPruneCmd, quotaShowCmd)

	quotaListCmd.Flags().StringVar(&quotaMonth, "month", "", "Month as YYYY-MM (default current month)")
	quotaListCmd.Flags().BoolVar(&quotaJSON, "json", false, "Print JSON instead of a table")
	quotaShowCmd.Flags().StringVar(&quotaMonth, "month", "", "Month as YYYY-MM (default current month)")
	quotaPruneCmd.Flags().StringVar(&quotaBefore, "before", "", "Delete counters for months before YYYY-MM")
	quotaPruneCmd.MarkFlagRequired("before")
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect submission counters",
}

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List per-sender usage for a month (postgres backend)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		month, err := parseMonth(quotaMonth, time.Now())
		if err != nil {
			return err
		}
		store, closeFn, err := openPostgresStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		usage, err := store.ListByMonth(cmd.Context(), month.Year(), month.Month())
		if err != nil {
			return fmt.Errorf("list quota: %w", err)
		}
		if quotaJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(usage)
		}
		renderUsage(cmd.OutOrStdout(), usage)
		return nil
	},
}

var quotaPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete counters of past months (postgres backend)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cutoff, err := parseMonth(quotaBefore, time.Now())
		if err != nil {
			return err
		}
		store, closeFn, err := openPostgresStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := store.Prune(cmd.Context(), cutoff)
		if err != nil {
			return fmt.Errorf("prune quota: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d counters before %s\n", n, cutoff.Format("2006-01"))
		return nil
	},
}

var quotaShowCmd = &cobra.Command{
	Use:   "show <sender>",
	Short: "Show one sender's usage from the configured backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		month, err := parseMonth(quotaMonth, time.Now())
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var store quota.Store
		switch cfg.Quota.Backend {
		case config.QuotaRedis:
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("invalid redis url: %w", err)
			}
			rdb := redis.NewClient(opt)
			defer rdb.Close()
			store = quota.NewRedisStore(rdb)
		case config.QuotaPostgres:
			pg, closeFn, err := openPostgresStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			store = pg
		default:
			return fmt.Errorf("quota backend %q keeps no shared state to inspect", cfg.Quota.Backend)
		}

		tracker := quota.NewTracker(store, cfg.Quota.MonthlyLimit, cfg.Quota.WindowDays)
		b := quota.BucketFor(args[0], month)
		n, err := store.Count(cmd.Context(), b)
		if err != nil {
			return fmt.Errorf("read quota: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d submissions used in %s (window opens day %d)\n",
			b.Sender, n, tracker.Limit(), month.Format("2006-01"), tracker.WindowOpens(month))
		return nil
	},
}

// parseMonth reads YYYY-MM, or returns the first of now's month when empty.
func parseMonth(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, _ := now.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return t, nil
}

func openPostgresStore(ctx context.Context) (*quota.PostgresStore, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.PostgresURL == "" {
		return nil, nil, fmt.Errorf("postgres.url (or DATABASE_URL) is not configured")
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	store, err := quota.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func renderUsage(w io.Writer, usage []quota.Usage) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Sender", "Month", "Submissions", "Updated"})
	table.SetAutoFormatHeaders(false)
	for _, u := range usage {
		table.Append([]string{
			u.Sender,
			fmt.Sprintf("%d-%02d", u.Year, int(u.Month)),
			strconv.Itoa(u.Submissions),
			u.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	table.Render()
}
