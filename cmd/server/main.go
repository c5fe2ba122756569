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

// Leave Intake Service
//
// Entry point for the leave-request intake workers. It:
//  1. Loads configuration from config.yaml
//  2. Connects to Redis (and PostgreSQL when quota is kept there)
//  3. Builds the intake pipeline around the configured quota store
//  4. Runs N workers consuming the intake queue
//  5. Serves a health endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/leaveintake/internal/config"
	"github.com/bcem/leaveintake/internal/dedup"
	"github.com/bcem/leaveintake/internal/pipeline"
	"github.com/bcem/leaveintake/internal/queue"
	"github.com/bcem/leaveintake/internal/quota"
	"github.com/bcem/leaveintake/internal/worker"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting leave intake service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"schema_variant", cfg.Pipeline.SchemaVariant.String(),
		"header_mode", cfg.Pipeline.HeaderMode.String(),
		"row_policy", cfg.Pipeline.RowPolicy.String(),
		"group_by", string(cfg.Pipeline.GroupBy),
		"quota_backend", string(cfg.Quota.Backend),
		"workers", cfg.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.Queues)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	checks := []healthCheck{{name: "redis", ping: publisher.Ping}}

	// --- Connect to PostgreSQL (optional) ---
	var pgPool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		pgPool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := pgPool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
		checks = append(checks, healthCheck{name: "postgres", ping: pgPool.Ping})
	}

	// --- Quota Store ---
	store, err := newQuotaStore(ctx, cfg.Quota.Backend, rdb, pgPool)
	if err != nil {
		slog.Error("failed to initialise quota store", "error", err)
		os.Exit(1)
	}
	tracker := quota.NewTracker(store, cfg.Quota.MonthlyLimit, cfg.Quota.WindowDays)

	// --- Pipeline ---
	pipe, err := pipeline.New(cfg.Pipeline, tracker)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// --- Workers ---
	filter := dedup.NewFilter(rdb, cfg.DedupTTL)
	consumer := queue.NewConsumer(rdb, cfg.IntakeQueue, cfg.PollTimeout)

	var wg sync.WaitGroup
	for i := 1; i <= cfg.Workers; i++ {
		w := worker.New(i, consumer, filter, pipe, publisher)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(checks...))

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		// Workers finish the job in hand; BRPOP returns within the poll timeout.
		wg.Wait()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
	}()

	slog.Info("leave intake service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("leave intake service stopped")
}

// newQuotaStore builds the configured counter backend.
func newQuotaStore(ctx context.Context, backend config.QuotaBackend, rdb *redis.Client, pool *pgxpool.Pool) (quota.Store, error) {
	switch backend {
	case config.QuotaMemory:
		slog.Warn("quota counters are in memory and reset on restart")
		return quota.NewMemoryStore(), nil
	case config.QuotaRedis:
		return quota.NewRedisStore(rdb), nil
	case config.QuotaPostgres:
		if pool == nil {
			return nil, fmt.Errorf("quota backend postgres needs a database connection")
		}
		return quota.NewPostgresStore(ctx, pool)
	}
	return nil, fmt.Errorf("unknown quota backend %q", backend)
}
