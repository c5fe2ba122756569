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

package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Usage is one persisted counter row.
type Usage struct {
	Sender      string
	Year        int
	Month       time.Month
	Submissions int
	UpdatedAt   time.Time
}

// PostgresStore keeps counters in a sender_quota table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a quota store backed by the given Postgres pool.
// It ensures the sender_quota table exists on creation.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure quota schema: %w", err)
	}
	slog.Info("quota store initialised", "backend", "postgres")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sender_quota (
			sender        TEXT NOT NULL,
			period_year   INT NOT NULL,
			period_month  INT NOT NULL,
			submissions   INT NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (sender, period_year, period_month)
		);
		CREATE INDEX IF NOT EXISTS idx_quota_period ON sender_quota(period_year, period_month);
	`)
	return err
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context, b Bucket) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT submissions
		FROM sender_quota
		WHERE sender = $1 AND period_year = $2 AND period_month = $3
	`, b.Sender, b.Year, int(b.Month)).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// TryConsume implements Store. The conditional upsert takes the row lock,
// so concurrent consumers of one bucket are serialised by Postgres.
func (s *PostgresStore) TryConsume(ctx context.Context, b Bucket, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	var n int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sender_quota (sender, period_year, period_month, submissions)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (sender, period_year, period_month) DO UPDATE SET
			submissions = sender_quota.submissions + 1,
			updated_at  = NOW()
		WHERE sender_quota.submissions < $4
		RETURNING submissions
	`, b.Sender, b.Year, int(b.Month), limit).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict row was at the limit; nothing was updated.
		current, cerr := s.Count(ctx, b)
		if cerr != nil {
			return 0, false, cerr
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, b Bucket) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sender_quota
		SET submissions = submissions - 1,
			updated_at  = NOW()
		WHERE sender = $1 AND period_year = $2 AND period_month = $3
			AND submissions > 0
	`, b.Sender, b.Year, int(b.Month))
	return err
}

// ListByMonth returns every counter for a month, busiest sender first.
func (s *PostgresStore) ListByMonth(ctx context.Context, year int, month time.Month) ([]Usage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sender, period_year, period_month, submissions, updated_at
		FROM sender_quota
		WHERE period_year = $1 AND period_month = $2
		ORDER BY submissions DESC, sender
	`, year, int(month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		var m int
		if err := rows.Scan(&u.Sender, &u.Year, &m, &u.Submissions, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Month = time.Month(m)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune deletes counters for months that ended before cutoff.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	y, m, _ := cutoff.Date()
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sender_quota
		WHERE period_year < $1 OR (period_year = $1 AND period_month < $2)
	`, y, int(m))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
