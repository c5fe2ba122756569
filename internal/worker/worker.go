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

// Package worker pulls inbound jobs off the queue and routes each one to
// the intake pipeline or the reply parser, publishing the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/leaveintake/internal/envelope"
	"github.com/bcem/leaveintake/internal/failure"
	"github.com/bcem/leaveintake/internal/pipeline"
	"github.com/bcem/leaveintake/internal/queue"
	"github.com/bcem/leaveintake/internal/reply"
)

// JobSource yields inbound jobs. Next returns queue.ErrEmpty when the poll
// timed out with nothing to do.
type JobSource interface {
	Next(ctx context.Context) (queue.Job, error)
}

// Deduper marks message IDs as handled.
type Deduper interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// Processor runs the intake pipeline. Release refunds the quota charged
// for a result that could not be delivered.
type Processor interface {
	Process(ctx context.Context, msg pipeline.Message) (*pipeline.Result, error)
	Release(ctx context.Context, res *pipeline.Result) error
}

// Publisher delivers outcomes.
type Publisher interface {
	PublishEnvelope(ctx context.Context, messageID string, env envelope.Envelope) error
	PublishRejection(ctx context.Context, r queue.Rejection) error
	PublishDecision(ctx context.Context, d queue.DecisionEvent) error
}

// Worker handles jobs one at a time. Run several for concurrency.
type Worker struct {
	id     int
	source JobSource
	dedup  Deduper
	proc   Processor
	pub    Publisher

	// backoff is the pause after a source error.
	backoff time.Duration
}

// New creates a worker.
func New(id int, source JobSource, dedup Deduper, proc Processor, pub Publisher) *Worker {
	return &Worker{
		id:      id,
		source:  source,
		dedup:   dedup,
		proc:    proc,
		pub:     pub,
		backoff: 2 * time.Second,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("worker starting", "worker", w.id)

	for {
		if ctx.Err() != nil {
			slog.Info("worker stopping", "worker", w.id)
			return
		}

		job, err := w.source.Next(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Error("failed to read job", "worker", w.id, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.backoff):
			}
			continue
		}

		if err := w.Handle(ctx, job); err != nil {
			slog.Error("failed to handle job",
				"worker", w.id,
				"message_id", job.MessageID,
				"error", err,
			)
		}
	}
}

// Handle processes a single job. Rejections are outcomes, not errors; the
// returned error is reserved for infrastructure failures.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	isNew, err := w.dedup.IsNew(ctx, job.MessageID)
	if err != nil {
		return err
	}
	if !isNew {
		slog.Debug("skipping duplicate message", "message_id", job.MessageID)
		return nil
	}

	switch job.Kind {
	case queue.JobReply:
		return w.handleReply(ctx, job)
	default:
		return w.handleIntake(ctx, job)
	}
}

func (w *Worker) handleIntake(ctx context.Context, job queue.Job) error {
	res, err := w.proc.Process(ctx, job.Message())
	if err != nil {
		kind := failure.KindOf(err)
		if kind == failure.KindUnknown {
			// Let a redelivery try again.
			if ferr := w.dedup.Forget(ctx, job.MessageID); ferr != nil {
				slog.Warn("failed to clear dedup mark", "message_id", job.MessageID, "error", ferr)
			}
			return fmt.Errorf("process %s: %w", job.MessageID, err)
		}

		slog.Info("rejected message",
			"message_id", job.MessageID,
			"sender", job.Sender,
			"kind", kind.String(),
			"error", err,
		)
		return w.pub.PublishRejection(ctx, queue.Rejection{
			MessageID: job.MessageID,
			Sender:    job.Sender,
			Kind:      kind.String(),
			Reason:    failure.Reason(err),
			Detail:    err.Error(),
		})
	}

	slog.Info("accepted message",
		"message_id", job.MessageID,
		"sender", res.Requester.Email,
		"records", res.Records,
		"skipped", len(res.Skipped),
		"envelopes", len(res.Envelopes),
		"quota_used", res.QuotaUsed,
	)

	var (
		errs   []error
		failed []envelope.Envelope
	)
	for _, env := range res.Envelopes {
		if err := w.pub.PublishEnvelope(ctx, job.MessageID, env); err != nil {
			errs = append(errs, fmt.Errorf("publish envelope %s: %w", env.ID, err))
			failed = append(failed, env)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err = errors.Join(errs...)

	if len(failed) == len(res.Envelopes) {
		// Nothing was delivered: refund the charge and let a redelivery
		// run the message again.
		if rerr := w.proc.Release(ctx, res); rerr != nil {
			slog.Warn("failed to release quota", "message_id", job.MessageID, "error", rerr)
		}
		if ferr := w.dedup.Forget(ctx, job.MessageID); ferr != nil {
			slog.Warn("failed to clear dedup mark", "message_id", job.MessageID, "error", ferr)
		}
		return fmt.Errorf("publish %s: %w", job.MessageID, err)
	}

	// Part of the batch is out; a retry would duplicate it.
	for _, env := range failed {
		slog.Error("envelope needs manual replay",
			"message_id", job.MessageID,
			"sender", res.Requester.Email,
			"envelope_id", env.ID,
			"group", env.GroupKey,
			"records", len(env.Records),
		)
	}
	return fmt.Errorf("publish %s: %d of %d envelopes failed: %w",
		job.MessageID, len(failed), len(res.Envelopes), err)
}

func (w *Worker) handleReply(ctx context.Context, job queue.Job) error {
	d, err := reply.Parse(job.Subject, job.Body)
	if errors.Is(err, reply.ErrNotDecision) {
		slog.Warn("ignoring reply without a decision",
			"message_id", job.MessageID,
			"subject", job.Subject,
		)
		return nil
	}
	if err != nil {
		return err
	}
	return w.pub.PublishDecision(ctx, queue.DecisionEvent{
		MessageID: job.MessageID,
		Sender:    job.Sender,
		Decision:  d,
	})
}
