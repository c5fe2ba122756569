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

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bcem/leaveintake/internal/envelope"
	"github.com/bcem/leaveintake/internal/pipeline"
	"github.com/bcem/leaveintake/internal/queue"
	"github.com/bcem/leaveintake/internal/quota"
	"github.com/bcem/leaveintake/internal/reply"
	"github.com/bcem/leaveintake/internal/schema"
)

// --- Mock job source ---

type mockSource struct {
	mu     sync.Mutex
	jobs   []queue.Job
	errs   []error
	cancel context.CancelFunc
}

func (m *mockSource) Next(_ context.Context) (queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return queue.Job{}, err
	}
	if len(m.jobs) == 0 {
		m.cancel()
		return queue.Job{}, queue.ErrEmpty
	}
	j := m.jobs[0]
	m.jobs = m.jobs[1:]
	return j, nil
}

// --- Mock dedup filter ---

type mockDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMockDedup() *mockDedup {
	return &mockDedup{seen: make(map[string]bool)}
}

func (m *mockDedup) IsNew(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *mockDedup) Forget(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}

func (m *mockDedup) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id]
}

// --- Mock publisher ---

type mockPublisher struct {
	mu         sync.Mutex
	envelopes  []envelope.Envelope
	rejections []queue.Rejection
	decisions  []queue.DecisionEvent
}

func (m *mockPublisher) PublishEnvelope(_ context.Context, _ string, env envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = append(m.envelopes, env)
	return nil
}

func (m *mockPublisher) PublishRejection(_ context.Context, r queue.Rejection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, r)
	return nil
}

func (m *mockPublisher) PublishDecision(_ context.Context, d queue.DecisionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

// --- Flaky publisher ---

// flakyPublisher fails the envelopes whose 1-based call number fail
// returns true for.
type flakyPublisher struct {
	mockPublisher
	calls int
	fail  func(call int) bool
}

func (f *flakyPublisher) PublishEnvelope(ctx context.Context, id string, env envelope.Envelope) error {
	f.mu.Lock()
	f.calls++
	failed := f.fail(f.calls)
	f.mu.Unlock()
	if failed {
		return errors.New("redis: i/o timeout")
	}
	return f.mockPublisher.PublishEnvelope(ctx, id, env)
}

// --- Failing processor ---

type brokenProcessor struct{}

func (brokenProcessor) Process(context.Context, pipeline.Message) (*pipeline.Result, error) {
	return nil, errors.New("redis: connection refused")
}

func (brokenProcessor) Release(context.Context, *pipeline.Result) error { return nil }

// --- Test helpers ---

func newPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	return newPipelineWithStore(t, quota.NewMemoryStore())
}

func newPipelineWithStore(t *testing.T, store quota.Store) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(pipeline.Options{
		SchemaVariant: schema.VariantStandard,
		HeaderMode:    schema.ExactOrder,
		RowPolicy:     pipeline.Strict,
		DateFormat:    envelope.DateOnly,
		GroupBy:       envelope.GroupManager,
		Now:           func() time.Time { return time.Date(2024, 6, 25, 12, 0, 0, 0, time.UTC) },
	}, quota.NewTracker(store, 4, 10))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p
}

func intakeJob(id, csv string) queue.Job {
	return queue.Job{
		MessageID:  id,
		Kind:       queue.JobIntake,
		Sender:     "Jane Roe <jane@example.com>",
		Subject:    "Acme Inc.",
		ReceivedAt: time.Date(2024, 6, 25, 9, 0, 0, 0, time.UTC),
		Attachments: []queue.Attachment{
			{Filename: "leave.csv", ContentType: "text/csv", Data: []byte(csv)},
		},
	}
}

const validCSV = "employee_id,employee_name,manager,start_date,end_date,no_of_hours\n" +
	"101,Jane Roe,Bob Lee,2024-06-05,2024-06-05,8\n" +
	"102,Sam Poe,Ann Kay,2024-06-06,2024-06-07,2D\n"

// TestRun_RoutesJobs verifies intake, rejection, reply and duplicate jobs
// each produce the right outcome.
func TestRun_RoutesJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &mockSource{
		cancel: cancel,
		jobs: []queue.Job{
			intakeJob("m1", validCSV),
			intakeJob("m1", validCSV),
			intakeJob("m2", "id,name\n1,x\n"),
			{MessageID: "m3", Kind: queue.JobReply, Sender: "bob@example.com", Subject: "Re: APPROVE-abc", Body: "Comments:[[ok]]"},
			{MessageID: "m4", Kind: queue.JobReply, Subject: "Lunch?"},
		},
	}
	pub := &mockPublisher{}
	w := New(1, src, newMockDedup(), newPipeline(t), pub)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()

	if len(pub.envelopes) != 2 {
		t.Errorf("envelopes = %d, want 2 (one per manager, duplicate ignored)", len(pub.envelopes))
	}
	if len(pub.rejections) != 1 || pub.rejections[0].MessageID != "m2" || pub.rejections[0].Kind != "schema_mismatch" {
		t.Errorf("rejections = %+v", pub.rejections)
	}
	if len(pub.decisions) != 1 || pub.decisions[0].ReplyID != "abc" || pub.decisions[0].Action != reply.Approve {
		t.Errorf("decisions = %+v", pub.decisions)
	}
}

// TestHandle_InfrastructureErrorIsRetryable verifies a non-rejection error
// is returned and the dedup mark cleared.
func TestHandle_InfrastructureErrorIsRetryable(t *testing.T) {
	dd := newMockDedup()
	pub := &mockPublisher{}
	w := New(1, nil, dd, brokenProcessor{}, pub)

	err := w.Handle(context.Background(), intakeJob("m9", validCSV))
	if err == nil {
		t.Fatal("expected error")
	}
	if dd.has("m9") {
		t.Error("dedup mark should be cleared after infrastructure failure")
	}
	if len(pub.rejections) != 0 {
		t.Errorf("infrastructure failure published as rejection: %+v", pub.rejections)
	}
}

// TestHandle_QuotaRejection verifies the fifth submission in a month is
// rejected with the quota reason.
func TestHandle_QuotaRejection(t *testing.T) {
	pub := &mockPublisher{}
	w := New(1, nil, newMockDedup(), newPipeline(t), pub)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := w.Handle(context.Background(), intakeJob(id, validCSV)); err != nil {
			t.Fatalf("Handle(%s): %v", id, err)
		}
	}

	if len(pub.rejections) != 1 || pub.rejections[0].Kind != "quota_exceeded" {
		t.Errorf("rejections = %+v", pub.rejections)
	}
	if len(pub.envelopes) != 8 {
		t.Errorf("envelopes = %d, want 8", len(pub.envelopes))
	}
}

// TestRun_SourceErrorBacksOff verifies a failing source does not stop the
// worker.
func TestRun_SourceErrorBacksOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &mockSource{
		cancel: cancel,
		errs:   []error{errors.New("connection reset")},
		jobs:   []queue.Job{intakeJob("m1", validCSV)},
	}
	pub := &mockPublisher{}
	w := New(1, src, newMockDedup(), newPipeline(t), pub)
	w.backoff = time.Millisecond

	w.Run(ctx)

	if len(pub.envelopes) != 2 {
		t.Errorf("envelopes = %d, want 2", len(pub.envelopes))
	}
}

var june = quota.BucketFor("jane@example.com", time.Date(2024, 6, 25, 12, 0, 0, 0, time.UTC))

// TestHandle_PublishFailureIsRetryable verifies that when no envelope could
// be published the quota charge is refunded and the message can be redelivered.
func TestHandle_PublishFailureIsRetryable(t *testing.T) {
	store := quota.NewMemoryStore()
	dd := newMockDedup()
	pub := &flakyPublisher{fail: func(int) bool { return true }}
	w := New(1, nil, dd, newPipelineWithStore(t, store), pub)

	if err := w.Handle(context.Background(), intakeJob("m1", validCSV)); err == nil {
		t.Fatal("expected publish error")
	}
	if dd.has("m1") {
		t.Error("dedup mark should be cleared when nothing was published")
	}
	if n, _ := store.Count(context.Background(), june); n != 0 {
		t.Errorf("quota = %d after failed publish, want 0", n)
	}

	pub.fail = func(int) bool { return false }
	if err := w.Handle(context.Background(), intakeJob("m1", validCSV)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(pub.envelopes) != 2 {
		t.Errorf("envelopes = %d, want 2", len(pub.envelopes))
	}
	if n, _ := store.Count(context.Background(), june); n != 1 {
		t.Errorf("quota = %d after redelivery, want 1", n)
	}
}

// TestHandle_PartialPublishKeepsCharge verifies a batch that was partly
// delivered is not retried and stays charged.
func TestHandle_PartialPublishKeepsCharge(t *testing.T) {
	store := quota.NewMemoryStore()
	dd := newMockDedup()
	pub := &flakyPublisher{fail: func(call int) bool { return call == 2 }}
	w := New(1, nil, dd, newPipelineWithStore(t, store), pub)

	err := w.Handle(context.Background(), intakeJob("m1", validCSV))
	if err == nil {
		t.Fatal("expected publish error")
	}
	if !dd.has("m1") {
		t.Error("dedup mark should be kept after a partial publish")
	}
	if len(pub.envelopes) != 1 {
		t.Errorf("envelopes = %d, want 1", len(pub.envelopes))
	}
	if n, _ := store.Count(context.Background(), june); n != 1 {
		t.Errorf("quota = %d, want 1", n)
	}
}
