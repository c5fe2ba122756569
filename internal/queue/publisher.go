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

// Package queue moves intake jobs and their outcomes through Redis lists.
// Outcomes are written as Celery-compatible tasks so the existing Python
// submission and notification workers can consume them unchanged.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/leaveintake/internal/envelope"
	"github.com/bcem/leaveintake/internal/reply"
)

// Celery task names on the consuming side.
const (
	TaskSubmit   = "leave.tasks.submit_envelope"
	TaskReject   = "leave.tasks.notify_rejection"
	TaskDecision = "leave.tasks.apply_decision"
)

// Queues names the outbound lists.
type Queues struct {
	Submissions string
	Rejections  string
	Decisions   string
}

// Publisher sends outcomes to Redis in Celery task format.
type Publisher struct {
	rdb    *redis.Client
	queues Queues
}

// NewPublisher creates a publisher writing to the given queues.
func NewPublisher(rdb *redis.Client, queues Queues) *Publisher {
	return &Publisher{rdb: rdb, queues: queues}
}

// Rejection tells the sender why a message was refused.
type Rejection struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// DecisionEvent is a manager's reply bound to the message it arrived in.
type DecisionEvent struct {
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	reply.Decision
}

type celeryTask struct {
	ID      string        `json:"id"`
	Task    string        `json:"task"`
	Args    []interface{} `json:"args"`
	Kwargs  interface{}   `json:"kwargs"`
	Retries int           `json:"retries"`
	ETA     *string       `json:"eta"`
}

type celeryMessage struct {
	Body            string                 `json:"body"`
	ContentEncoding string                 `json:"content-encoding"`
	ContentType     string                 `json:"content-type"`
	Headers         map[string]interface{} `json:"headers"`
	Properties      map[string]interface{} `json:"properties"`
}

// encodeTask wraps payload as the single argument of a Celery task.
func encodeTask(taskID, task, queueName string, payload any) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	body, err := json.Marshal(celeryTask{
		ID:     taskID,
		Task:   task,
		Args:   []interface{}{string(payloadJSON)},
		Kwargs: map[string]interface{}{},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal celery task: %w", err)
	}

	msg := celeryMessage{
		Body:            string(body),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]interface{}{
			"lang":    "py",
			"task":    task,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]interface{}{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"exchange":       queueName,
			"routing_key":    queueName,
			"delivery_info": map[string]string{
				"exchange":    queueName,
				"routing_key": queueName,
			},
		},
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal celery message: %w", err)
	}
	return out, nil
}

func (p *Publisher) publish(ctx context.Context, queueName, task string, payload any) (string, error) {
	taskID := uuid.New().String()
	msg, err := encodeTask(taskID, task, queueName, payload)
	if err != nil {
		return "", err
	}
	// Celery consumes with BRPOP, so producers LPUSH.
	if err := p.rdb.LPush(ctx, queueName, msg).Err(); err != nil {
		return "", fmt.Errorf("redis LPUSH %s: %w", queueName, err)
	}
	return taskID, nil
}

// PublishEnvelope queues one submission payload.
func (p *Publisher) PublishEnvelope(ctx context.Context, messageID string, env envelope.Envelope) error {
	taskID, err := p.publish(ctx, p.queues.Submissions, TaskSubmit, env)
	if err != nil {
		return fmt.Errorf("publish envelope %s: %w", env.ID, err)
	}
	slog.Info("published envelope",
		"task_id", taskID,
		"message_id", messageID,
		"envelope_id", env.ID,
		"records", len(env.Records),
		"group", env.GroupKey,
		"queue", p.queues.Submissions,
	)
	return nil
}

// PublishRejection queues a rejection notice for the sender.
func (p *Publisher) PublishRejection(ctx context.Context, r Rejection) error {
	taskID, err := p.publish(ctx, p.queues.Rejections, TaskReject, r)
	if err != nil {
		return fmt.Errorf("publish rejection for %s: %w", r.MessageID, err)
	}
	slog.Info("published rejection",
		"task_id", taskID,
		"message_id", r.MessageID,
		"kind", r.Kind,
		"queue", p.queues.Rejections,
	)
	return nil
}

// PublishDecision queues a parsed approval reply.
func (p *Publisher) PublishDecision(ctx context.Context, d DecisionEvent) error {
	taskID, err := p.publish(ctx, p.queues.Decisions, TaskDecision, d)
	if err != nil {
		return fmt.Errorf("publish decision %s: %w", d.ReplyID, err)
	}
	slog.Info("published decision",
		"task_id", taskID,
		"message_id", d.MessageID,
		"reply_id", d.ReplyID,
		"action", d.Action,
		"queue", p.queues.Decisions,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
