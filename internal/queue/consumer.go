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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/leaveintake/internal/pipeline"
	"github.com/bcem/leaveintake/internal/tabular"
)

// JobKind tells the worker which flow a message belongs to.
type JobKind string

const (
	JobIntake JobKind = "intake"
	JobReply  JobKind = "reply"
)

// Attachment is an extracted file as written by the mail adapter. Data is
// base64 in JSON.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Job is one inbound email handed over by the mail adapter.
type Job struct {
	MessageID   string       `json:"message_id"`
	Kind        JobKind      `json:"kind"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message converts an intake job into pipeline input.
func (j Job) Message() pipeline.Message {
	msg := pipeline.Message{
		ID:         j.MessageID,
		Sender:     j.Sender,
		Subject:    j.Subject,
		ReceivedAt: j.ReceivedAt,
	}
	for _, a := range j.Attachments {
		msg.Attachments = append(msg.Attachments, tabular.Attachment{
			Filename: a.Filename,
			Hint:     tabular.ParseHint(a.ContentType),
			Data:     a.Data,
		})
	}
	return msg
}

// ErrEmpty is returned by Next when no job arrived within the poll timeout.
var ErrEmpty = errors.New("no job available")

// Consumer pops intake jobs from a Redis list.
type Consumer struct {
	rdb       *redis.Client
	queueName string
	timeout   time.Duration
}

// NewConsumer creates a consumer of queueName. Next blocks for at most
// timeout before returning ErrEmpty.
func NewConsumer(rdb *redis.Client, queueName string, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Consumer{rdb: rdb, queueName: queueName, timeout: timeout}
}

// Next blocks until a job is available, the timeout passes or ctx is done.
func (c *Consumer) Next(ctx context.Context) (Job, error) {
	res, err := c.rdb.BRPop(ctx, c.timeout, c.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("redis BRPOP %s: %w", c.queueName, err)
	}
	// BRPOP replies with [key, value].
	if len(res) != 2 {
		return Job{}, fmt.Errorf("redis BRPOP %s: unexpected reply of %d items", c.queueName, len(res))
	}
	return DecodeJob([]byte(res[1]))
}

// DecodeJob parses and checks a raw job.
func DecodeJob(raw []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if strings.TrimSpace(j.MessageID) == "" {
		return Job{}, errors.New("decode job: message_id is required")
	}
	switch j.Kind {
	case JobIntake, JobReply:
	case "":
		j.Kind = JobIntake
	default:
		return Job{}, fmt.Errorf("decode job %s: unknown kind %q", j.MessageID, j.Kind)
	}
	return j, nil
}
