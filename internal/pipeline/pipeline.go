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

// Package pipeline runs one inbound message through the whole intake flow:
//
//  1. Parse the sender and check the submission window and monthly quota
//  2. Read each CSV/spreadsheet attachment and validate its header
//  3. Map and rule-check every row
//  4. Charge quota once the batch is accepted
//  5. Build the submission envelopes
//
// A run either returns envelopes or exactly one typed failure; there is no
// partial result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bcem/leaveintake/internal/envelope"
	"github.com/bcem/leaveintake/internal/failure"
	"github.com/bcem/leaveintake/internal/leave"
	"github.com/bcem/leaveintake/internal/quota"
	"github.com/bcem/leaveintake/internal/schema"
	"github.com/bcem/leaveintake/internal/sender"
	"github.com/bcem/leaveintake/internal/tabular"
)

// RowPolicy decides what a bad row does to its batch. The zero value is
// invalid and must be set explicitly.
type RowPolicy int

const (
	RowPolicyUnset RowPolicy = iota
	// Strict aborts the batch on the first bad row.
	Strict
	// Lenient skips bad rows and keeps the rest.
	Lenient
)

// ParseRowPolicy parses "strict" or "lenient".
func ParseRowPolicy(s string) (RowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	}
	return RowPolicyUnset, fmt.Errorf("unknown row policy %q (want strict or lenient)", s)
}

func (p RowPolicy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	}
	return "unset"
}

// Options configures a pipeline. SchemaVariant, HeaderMode, RowPolicy and
// DateFormat have no defaults.
type Options struct {
	SchemaVariant schema.Variant
	HeaderMode    schema.Mode
	RowPolicy     RowPolicy
	DateFormat    envelope.DateFormat

	GroupBy     envelope.GroupBy
	Flatten     bool
	HoursPerDay int
	RecordEmail string

	// Location is the zone the processing day is taken in. Defaults to UTC.
	Location *time.Location
	// Now overrides the clock, for tests and replays.
	Now func() time.Time
	// NewID overrides envelope ID generation.
	NewID func() string
}

// Validate reports every missing or invalid setting.
func (o Options) Validate() error {
	var errs []error
	if o.SchemaVariant == schema.VariantUnset {
		errs = append(errs, errors.New("schema variant is required (standard or typed)"))
	}
	if o.HeaderMode == schema.ModeUnset {
		errs = append(errs, errors.New("header mode is required (exact_order or superset_any_order)"))
	}
	if o.RowPolicy == RowPolicyUnset {
		errs = append(errs, errors.New("row policy is required (strict or lenient)"))
	}
	if o.DateFormat == envelope.DateFormatUnset {
		errs = append(errs, errors.New("date format is required (date_only or midnight_suffix)"))
	}
	if o.HoursPerDay < 0 {
		errs = append(errs, fmt.Errorf("hours per day must be positive, got %d", o.HoursPerDay))
	}
	return errors.Join(errs...)
}

// Message is one inbound email as handed over by the mail adapter.
type Message struct {
	ID          string
	Sender      string
	Subject     string
	ReceivedAt  time.Time
	Attachments []tabular.Attachment
}

// Result is the outcome of an accepted message.
type Result struct {
	Requester envelope.Requester
	Envelopes []envelope.Envelope
	Records   int
	// Skipped holds the row failures dropped under the lenient policy.
	Skipped []error
	// QuotaUsed is the sender's count after this submission, zero when no
	// tracker is configured.
	QuotaUsed int

	// chargedOn is the processing day quota was charged for, zero when
	// nothing was charged.
	chargedOn time.Time
}

// Pipeline processes messages. It is safe for concurrent use when the quota
// store is.
type Pipeline struct {
	opts    Options
	quota   *quota.Tracker
	rules   leave.Rules
	builder *envelope.Builder
}

// New validates opts and builds a pipeline. A nil tracker disables the
// window and quota checks, which is only meant for offline dry runs.
func New(opts Options, tracker *quota.Tracker) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline options: %w", err)
	}
	if opts.HoursPerDay == 0 {
		opts.HoursPerDay = leave.DefaultHoursPerDay
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Pipeline{
		opts:  opts,
		quota: tracker,
		rules: leave.Rules{HoursPerDay: opts.HoursPerDay},
		builder: &envelope.Builder{
			GroupBy:     opts.GroupBy,
			DateFormat:  opts.DateFormat,
			RecordEmail: opts.RecordEmail,
			NewID:       opts.NewID,
		},
	}, nil
}

// Process runs msg through the intake flow.
func (p *Pipeline) Process(ctx context.Context, msg Message) (*Result, error) {
	id, err := sender.Parse(msg.Sender)
	if err != nil {
		return nil, err
	}

	today := p.opts.Now().In(p.opts.Location)

	if p.quota != nil {
		if err := p.quota.Check(ctx, id.Email, today); err != nil {
			return nil, err
		}
	}

	var (
		records []leave.Record
		skipped []error
		found   bool
	)
	for _, att := range msg.Attachments {
		recs, skips, err := p.readAttachment(att, today)
		if errors.Is(err, tabular.ErrUnsupported) {
			slog.Debug("ignoring attachment",
				"message_id", msg.ID,
				"filename", att.Filename,
			)
			continue
		}
		found = true
		if err != nil {
			return nil, fmt.Errorf("%s: %w", att.Filename, err)
		}
		records = append(records, recs...)
		skipped = append(skipped, skips...)
	}

	if !found {
		return nil, failure.New(failure.KindNoAttachment, "no CSV or spreadsheet attachment")
	}
	if len(records) == 0 {
		return nil, failure.New(failure.KindEmptyResult, "attachment has a valid header but no leave rows")
	}

	res := &Result{Records: len(records), Skipped: skipped}
	if p.quota != nil {
		n, err := p.quota.Consume(ctx, id.Email, today)
		if err != nil {
			return nil, err
		}
		res.QuotaUsed = n
		res.chargedOn = today
	}

	res.Requester = envelope.Requester{
		Name:      id.Name,
		Email:     id.Email,
		Company:   strings.TrimSpace(msg.Subject),
		CreatedOn: msg.ReceivedAt,
	}
	res.Envelopes = p.builder.Build(res.Requester, records)
	if p.opts.Flatten {
		res.Envelopes = p.builder.Flatten(res.Envelopes)
	}
	return res, nil
}

// Release refunds the quota Process charged for res. Call it when none of
// the envelopes could be delivered. Releasing twice, or releasing a dry-run
// result, is a no-op.
func (p *Pipeline) Release(ctx context.Context, res *Result) error {
	if p.quota == nil || res == nil || res.chargedOn.IsZero() {
		return nil
	}
	if err := p.quota.Release(ctx, res.Requester.Email, res.chargedOn); err != nil {
		return err
	}
	res.chargedOn = time.Time{}
	res.QuotaUsed--
	return nil
}

// readAttachment returns the accepted records of one attachment and, under
// the lenient policy, the row failures that were skipped.
func (p *Pipeline) readAttachment(att tabular.Attachment, today time.Time) ([]leave.Record, []error, error) {
	r, _, err := tabular.Open(att)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	header := r.Header()
	cols, err := schema.Validate(header, schema.Required(p.opts.SchemaVariant), p.opts.HeaderMode)
	if err != nil {
		return nil, nil, err
	}
	mapper := leave.NewMapper(header, cols, p.opts.SchemaVariant, p.opts.HeaderMode, p.opts.HoursPerDay)

	var (
		records []leave.Record
		skipped []error
	)
	for row := 1; ; row++ {
		cells, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, failure.AtRow(err, row)
		}

		rec, ok, err := mapper.Map(cells)
		if err == nil && ok {
			err = p.rules.Check(rec, today)
		}
		if err != nil {
			err = failure.AtRow(err, row)
			if p.opts.RowPolicy == Lenient && failure.KindOf(err).RowScoped() {
				slog.Warn("skipping invalid row",
					"filename", att.Filename,
					"row", row,
					"error", err,
				)
				skipped = append(skipped, err)
				continue
			}
			return nil, nil, err
		}
		if ok {
			records = append(records, rec)
		}
	}
	return records, skipped, nil
}
