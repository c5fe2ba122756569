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

// Package envelope assembles accepted leave records into the submission
// payloads handed to the workflow API, one per group or one for the batch.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/leaveintake/internal/leave"
)

const createdOnLayout = "2006-01-02 15:04:05"

// DateFormat controls how leave dates are rendered. The zero value is
// invalid and must be set explicitly.
type DateFormat int

const (
	DateFormatUnset DateFormat = iota
	// DateOnly renders 2024-06-05.
	DateOnly
	// MidnightSuffix renders 2024-06-05T00:00:00 for consumers that expect
	// a timestamp.
	MidnightSuffix
)

// ParseDateFormat parses "date_only" or "midnight_suffix".
func ParseDateFormat(s string) (DateFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "date_only":
		return DateOnly, nil
	case "midnight_suffix":
		return MidnightSuffix, nil
	}
	return DateFormatUnset, fmt.Errorf("unknown date format %q (want date_only or midnight_suffix)", s)
}

func (f DateFormat) render(t time.Time) string {
	if f == MidnightSuffix {
		return t.Format("2006-01-02") + "T00:00:00"
	}
	return t.Format("2006-01-02")
}

// GroupBy names the record field envelopes are partitioned on. Empty means
// a single envelope for the whole batch.
type GroupBy string

const (
	GroupNone         GroupBy = ""
	GroupManager      GroupBy = "manager"
	GroupEmployeeName GroupBy = "employee_name"
	GroupType         GroupBy = "type"
)

// ParseGroupBy validates a configured selector.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupNone, GroupManager, GroupEmployeeName, GroupType:
		return g, nil
	case "none":
		return GroupNone, nil
	}
	return GroupNone, fmt.Errorf("unknown group_by %q (want manager, employee_name, type or none)", s)
}

func (g GroupBy) keyOf(r leave.Record) string {
	switch g {
	case GroupManager:
		return r.Manager
	case GroupEmployeeName:
		return r.EmployeeName
	case GroupType:
		return r.Type
	}
	return ""
}

// Requester describes who sent the attachment.
type Requester struct {
	Name      string
	Email     string
	Company   string
	CreatedOn time.Time
}

// Envelope is one submission payload.
type Envelope struct {
	ID        string
	Requester Requester
	Records   []leave.Record

	// GroupBy and GroupKey are set when the batch was partitioned.
	GroupBy  GroupBy
	GroupKey string

	DateFormat  DateFormat
	RecordEmail string
}

// Grouped reports whether the envelope is one partition of a batch.
func (e Envelope) Grouped() bool { return e.GroupBy != GroupNone }

type wireEnvelope struct {
	Data        wireData     `json:"data"`
	Metadata    wireMetadata `json:"metadata"`
	State       string       `json:"state"`
	Action      string       `json:"action,omitempty"`
	ManagerName string       `json:"manager_name,omitempty"`
	GroupKey    string       `json:"group_key,omitempty"`
}

type wireData struct {
	RequesterName    string      `json:"requester_name"`
	RequesterEmail   string      `json:"requester_email"`
	RequesterCompany string      `json:"requesterCompany"`
	CreateOn         string      `json:"createOn"`
	LeaveDetails     []wireLeave `json:"leave_details"`
}

type wireMetadata struct {
	Timezone    string `json:"timezone"`
	BrowserName string `json:"browserName"`
}

type wireLeave struct {
	ID          int    `json:"_id"`
	Manager     string `json:"manager"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	NoOfHours   int    `json:"no_of_hours"`
	Type        string `json:"type,omitempty"`
}

// MarshalJSON renders the payload in the workflow API's submission format.
func (e Envelope) MarshalJSON() ([]byte, error) {
	details := make([]wireLeave, 0, len(e.Records))
	for _, r := range e.Records {
		details = append(details, wireLeave{
			ID:          r.EmployeeID,
			Manager:     r.Manager,
			StartDate:   e.DateFormat.render(r.StartDate),
			EndDate:     e.DateFormat.render(r.EndDate),
			DisplayName: r.EmployeeName,
			FirstName:   r.FirstName,
			LastName:    r.LastName,
			Name:        r.EmployeeName,
			Email:       e.RecordEmail,
			NoOfHours:   r.DurationHours,
			Type:        r.Type,
		})
	}

	w := wireEnvelope{
		Data: wireData{
			RequesterName:    e.Requester.Name,
			RequesterEmail:   e.Requester.Email,
			RequesterCompany: e.Requester.Company,
			CreateOn:         e.Requester.CreatedOn.UTC().Format(createdOnLayout),
			LeaveDetails:     details,
		},
		Metadata: wireMetadata{Timezone: "UTC", BrowserName: "Chrome"},
		State:    "submitted",
	}
	if e.Grouped() {
		w.Action = "CREATE"
		if e.GroupBy == GroupManager {
			w.ManagerName = e.GroupKey
		} else {
			w.GroupKey = e.GroupKey
		}
	}
	return json.Marshal(w)
}

// Builder partitions records and stamps envelopes.
type Builder struct {
	GroupBy     GroupBy
	DateFormat  DateFormat
	RecordEmail string
	NewID       func() string
}

func (b *Builder) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.NewString()
}

func (b *Builder) envelope(req Requester, records []leave.Record, key string) Envelope {
	return Envelope{
		ID:          b.newID(),
		Requester:   req,
		Records:     records,
		GroupBy:     b.GroupBy,
		GroupKey:    key,
		DateFormat:  b.DateFormat,
		RecordEmail: b.RecordEmail,
	}
}

// Build returns one envelope for the batch, or one per distinct group key in
// first-seen order. Records keep their input order within a group.
func (b *Builder) Build(req Requester, records []leave.Record) []Envelope {
	if b.GroupBy == GroupNone {
		return []Envelope{b.envelope(req, records, "")}
	}

	var order []string
	groups := make(map[string][]leave.Record)
	for _, r := range records {
		k := b.GroupBy.keyOf(r)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]Envelope, 0, len(order))
	for _, k := range order {
		out = append(out, b.envelope(req, groups[k], k))
	}
	return out
}

// Flatten splits every envelope into one envelope per record, keeping the
// requester and group metadata.
func (b *Builder) Flatten(envs []Envelope) []Envelope {
	var out []Envelope
	for _, e := range envs {
		for _, r := range e.Records {
			single := e
			single.ID = b.newID()
			single.Records = []leave.Record{r}
			out = append(out, single)
		}
	}
	return out
}
