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

// Package failure defines the typed rejections raised while turning an
// attachment into leave envelopes. Every stage returns a *Error tagged with
// a Kind so callers can tell rejections apart with errors.Is / errors.As
// and report a human-readable reason back to the sender.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a rejection.
type Kind int

const (
	KindUnknown Kind = iota
	KindAttachmentRead
	KindEmptySource
	KindSchemaMismatch
	KindIncompleteRow
	KindFieldParse
	KindDateRange
	KindDateOrder
	KindDurationMismatch
	KindSubmissionWindow
	KindQuotaExceeded
	KindNoAttachment
	KindEmptyResult
	KindInvalidSender
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindAttachmentRead:   "attachment_read",
	KindEmptySource:      "empty_source",
	KindSchemaMismatch:   "schema_mismatch",
	KindIncompleteRow:    "incomplete_row",
	KindFieldParse:       "field_parse",
	KindDateRange:        "date_range",
	KindDateOrder:        "date_order",
	KindDurationMismatch: "duration_mismatch",
	KindSubmissionWindow: "submission_window",
	KindQuotaExceeded:    "quota_exceeded",
	KindNoAttachment:     "no_attachment",
	KindEmptyResult:      "empty_result",
	KindInvalidSender:    "invalid_sender",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// RowScoped reports whether a kind describes a single bad row rather than
// the whole batch. Only row-scoped failures may be skipped in lenient mode.
func (k Kind) RowScoped() bool {
	switch k {
	case KindIncompleteRow, KindFieldParse, KindDateRange, KindDateOrder, KindDurationMismatch:
		return true
	}
	return false
}

// Error is a rejection raised by one of the intake stages.
type Error struct {
	Kind    Kind
	Row     int    // 1-based data row, 0 when not row-scoped
	Column  string // offending column, if any
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Column != "" {
		msg = fmt.Sprintf("%s: %s", e.Column, msg)
	}
	if e.Row > 0 {
		msg = fmt.Sprintf("row %d: %s", e.Row, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is regardless of row or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrAttachmentRead   = &Error{Kind: KindAttachmentRead}
	ErrEmptySource      = &Error{Kind: KindEmptySource}
	ErrSchemaMismatch   = &Error{Kind: KindSchemaMismatch}
	ErrIncompleteRow    = &Error{Kind: KindIncompleteRow}
	ErrFieldParse       = &Error{Kind: KindFieldParse}
	ErrDateRange        = &Error{Kind: KindDateRange}
	ErrDateOrder        = &Error{Kind: KindDateOrder}
	ErrDurationMismatch = &Error{Kind: KindDurationMismatch}
	ErrSubmissionWindow = &Error{Kind: KindSubmissionWindow}
	ErrQuotaExceeded    = &Error{Kind: KindQuotaExceeded}
	ErrNoAttachment     = &Error{Kind: KindNoAttachment}
	ErrEmptyResult      = &Error{Kind: KindEmptyResult}
	ErrInvalidSender    = &Error{Kind: KindInvalidSender}
)

// New builds a batch-scoped rejection.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a batch-scoped rejection around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Field builds a row-scoped rejection for one column.
func Field(kind Kind, column, format string, args ...any) *Error {
	return &Error{Kind: kind, Column: column, Message: fmt.Sprintf(format, args...)}
}

// AtRow returns a copy of err annotated with the data row number. Errors
// that are not *Error are returned unchanged.
func AtRow(err error, row int) error {
	var fe *Error
	if !errors.As(err, &fe) {
		return err
	}
	cp := *fe
	cp.Row = row
	return &cp
}

// KindOf returns the kind carried by err, or KindUnknown for infrastructure
// errors that are not rejections.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Reason renders the message returned to the sender for a rejection.
func Reason(err error) string {
	switch KindOf(err) {
	case KindNoAttachment:
		return "Please attach a CSV or XLSX file."
	case KindEmptyResult:
		return "File format is correct but values are missing."
	case KindQuotaExceeded:
		return "Monthly submission limit reached: " + err.Error()
	case KindSubmissionWindow:
		return "Submissions are only accepted near the end of the month: " + err.Error()
	case KindInvalidSender:
		return "Invalid or missing email address!"
	case KindUnknown:
		return "An unexpected error occurred."
	}
	return "Please attach a valid file: " + err.Error()
}
