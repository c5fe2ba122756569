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

// Package tabular reads attachments as a header row followed by data rows of
// trimmed string cells. The source kind (delimited text or spreadsheet grid)
// is resolved once per attachment; each kind has its own backend behind the
// Reader interface.
package tabular

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"

	"github.com/bcem/leaveintake/internal/normalize"
)

// Hint is the content type declared by whoever extracted the attachment.
type Hint int

const (
	HintUnknown Hint = iota
	HintCSV
	HintXLSX
	HintXLS
)

// ParseHint maps a MIME type or short name onto a Hint.
func ParseHint(s string) Hint {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch s {
	case "csv", "text/csv", "application/csv", "text/comma-separated-values":
		return HintCSV
	case "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return HintXLSX
	case "xls", "application/vnd.ms-excel":
		return HintXLS
	}
	return HintUnknown
}

// Kind is the structural family of an attachment.
type Kind int

const (
	KindUnsupported Kind = iota
	DelimitedText
	SpreadsheetGrid
)

func (k Kind) String() string {
	switch k {
	case DelimitedText:
		return "delimited_text"
	case SpreadsheetGrid:
		return "spreadsheet_grid"
	}
	return "unsupported"
}

// Container names the on-disk format of a spreadsheet grid.
type Container string

const (
	ContainerNone Container = ""
	ContainerXLSX Container = "xlsx"
	ContainerXLS  Container = "xls"
)

// Source is the resolved variant of an attachment.
type Source struct {
	Kind      Kind
	Container Container
}

// Attachment is one file taken from an inbound message.
type Attachment struct {
	Filename string
	Hint     Hint
	Data     []byte
}

// ErrUnsupported is returned by Resolve for files that are neither
// delimited text nor a spreadsheet.
var ErrUnsupported = errors.New("unsupported attachment type")

// Reader yields the header and then each data row of an attachment. Next
// returns io.EOF after the last row.
type Reader interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// Resolve decides once how an attachment is read: by declared hint, then by
// filename extension, then by sniffing the content.
func Resolve(a Attachment) (Source, error) {
	switch a.Hint {
	case HintCSV:
		return Source{Kind: DelimitedText}, nil
	case HintXLSX:
		return Source{Kind: SpreadsheetGrid, Container: ContainerXLSX}, nil
	case HintXLS:
		return Source{Kind: SpreadsheetGrid, Container: ContainerXLS}, nil
	}

	switch strings.ToLower(filepath.Ext(a.Filename)) {
	case ".csv", ".txt":
		return Source{Kind: DelimitedText}, nil
	case ".xlsx", ".xlsm":
		return Source{Kind: SpreadsheetGrid, Container: ContainerXLSX}, nil
	case ".xls":
		return Source{Kind: SpreadsheetGrid, Container: ContainerXLS}, nil
	}

	if t, err := filetype.Match(a.Data); err == nil && t != filetype.Unknown {
		switch t.Extension {
		case "xlsx":
			return Source{Kind: SpreadsheetGrid, Container: ContainerXLSX}, nil
		case "xls":
			return Source{Kind: SpreadsheetGrid, Container: ContainerXLS}, nil
		}
		return Source{}, fmt.Errorf("%w: %s (%s)", ErrUnsupported, a.Filename, t.MIME.Value)
	}

	if len(a.Data) > 0 && (normalize.HasBOM(a.Data) || utf8.Valid(a.Data)) {
		return Source{Kind: DelimitedText}, nil
	}
	return Source{}, fmt.Errorf("%w: %s", ErrUnsupported, a.Filename)
}

// Open resolves the attachment and returns the matching backend, positioned
// after the header row.
func Open(a Attachment) (Reader, Source, error) {
	src, err := Resolve(a)
	if err != nil {
		return nil, src, err
	}

	var r Reader
	switch {
	case src.Kind == DelimitedText:
		r, err = newDelimitedReader(a.Data)
	case src.Container == ContainerXLSX:
		r, err = newXLSXReader(a.Data)
	case src.Container == ContainerXLS:
		r, err = newXLSReader(a.Data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, a.Filename)
	}
	if err != nil {
		return nil, src, err
	}
	return r, src, nil
}

// trimCells trims every cell in place.
func trimCells(cells []string) []string {
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}

// IsBlank reports whether every cell of a row is empty.
func IsBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
