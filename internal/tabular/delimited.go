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

package tabular

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/bcem/leaveintake/internal/failure"
	"github.com/bcem/leaveintake/internal/normalize"
)

type delimitedReader struct {
	r      *csv.Reader
	header []string
}

func newDelimitedReader(data []byte) (*delimitedReader, error) {
	text, err := normalize.Text(data)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, failure.New(failure.KindEmptySource, "attachment has no header row")
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.FieldsPerRecord = -1 // short rows are surfaced, the mapper decides
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, failure.New(failure.KindEmptySource, "attachment has no header row")
	}
	if err != nil {
		return nil, failure.Wrap(failure.KindAttachmentRead, err, "read header")
	}
	header = trimCells(header)
	if IsBlank(header) {
		return nil, failure.New(failure.KindEmptySource, "attachment has no header row")
	}

	return &delimitedReader{r: r, header: header}, nil
}

func (d *delimitedReader) Header() []string { return d.header }

func (d *delimitedReader) Next() ([]string, error) {
	rec, err := d.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		// Unbalanced quoting and similar corruption stop the read.
		return nil, failure.Wrap(failure.KindAttachmentRead, err, "read row")
	}
	return trimCells(rec), nil
}

func (d *delimitedReader) Close() error { return nil }

// detectDelimiter picks the separator used by the header line. Comma wins
// unless the header contains none and another common separator is present.
func detectDelimiter(text string) rune {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	if strings.ContainsRune(first, ',') {
		return ','
	}
	for _, sep := range []rune{';', '\t', '|'} {
		if strings.ContainsRune(first, sep) {
			return sep
		}
	}
	return ','
}
