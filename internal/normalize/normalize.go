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

// Package normalize canonicalises delimited-text attachments before they are
// parsed: byte-order marks are honoured and removed, the content is decoded
// to UTF-8, line endings become LF and fully-empty lines outside quoted cells
// are dropped.
//
// Spreadsheet containers carry their own encoding and never pass through here.
package normalize

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/bcem/leaveintake/internal/failure"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
)

// Text returns the canonical form of a delimited-text attachment.
// Applying Text to its own output returns the same string.
func Text(b []byte) (string, error) {
	decoded, err := decode(b)
	if err != nil {
		return "", failure.Wrap(failure.KindAttachmentRead, err, "decode attachment")
	}

	s := strings.ReplaceAll(decoded, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimLeft(s, "\uFEFF")

	lines := strings.Split(s, "\n")
	kept := lines[:0]
	inQuote := false
	for _, line := range lines {
		if !inQuote && strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
		// An odd number of quotes leaves a quoted cell open across the
		// line break; doubled quotes inside a cell cancel out.
		if strings.Count(line, `"`)%2 == 1 {
			inQuote = !inQuote
		}
	}
	return strings.Join(kept, "\n"), nil
}

// HasBOM reports whether b starts with a UTF-8 or UTF-16 byte-order mark.
func HasBOM(b []byte) bool {
	return bytes.HasPrefix(b, bomUTF8) ||
		bytes.HasPrefix(b, bomUTF16BE) ||
		bytes.HasPrefix(b, bomUTF16LE)
}

// decode picks the source encoding. A BOM wins; otherwise valid UTF-8 is
// taken as-is and anything else is read as Windows-1252, which is what
// spreadsheet tools emit for "CSV (Comma delimited)" on Windows.
func decode(b []byte) (string, error) {
	if HasBOM(b) || utf8.Valid(b) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
