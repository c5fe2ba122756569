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

// Package sender extracts the requester identity from a raw From header.
package sender

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/bcem/leaveintake/internal/failure"
)

var addressPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+$`)

// Identity is the requester named on the envelope.
type Identity struct {
	Name  string
	Email string
}

// Parse accepts either a bare address or the "Display Name <addr>" form.
// The name is the display name when present, otherwise the local part.
func Parse(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, failure.New(failure.KindInvalidSender, "sender address is missing")
	}

	email := raw
	name := ""
	if i := strings.Index(raw, "<"); i >= 0 {
		if addr, err := mail.ParseAddress(raw); err == nil {
			email = addr.Address
			name = addr.Name
		} else {
			email = strings.TrimSuffix(strings.TrimSpace(raw[i+1:]), ">")
		}
		if name == "" {
			name = strings.Trim(strings.TrimSpace(raw[:i]), `"'`)
		}
	}

	email = strings.TrimSpace(email)
	if !addressPattern.MatchString(email) {
		return Identity{}, failure.New(failure.KindInvalidSender, "invalid sender address %q", raw)
	}
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	return Identity{Name: name, Email: email}, nil
}
