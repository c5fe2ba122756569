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

// Package reply reads a manager's emailed approval decision. The subject
// carries the action and the reply ID (APPROVE-abc123); the body may carry
// free-text comments between Comments:[[ and ]].
package reply

import (
	"errors"
	"regexp"
	"strings"
)

// Action is the manager's decision.
type Action string

const (
	Approve Action = "APPROVE"
	Reject  Action = "REJECT"
)

var (
	subjectPattern  = regexp.MustCompile(`^(APPROVE|REJECT)-([a-zA-Z0-9]+)$`)
	commentsPattern = regexp.MustCompile(`(?s)Comments:\[\[(.*?)]]`)
	replyPrefixes   = []string{"re:", "aw:", "sv:", "fw:", "fwd:"}
)

// ErrNotDecision is returned when the subject is not an approval reply.
var ErrNotDecision = errors.New("subject is not an approval decision")

// Decision is a parsed approval reply.
type Decision struct {
	ReplyID  string `json:"replyId"`
	Action   Action `json:"actionType"`
	Comments string `json:"comments,omitempty"`
}

// Parse extracts the decision from a reply's subject and body. Mail client
// prefixes such as "Re:" are ignored.
func Parse(subject, body string) (Decision, error) {
	m := subjectPattern.FindStringSubmatch(stripPrefixes(subject))
	if m == nil {
		return Decision{}, ErrNotDecision
	}

	d := Decision{Action: Action(m[1]), ReplyID: m[2]}
	if c := commentsPattern.FindStringSubmatch(body); c != nil {
		d.Comments = strings.TrimSpace(c[1])
	}
	return d, nil
}

func stripPrefixes(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		trimmed := false
		for _, p := range replyPrefixes {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			return s
		}
	}
}
