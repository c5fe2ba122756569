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

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/bcem/leaveintake/internal/reply"
)

var (
	replySubject string
	replyBody    string
)

func init() {
	rootCmd.AddCommand(replyCmd)
	replyCmd.Flags().StringVar(&replySubject, "subject", "", "Reply subject, e.g. \"Re: APPROVE-abc123\"")
	replyCmd.Flags().StringVar(&replyBody, "body", "", "Reply body")
	replyCmd.MarkFlagRequired("subject")
}

var replyCmd = &cobra.Command{
	Use:   "reply",
	Short: "Parse a manager's approval reply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := reply.Parse(replySubject, replyBody)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}
