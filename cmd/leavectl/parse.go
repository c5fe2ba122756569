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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcem/leaveintake/internal/failure"
	"github.com/bcem/leaveintake/internal/pipeline"
	"github.com/bcem/leaveintake/internal/tabular"
)

var (
	parseSender  string
	parseSubject string
	parseDate    string
)

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringVar(&parseSender, "sender", "dry-run@localhost.localdomain", "Sender address to attribute the request to")
	parseCmd.Flags().StringVar(&parseSubject, "subject", "", "Subject line (requester company)")
	parseCmd.Flags().StringVar(&parseDate, "date", "", "Processing date as YYYY-MM-DD (default today)")
}

var parseCmd = &cobra.Command{
	Use:   "parse <file>...",
	Short: "Dry-run attachments through the intake pipeline",
	Long:  "Reads CSV/XLSX/XLS files with the configured pipeline settings and prints the envelopes that would be submitted.\nQuota is neither checked nor charged.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := cfg.Pipeline
	now := time.Now()
	if parseDate != "" {
		day, err := time.ParseInLocation("2006-01-02", parseDate, opts.Location)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		now = day.Add(12 * time.Hour)
	}
	opts.Now = func() time.Time { return now }

	p, err := pipeline.New(opts, nil)
	if err != nil {
		return err
	}

	msg := pipeline.Message{
		ID:         "dry-run",
		Sender:     parseSender,
		Subject:    parseSubject,
		ReceivedAt: now,
	}
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		msg.Attachments = append(msg.Attachments, tabular.Attachment{
			Filename: filepath.Base(path),
			Data:     data,
		})
	}

	res, err := p.Process(cmd.Context(), msg)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "rejected (%s): %s\n", failure.KindOf(err), failure.Reason(err))
		return err
	}
	for _, skipped := range res.Skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", skipped)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res.Envelopes)
}
