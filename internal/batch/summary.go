// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package batch

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/autobrr/upbrr/internal/models"
)

type Result string

const (
	ResultUploaded       Result = "uploaded"
	ResultBelowThreshold Result = "below-threshold"
	ResultDebug          Result = "debug"
	ResultSkipped        Result = "skipped"
	ResultFailed         Result = "failed"
)

type ItemReport struct {
	Path      string
	UUID      string
	Name      string
	Result    Result
	Passed    int
	Succeeded int
	Outcomes  []models.SubmissionOutcome
	Err       error

	// trackers whose success was recorded by an earlier run
	reused []string
}

type Summary struct {
	Items []*ItemReport
}

func (s *Summary) Count(r Result) int {
	n := 0
	for _, it := range s.Items {
		if it.Result == r {
			n++
		}
	}
	return n
}

// Render returns the per-tracker outcome table.
func (s *Summary) Render() string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Item", "Tracker", "Outcome", "Status", "Detail"})

	for _, it := range s.Items {
		name := it.Name
		if name == "" {
			name = it.Path
		}
		if len(it.Outcomes) == 0 {
			detail := ""
			if it.Err != nil {
				detail = it.Err.Error()
			}
			tw.AppendRow(table.Row{name, "-", string(it.Result), "", detail})
			continue
		}
		for _, o := range it.Outcomes {
			status := ""
			if o.StatusCode != 0 {
				status = fmt.Sprintf("%d", o.StatusCode)
			}
			tw.AppendRow(table.Row{name, o.Tracker, outcomeLabel(o), status, outcomeDetail(o)})
		}
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, WidthMax: 80},
	})
	tw.AppendFooter(table.Row{
		fmt.Sprintf("%d items", len(s.Items)),
		"",
		fmt.Sprintf("%d uploaded", s.Count(ResultUploaded)),
		"",
		fmt.Sprintf("%d below threshold, %d failed", s.Count(ResultBelowThreshold), s.Count(ResultFailed)),
	})
	return tw.Render()
}

func outcomeLabel(o models.SubmissionOutcome) string {
	label := string(o.Kind)
	var flags []string
	if o.Debug {
		flags = append(flags, "debug")
	}
	if o.Reconciled {
		flags = append(flags, "reconciled")
	}
	if o.Ambiguous {
		flags = append(flags, "ambiguous")
	}
	if len(flags) > 0 {
		label += " (" + strings.Join(flags, ", ") + ")"
	}
	return label
}

func outcomeDetail(o models.SubmissionOutcome) string {
	switch {
	case o.URL != "":
		return o.URL
	case len(o.Matches) > 0:
		return strings.Join(o.Matches, ", ")
	default:
		return o.Reason
	}
}
