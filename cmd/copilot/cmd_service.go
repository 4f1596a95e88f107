// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Saadajee/neurostack-copilot/pkg/ragclient"
	"github.com/Saadajee/neurostack-copilot/pkg/ux"
)

func runAnalyticsCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, appOptions{verbose: verbose})
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.client.Analytics(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetch analytics: %w", err)
	}

	out := cmd.OutOrStdout()
	ux.Title("Usage")
	ux.KeyValue(out, "queries_today", stats.QueriesToday)
	ux.KeyValue(out, "total_queries", stats.TotalQueries)
	ux.KeyValue(out, "percent_with_sources", fmt.Sprintf("%.1f%%", stats.PercentWithSources))
	ux.KeyValue(out, "avg_relevance", fmt.Sprintf("%.2f", stats.AvgRelevance))
	ux.Title("Feedback")
	ux.KeyValue(out, "good_feedback", stats.GoodFeedback)
	ux.KeyValue(out, "bad_feedback", stats.BadFeedback)
	ux.KeyValue(out, "total_feedback", stats.TotalFeedback)
	if stats.TotalFeedback > 0 {
		fmt.Fprintln(out, "  "+ux.ProgressBar(stats.GoodFeedback, stats.TotalFeedback, 30))
	}
	return nil
}

func runHealthCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, appOptions{verbose: verbose})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.Health(cmd.Context()); err != nil {
		ux.Error(fmt.Sprintf("%s is unreachable: %v", cfg.BaseURL, err))
		return err
	}

	ready, err := a.client.Ready(cmd.Context())
	ux.Box(cmd.OutOrStdout(), "Service", healthSummary(cfg.BaseURL, ready, err))
	switch {
	case err != nil:
		ux.Warning(fmt.Sprintf("readiness unknown: %v", err))
	case !ready.Ready && ready.Error != "":
		ux.Warning(ready.Error)
	case !ready.Ready:
		ux.Warning(ready.Message)
	}
	return nil
}

// healthSummary is the body of the health box for a reachable service.
func healthSummary(baseURL string, ready *ragclient.Readiness, readyErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "url:    %s\n", baseURL)
	b.WriteString("status: healthy\n")
	switch {
	case readyErr != nil || ready == nil:
		b.WriteString("ready:  unknown")
	case ready.Ready:
		b.WriteString("ready:  yes")
	default:
		b.WriteString("ready:  no")
	}
	if readyErr == nil && ready != nil && ready.Message != "" {
		fmt.Fprintf(&b, "\n%s", ready.Message)
	}
	return b.String()
}
