package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/limn/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal  string
	Token    string
	Boundary string // optional - filter to one boundary id
}

// TraceEvent represents a single chunk in the trace timeline.
type TraceEvent struct {
	Seq        int64  `json:"seq"`
	Kind       string `json:"kind"` // "html", "record" or "fragment"
	BoundaryID string `json:"boundary_id,omitempty"`
	Payload    string `json:"payload,omitempty"`
	Error      string `json:"error,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalChunks int `json:"total_chunks"`
	HTMLChunks  int `json:"html_chunks"`
	HTMLBytes   int `json:"html_bytes"`
	Records     int `json:"records"`
	Fragments   int `json:"fragments"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Token     string           `json:"token"`
	Page      string           `json:"page"`
	Mode      string           `json:"mode"`
	Completed bool             `json:"completed"`
	Error     string           `json:"error,omitempty"`
	Timeline  []TraceEvent     `json:"timeline"`
	Fragments []FragmentOutput `json:"fragments"`
	Stats     TraceStats       `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Dump a journaled render's chunk stream",
		Long: `Dump one journaled render pass: the chunks exactly as the transport
delivered them, the settled fragment outcomes, and summary statistics.

The timeline shows document chunks, side-channel records, and fragment
arrivals in transport order. Use --boundary to narrow the timeline to
one boundary id. Without a token, lists every journaled render instead.

Examples:
  limn trace --journal ./limn.db
  limn trace --journal ./limn.db --token render-hello
  limn trace --journal ./limn.db --token render-hello --boundary t0
  limn trace --journal ./limn.db --token render-hello --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Token, "token", "", "render token to trace (omit to list renders)")
	cmd.Flags().StringVar(&opts.Boundary, "boundary", "", "filter timeline to one boundary id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	if opts.Token == "" {
		return listRenders(ctx, j, opts, cmd)
	}

	r, err := j.Lookup(ctx, opts.Token)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to look up render", err)
	}
	events, err := j.Events(ctx, opts.Token)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read chunks", err)
	}
	frags, err := j.Fragments(ctx, opts.Token)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read fragments", err)
	}

	result := TraceResult{
		Token:     r.Token,
		Page:      r.Page,
		Mode:      r.Mode,
		Completed: r.Completed(),
		Error:     r.Error,
		Timeline:  buildTimeline(events, opts.Boundary),
		Fragments: make([]FragmentOutput, 0, len(frags)),
		Stats:     buildStats(events),
	}
	for _, f := range frags {
		fo := FragmentOutput{ID: f.BoundaryID, HTML: f.HTML, Error: f.Error}
		result.Fragments = append(result.Fragments, fo)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// buildTimeline converts journal events to trace timeline events. When
// boundary is set, only chunks tagged with that boundary id survive;
// document chunks carry no boundary and are dropped by the filter.
func buildTimeline(events []journal.Event, boundary string) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(events))
	for _, e := range events {
		if boundary != "" && e.BoundaryID != boundary {
			continue
		}
		timeline = append(timeline, TraceEvent{
			Seq:        e.Seq,
			Kind:       e.Kind,
			BoundaryID: e.BoundaryID,
			Payload:    e.Payload,
			Error:      e.Err,
		})
	}
	return timeline
}

// buildStats summarizes a render's chunk stream.
func buildStats(events []journal.Event) TraceStats {
	stats := TraceStats{TotalChunks: len(events)}
	for _, e := range events {
		switch e.Kind {
		case journal.KindHTML:
			stats.HTMLChunks++
			stats.HTMLBytes += len(e.Payload)
		case journal.KindRecord:
			stats.Records++
		case journal.KindFragment:
			stats.Fragments++
		}
	}
	return stats
}

// listRenders prints the journal's render rows, oldest first.
func listRenders(ctx context.Context, j *journal.Journal, opts *TraceOptions, cmd *cobra.Command) error {
	renders, err := j.Renders(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list renders", err)
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: renderRows(renders)}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	w := cmd.OutOrStdout()
	if len(renders) == 0 {
		fmt.Fprintln(w, "No renders found in journal.")
		return nil
	}
	fmt.Fprintf(w, "Journaled renders: %d\n\n", len(renders))
	for _, r := range renders {
		status := "in flight"
		if r.Completed() {
			status = "ok"
			if r.Error != "" {
				status = "error"
			}
		}
		fmt.Fprintf(w, "  %-10s %s (%s, %s)\n", status, r.Token, r.Page, r.Mode)
	}
	return nil
}

// RenderRow is one journal listing entry.
type RenderRow struct {
	Token     string `json:"token"`
	Page      string `json:"page"`
	Mode      string `json:"mode"`
	StartedAt string `json:"started_at"`
	Completed bool   `json:"completed"`
	Error     string `json:"error,omitempty"`
}

func renderRows(renders []journal.Render) []RenderRow {
	rows := make([]RenderRow, 0, len(renders))
	for _, r := range renders {
		rows = append(rows, RenderRow{
			Token:     r.Token,
			Page:      r.Page,
			Mode:      r.Mode,
			StartedAt: r.StartedAt.Format(time.RFC3339Nano),
			Completed: r.Completed(),
			Error:     r.Error,
		})
	}
	return rows
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
		Token:  result.Token,
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for render: %s\n", result.Token)
	fmt.Fprintf(w, "Page: %s (%s)\n", result.Page, result.Mode)
	fmt.Fprintf(w, "Status: %s\n", traceStatus(result))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no chunks)")
	} else {
		for _, e := range result.Timeline {
			formatTimelineEvent(w, e, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Fragments ===")
	if len(result.Fragments) == 0 {
		fmt.Fprintln(w, "  (none settled)")
	} else {
		for _, f := range result.Fragments {
			if f.Error != "" {
				fmt.Fprintf(w, "  %s error: %s\n", f.ID, f.Error)
				continue
			}
			fmt.Fprintf(w, "  %s ok: %s\n", f.ID, clip(f.HTML, verbose))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Chunks: %d\n", result.Stats.TotalChunks)
	fmt.Fprintf(w, "  Document:     %d chunk(s), %d bytes\n", result.Stats.HTMLChunks, result.Stats.HTMLBytes)
	fmt.Fprintf(w, "  Records:      %d\n", result.Stats.Records)
	fmt.Fprintf(w, "  Fragments:    %d\n", result.Stats.Fragments)

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w io.Writer, e TraceEvent, verbose bool) {
	switch e.Kind {
	case journal.KindHTML:
		fmt.Fprintf(w, "  [%d] HTML %s\n", e.Seq, clip(e.Payload, verbose))
	case journal.KindRecord:
		fmt.Fprintf(w, "  [%d] REC  %s %s\n", e.Seq, e.BoundaryID, clip(e.Payload, verbose))
	case journal.KindFragment:
		if e.Error != "" {
			fmt.Fprintf(w, "  [%d] FRAG %s error: %s\n", e.Seq, e.BoundaryID, e.Error)
			return
		}
		fmt.Fprintf(w, "  [%d] FRAG %s %s\n", e.Seq, e.BoundaryID, clip(e.Payload, verbose))
	}
}

// clip shortens long payloads for the non-verbose listing.
func clip(s string, verbose bool) string {
	const max = 96
	if verbose || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func traceStatus(result TraceResult) string {
	if !result.Completed {
		return "in flight"
	}
	if result.Error != "" {
		return "failed: " + result.Error
	}
	return "completed"
}
