package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/limn/internal/harness"
	"github.com/roach88/limn/internal/journal"
)

// replayTokenSep joins an original render token with its replay's
// suffix. Tokens containing it are replays and are skipped when
// replaying the whole journal.
const replayTokenSep = "~replay-"

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string
	Token   string // optional - specific render only
	Timeout time.Duration
}

// ReplayRenderResult holds the replay result for a single render.
type ReplayRenderResult struct {
	Token         string   `json:"token"`
	ReplayToken   string   `json:"replay_token"`
	Page          string   `json:"page"`
	Mode          string   `json:"mode"`
	Deterministic bool     `json:"deterministic"`
	Differences   []string `json:"differences,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Renders          []ReplayRenderResult `json:"renders"`
	TotalRenders     int                  `json:"total_renders"`
	Skipped          int                  `json:"skipped"`
	AllDeterministic bool                 `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-render journaled passes and verify determinism",
		Long: `Re-render every journaled pass under its original token and diff the
two chunk streams.

The document must match byte for byte and in order. Wire records must
match per boundary: boundaries settle in the background, so arrival
order may interleave across ids between runs, but each id's own records
arrive in order. Fragments must match as settled outcomes per boundary.

Replays are journaled under "<token>~replay-<uuid>" and skipped on
later whole-journal replays. Renders still in flight are skipped.

Exit codes:
  0 - All renders replayed deterministically
  1 - Replay drift detected (differences reported)
  2 - Command error (journal not found, page no longer registered, etc.)

Examples:
  limn replay --journal ./limn.db
  limn replay --journal ./limn.db --token render-hello
  limn replay --journal ./limn.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Token, "token", "", "replay a specific render only")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for streamed boundaries to settle")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	var targets []journal.Render
	if opts.Token != "" {
		r, err := j.Lookup(ctx, opts.Token)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to look up render", err)
		}
		targets = []journal.Render{r}
	} else {
		all, err := j.Renders(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list renders", err)
		}
		for _, r := range all {
			if strings.Contains(r.Token, replayTokenSep) {
				continue
			}
			targets = append(targets, r)
		}
	}

	if len(targets) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, ReplayResult{
				Renders:          []ReplayRenderResult{},
				AllDeterministic: true,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No renders found in journal.")
		return nil
	}

	log := commandLogger(cmd, opts.Verbose)
	result := ReplayResult{
		Renders:          make([]ReplayRenderResult, 0, len(targets)),
		TotalRenders:     len(targets),
		AllDeterministic: true,
	}

	for _, orig := range targets {
		if !orig.Completed() {
			// A pass still in flight has no settled stream to diff.
			result.Skipped++
			continue
		}
		rr, err := replayRender(ctx, j, orig, opts.Timeout, log)
		if err != nil {
			var exitErr *ExitError
			if errors.As(err, &exitErr) {
				return err
			}
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay %s", orig.Token), err)
		}
		result.Renders = append(result.Renders, rr)
		if !rr.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayRender re-renders one journaled pass and diffs it against the
// original. The replay runs under the original render token, so any
// token-derived output matches; only the journal row gets a fresh name.
func replayRender(ctx context.Context, j *journal.Journal, orig journal.Render, timeout time.Duration, log *slog.Logger) (ReplayRenderResult, error) {
	def, err := harness.LookupPage(orig.Page)
	if err != nil {
		return ReplayRenderResult{}, err
	}

	replayToken := orig.Token + replayTokenSep + uuid.Must(uuid.NewV7()).String()
	_, renderErr := renderPass(ctx, renderPassOpts{
		j:            j,
		def:          def,
		token:        orig.Token,
		journalToken: replayToken,
		mode:         orig.Mode,
		timeout:      timeout,
		log:          log,
	})
	if renderErr != nil {
		// A failing render is journaled behavior: if the original failed
		// the same way, the diff below comes up empty. Only setup
		// failures abort.
		var exitErr *ExitError
		if errors.As(renderErr, &exitErr) {
			return ReplayRenderResult{}, renderErr
		}
	}

	diff, err := j.Verify(ctx, orig.Token, replayToken)
	if err != nil {
		return ReplayRenderResult{}, err
	}

	// The render rows' outcomes must agree too.
	replayRow, err := j.Lookup(ctx, replayToken)
	if err != nil {
		return ReplayRenderResult{}, err
	}
	if replayRow.Error != orig.Error {
		diff.Details = append(diff.Details, fmt.Sprintf("outcome %q vs %q", orig.Error, replayRow.Error))
	}

	return ReplayRenderResult{
		Token:         orig.Token,
		ReplayToken:   replayToken,
		Page:          orig.Page,
		Mode:          orig.Mode,
		Deterministic: diff.Equal() && replayRow.Error == orig.Error,
		Differences:   diff.Details,
	}, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "replay verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d render(s)\n", result.TotalRenders)
	if result.Skipped > 0 {
		fmt.Fprintf(w, "Skipped: %d still in flight\n", result.Skipped)
	}
	fmt.Fprintln(w)

	for _, r := range result.Renders {
		status := "✓"
		if !r.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Render: %s (%s, %s)\n", status, r.Token, r.Page, r.Mode)
		if verbose {
			fmt.Fprintf(w, "  Replayed as: %s\n", r.ReplayToken)
		}
		for _, d := range r.Differences {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
	fmt.Fprintln(w)

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All renders verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}
