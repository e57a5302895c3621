package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/limn/internal/harness"
	"github.com/roach88/limn/internal/journal"
	"github.com/roach88/limn/internal/manifest"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/render"
	"github.com/roach88/limn/internal/wire"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Stream   bool
	Token    string
	Journal  string
	Manifest string
	Timeout  time.Duration
}

// FragmentOutput is one settled boundary fragment in command output.
type FragmentOutput struct {
	ID    string `json:"id"`
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

// RenderOutput holds the render command's result.
type RenderOutput struct {
	Token     string            `json:"token"`
	Page      string            `json:"page"`
	Mode      string            `json:"mode"`
	HTML      string            `json:"html"`
	Records   []json.RawMessage `json:"records"`
	Fragments []FragmentOutput  `json:"fragments,omitempty"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <page>",
		Short: "Render a registered page",
		Long: `Render a registered page server-side and print the document,
side-channel records, and streamed fragments.

In sync mode every boundary settles inline; boundaries that suspend
render their fallback and defer to the client. In stream mode the
shell carries placeholders and fragments arrive as they settle.

With --journal, every chunk is journaled under the render token so the
pass can be traced and replayed later.

Exit codes:
  0 - Render succeeded
  1 - Render failed
  2 - Command error (unknown page, journal not writable, etc.)

Examples:
  limn render hello
  limn render hello_async --stream
  limn render projection_feed --stream --journal ./limn.db
  limn render hello --manifest ./assets --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream fragments out of order instead of settling inline")
	cmd.Flags().StringVar(&opts.Token, "token", "", "pin the render token (default: generated UUIDv7)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal the chunk stream to this SQLite database")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "CUE asset manifest directory for lazy module resolution")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for streamed boundaries to settle")

	return cmd
}

func runRender(opts *RenderOptions, page string, cmd *cobra.Command) error {
	ctx := context.Background()

	def, err := harness.LookupPage(page)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown page", err)
	}

	mode := harness.ModeSync
	if opts.Stream {
		mode = harness.ModeStream
	}
	token := opts.Token
	if token == "" {
		token = render.UUIDv7Generator{}.Generate()
	}

	var resolver render.ModuleResolver
	if opts.Manifest != "" {
		m, merr := manifest.Load(opts.Manifest)
		if merr != nil {
			return WrapExitError(ExitCommandError, "failed to load manifest", merr)
		}
		resolver = m
	}

	var j *journal.Journal
	if opts.Journal != "" {
		j, err = journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()
	}

	log := commandLogger(cmd, opts.Verbose)
	rec, rerr := renderPass(ctx, renderPassOpts{
		j:        j,
		def:      def,
		token:    token,
		mode:     mode,
		timeout:  opts.Timeout,
		resolver: resolver,
		log:      log,
	})
	if rerr != nil {
		var exitErr *ExitError
		if errors.As(rerr, &exitErr) {
			return rerr
		}
		return WrapExitError(ExitFailure, fmt.Sprintf("render %s failed", page), rerr)
	}

	out := RenderOutput{Token: token, Page: page, Mode: mode, HTML: rec.HTML()}
	for _, r := range rec.Records() {
		data, merr := wire.MarshalRecord(r)
		if merr != nil {
			return WrapExitError(ExitFailure, "failed to encode record", merr)
		}
		out.Records = append(out.Records, json.RawMessage(data))
	}
	for _, f := range rec.Fragments() {
		fo := FragmentOutput{ID: f.ID, HTML: f.HTML}
		if f.Err != nil {
			fo.Error = f.Err.Error()
		}
		out.Fragments = append(out.Fragments, fo)
	}

	if opts.Format == "json" {
		return outputRenderJSON(cmd, out)
	}
	return outputRenderText(cmd, out)
}

// renderPassOpts configures one server render pass.
type renderPassOpts struct {
	j   *journal.Journal // nil disables journaling
	def *harness.PageDef

	// token is the render token the pass runs under; journalToken, when
	// set, names the journal row instead (replays journal under a fresh
	// token while rendering under the original).
	token        string
	journalToken string

	mode     string
	timeout  time.Duration
	resolver render.ModuleResolver
	log      *slog.Logger
}

// renderPass runs one server render, capturing every chunk in a
// Recorder and journaling them when a journal is given. The returned
// error is the render's own failure; journal setup failures come back
// as ExitErrors with ExitCommandError.
func renderPass(ctx context.Context, o renderPassOpts) (*render.Recorder, error) {
	jt := o.journalToken
	if jt == "" {
		jt = o.token
	}

	rec := &render.Recorder{}
	var sink render.ChunkSink = rec
	if o.j != nil {
		if err := o.j.Begin(ctx, jt, o.def.Name, o.mode); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to journal render", err)
		}
		s, err := o.j.Sink(ctx, jt, rec)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal sink", err)
		}
		sink = s
	}

	rt := reactive.New(reactive.WithLogger(o.log))
	ropts := []render.Option{render.WithToken(o.token), render.WithLogger(o.log)}
	if o.resolver != nil {
		ropts = append(ropts, render.WithModuleResolver(o.resolver))
	}

	var renderErr error
	switch o.mode {
	case harness.ModeSync:
		res, err := render.RenderToString(rt, o.def.Render, ropts...)
		renderErr = err
		if renderErr == nil {
			renderErr = sink.WriteHTML(res.HTML)
		}
		if renderErr == nil {
			for _, r := range res.Records {
				if werr := sink.WriteRecord(r); werr != nil {
					renderErr = werr
					break
				}
			}
		}

	case harness.ModeStream:
		h, err := render.RenderToStream(rt, o.def.Render, sink, ropts...)
		if err != nil {
			renderErr = err
		} else {
			wctx, cancel := context.WithTimeout(ctx, o.timeout)
			renderErr = h.Wait(wctx)
			cancel()
			if renderErr != nil {
				h.Cancel()
			}
		}

	default:
		renderErr = fmt.Errorf("unknown mode %q", o.mode)
	}

	// The render row records the failure too; a deterministic failure
	// replays as the same failure.
	if o.j != nil {
		if cerr := o.j.Complete(ctx, jt, renderErr); cerr != nil && renderErr == nil {
			renderErr = cerr
		}
	}
	return rec, renderErr
}

// outputRenderJSON outputs the render result as JSON.
func outputRenderJSON(cmd *cobra.Command, out RenderOutput) error {
	response := CLIResponse{
		Status: "ok",
		Data:   out,
		Token:  out.Token,
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputRenderText outputs the render result as text.
func outputRenderText(cmd *cobra.Command, out RenderOutput) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Token: %s\n", out.Token)
	fmt.Fprintf(w, "Page:  %s (%s)\n", out.Page, out.Mode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Document ===")
	fmt.Fprintln(w, out.HTML)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Records ===")
	if len(out.Records) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		for _, r := range out.Records {
			fmt.Fprintf(w, "  %s\n", string(r))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Fragments ===")
	if len(out.Fragments) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		for _, f := range out.Fragments {
			if f.Error != "" {
				fmt.Fprintf(w, "  %s error: %s\n", f.ID, f.Error)
				continue
			}
			fmt.Fprintf(w, "  %s ok: %s\n", f.ID, f.HTML)
		}
	}

	return nil
}
