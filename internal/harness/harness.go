package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/limn/internal/hydrate"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/render"
	"github.com/roach88/limn/internal/wire"
)

// Render modes a scenario can request.
const (
	ModeSync   = "sync"
	ModeStream = "stream"
)

// settleTimeout bounds the waits on stream settlement and hydration
// completion. A scenario that has not settled by then is wedged, not slow.
const settleTimeout = 10 * time.Second

// Scenario describes one end-to-end run: which page, which rendering
// mode, and what the client does after hydration.
type Scenario struct {
	// Name labels the run; it also seeds the default render token, so two
	// scenarios with the same name replay under the same token.
	Name string

	// Page is the registered page to drive.
	Page string

	// Mode is ModeSync or ModeStream. Empty means ModeSync.
	Mode string

	// Token pins the render token. Empty derives "render-<name>".
	Token string

	// Loader, when set, serves module preloads during hydration.
	Loader hydrate.ModuleLoader

	// Writes runs after hydration has fully completed, holding the
	// runtime slot, with root bound to the page's hydrated value. Writes
	// exercise the live (post-snapshot) client graph.
	Writes func(rt *reactive.Runtime, root any) error
}

// Outcome carries both sides of a scenario run: the server's output as
// it crossed the wire, and the hydrated client session.
type Outcome struct {
	Token string

	// Mode is the effective render mode (defaults applied).
	Mode string

	// HTML is the server shell exactly as the sink received it. In stream
	// mode it still contains placeholders; FinalHTML has them spliced.
	HTML      string
	FinalHTML string

	// Records is the side-channel record stream after a canonical-JSON
	// round trip, in transport order. This is what the client ingested,
	// so values carry wire types (numbers as float64), not server types.
	Records []wire.Record

	// Fragments lists settled boundary fragments in arrival order.
	Fragments []render.Fragment

	// Value is what the page's Hydrate returned.
	Value any

	Session  *hydrate.Session
	Doc      *hydrate.Document
	ServerRT *reactive.Runtime
	ClientRT *reactive.Runtime
}

// Eval reads the hydrated root value under the client runtime slot:
// accessors are invoked, anything else returns as-is. The error is the
// accessor's own (a rejected boundary, a live compute failure).
func (o *Outcome) Eval() (any, error) {
	var v any
	var rerr error
	_ = o.ClientRT.Run(func() error {
		switch t := o.Value.(type) {
		case reactive.Accessor:
			v, rerr = t()
		case func() (any, error):
			v, rerr = t()
		default:
			v = o.Value
		}
		return nil
	})
	return v, rerr
}

// RecordsFor filters the round-tripped records for one id, preserving
// transport order.
func (o *Outcome) RecordsFor(id string) []wire.Record {
	var out []wire.Record
	for _, r := range o.Records {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

// Run executes a scenario end to end.
//
// Server side: the page renders under a pinned token, sync or stream.
// The side-channel records are then marshalled to canonical JSON and
// decoded back, so the client sees exactly what a network transport
// would deliver. Client side: a fresh runtime ingests the records,
// parses the shell, hydrates, receives the settled fragments in arrival
// order, waits for completion, and finally applies the scenario's
// writes.
func Run(s *Scenario) (*Outcome, error) {
	def, err := LookupPage(s.Page)
	if err != nil {
		return nil, err
	}
	mode := s.Mode
	if mode == "" {
		mode = ModeSync
	}
	token := s.Token
	if token == "" {
		token = "render-" + s.Name
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	out := &Outcome{Token: token, Mode: mode}

	// Server pass.
	serverRT := reactive.New(reactive.WithLogger(quiet))
	out.ServerRT = serverRT

	var serverRecords []wire.Record
	switch mode {
	case ModeSync:
		res, rerr := render.RenderToString(serverRT, def.Render,
			render.WithToken(token), render.WithLogger(quiet))
		if rerr != nil {
			return nil, fmt.Errorf("harness: render %s: %w", s.Page, rerr)
		}
		out.HTML = res.HTML
		serverRecords = res.Records

	case ModeStream:
		rec := &render.Recorder{}
		h, rerr := render.RenderToStream(serverRT, def.Render, rec,
			render.WithToken(token), render.WithLogger(quiet))
		if rerr != nil {
			return nil, fmt.Errorf("harness: render %s: %w", s.Page, rerr)
		}
		wctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if werr := h.Wait(wctx); werr != nil {
			h.Cancel()
			return nil, fmt.Errorf("harness: stream %s: %w", s.Page, werr)
		}
		out.HTML = rec.HTML()
		serverRecords = rec.Records()
		out.Fragments = rec.Fragments()

	default:
		return nil, fmt.Errorf("harness: unknown mode %q", mode)
	}

	// Wire round trip: hydration must see what canonical JSON carries,
	// not the server's in-memory values.
	out.Records = make([]wire.Record, 0, len(serverRecords))
	for _, r := range serverRecords {
		data, merr := wire.MarshalRecord(r)
		if merr != nil {
			return nil, fmt.Errorf("harness: encode record %s: %w", r.ID, merr)
		}
		dr, derr := wire.DecodeRecord(data)
		if derr != nil {
			return nil, fmt.Errorf("harness: decode record %s: %w", r.ID, derr)
		}
		out.Records = append(out.Records, dr)
	}

	// Client pass.
	store := hydrate.NewRecordStore()
	if ierr := store.IngestAll(out.Records); ierr != nil {
		return nil, fmt.Errorf("harness: ingest: %w", ierr)
	}
	doc, perr := hydrate.ParseDocument(out.HTML)
	if perr != nil {
		return nil, fmt.Errorf("harness: parse shell: %w", perr)
	}
	out.Doc = doc

	clientRT := reactive.New(reactive.WithLogger(quiet))
	out.ClientRT = clientRT
	opts := []hydrate.SessionOption{
		hydrate.WithDocument(doc),
		hydrate.WithLogger(quiet),
	}
	if s.Loader != nil {
		opts = append(opts, hydrate.WithModuleLoader(s.Loader))
	}
	sess := hydrate.NewSession(clientRT, store, opts...)
	out.Session = sess

	v, herr := sess.Hydrate(func() (any, error) { return def.Hydrate(sess) })
	if herr != nil {
		return nil, fmt.Errorf("harness: hydrate %s: %w", s.Page, herr)
	}
	out.Value = v

	// Fragments land after the walk, the order the server settled them.
	for _, f := range out.Fragments {
		sess.ApplyFragment(f.ID, f.HTML, f.Err)
	}

	wctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if werr := sess.Wait(wctx); werr != nil {
		return nil, fmt.Errorf("harness: hydration did not settle: %w", werr)
	}

	if s.Writes != nil {
		if werr := clientRT.Run(func() error {
			if err := s.Writes(clientRT, v); err != nil {
				return err
			}
			clientRT.Flush()
			return nil
		}); werr != nil {
			return nil, fmt.Errorf("harness: writes: %w", werr)
		}
	}

	final, ferr := doc.BodyHTML()
	if ferr != nil {
		return nil, fmt.Errorf("harness: final markup: %w", ferr)
	}
	out.FinalHTML = final
	return out, nil
}
