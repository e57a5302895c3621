package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/limn/internal/async"
	"github.com/roach88/limn/internal/hydrate"
	"github.com/roach88/limn/internal/patch"
	"github.com/roach88/limn/internal/reactive"
	"github.com/roach88/limn/internal/render"
)

// The built-in conformance pages. Each pins one pipeline behavior:
// boundary deferral and streaming, parallel rejection, hole re-entry,
// stream store serialization, error revival, snapshot writes. The async
// pages settle their own gates inline on the first suspension, so every
// scenario is timer-free and replays identically under a pinned token.
//
// Server Render and client Hydrate must create owners in the same
// order; ids are positional.

func init() {
	RegisterPage(helloPage())
	RegisterPage(helloAsyncPage())
	RegisterPage(parallelRejectPage())
	RegisterPage(gatedDetailPage())
	RegisterPage(projectionFeedPage())
	RegisterPage(boundaryErrorPage())
	RegisterPage(snapshotWritesPage())
	RegisterPage(kitchenSinkPage())
}

func helloPage() *PageDef {
	return &PageDef{
		Name: "hello",
		Doc:  "static markup, no reactive state",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			return ctx.SSR(
				[]string{`<main data-page="`, `"><h1>limn</h1><p>`, `</p></main>`},
				render.Raw(render.Escape(`hello & "world"`, true)),
				"rendered <server> side",
			)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			return "rendered <server> side", nil
		},
	}
}

func helloAsyncPage() *PageDef {
	return &PageDef{
		Name: "hello_async",
		Doc:  "one async memo under a Loading boundary",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			greeting := async.NewFuture[string]()
			armed := false
			body, err := render.Loading(rt, ctx, render.Raw(`<p class="pending">loading</p>`), func() (any, error) {
				msg := reactive.NewFutureMemo(rt, func(string) (*async.Future[string], error) {
					return greeting, nil
				})
				v, err := msg.Get()
				if err != nil {
					// The retry must find the gate settled.
					if !armed && reactive.IsNotReady(err) {
						armed = true
						greeting.Resolve("Hello World")
					}
					return nil, err
				}
				return ctx.SSR([]string{"<div>", "</div>"}, v)
			})
			if err != nil {
				return nil, err
			}
			return ctx.SSR([]string{"<main>", "</main>"}, body)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			return hydrate.Loading(s, "loading", func() (any, error) {
				msg := hydrate.NewFutureMemo(s, func(string) (*async.Future[string], error) {
					return async.Resolved("Hello World"), nil
				})
				return msg.Read()
			}), nil
		},
	}
}

func parallelRejectPage() *PageDef {
	return &PageDef{
		Name: "parallel_reject",
		Doc:  "two async memos under one boundary, the second rejecting",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			alpha := async.NewFuture[string]()
			beta := async.NewFuture[string]()
			armed := false
			arm := func() {
				if armed {
					return
				}
				armed = true
				alpha.Resolve("Alpha")
				beta.Reject(errors.New("B failed"))
			}
			body, err := render.Loading(rt, ctx, render.Raw(`<p class="pending">loading</p>`), func() (any, error) {
				a := reactive.NewFutureMemo(rt, func(string) (*async.Future[string], error) {
					return alpha, nil
				})
				b := reactive.NewFutureMemo(rt, func(string) (*async.Future[string], error) {
					return beta, nil
				})
				av, err := a.Get()
				if err != nil {
					if reactive.IsNotReady(err) {
						arm()
					}
					return nil, err
				}
				bv, err := b.Get()
				if err != nil {
					if reactive.IsNotReady(err) {
						arm()
					}
					return nil, err
				}
				return ctx.SSR([]string{"<div>", " ", "</div>"}, av, bv)
			})
			if err != nil {
				return nil, err
			}
			return ctx.SSR([]string{"<main>", "</main>"}, body)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			return hydrate.Loading(s, "loading", func() (any, error) {
				a := hydrate.NewFutureMemo(s, func(string) (*async.Future[string], error) {
					return async.Resolved("Alpha"), nil
				})
				b := hydrate.NewFutureMemo(s, func(string) (*async.Future[string], error) {
					return async.Rejected[string](errors.New("B failed")), nil
				})
				av, err := a.Get()
				if err != nil {
					return nil, err
				}
				bv, err := b.Get()
				if err != nil {
					return nil, err
				}
				return av + " " + bv, nil
			}), nil
		},
	}
}

func gatedDetailPage() *PageDef {
	return &PageDef{
		Name: "gated_detail",
		Doc:  "a template hole whose second read depends on the first",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			gate := async.NewFuture[string]()
			detail := async.NewFuture[int]()
			gateArmed, detailArmed := false, false
			body, err := render.Loading(rt, ctx, render.Raw(`<p class="pending">loading</p>`), func() (any, error) {
				gm := reactive.NewFutureMemo(rt, func(string) (*async.Future[string], error) {
					return gate, nil
				})
				dm := reactive.NewFutureMemo(rt, func(int) (*async.Future[int], error) {
					return detail, nil
				})
				hole := func() (any, error) {
					gv, err := gm.Get()
					if err != nil {
						if !gateArmed && reactive.IsNotReady(err) {
							gateArmed = true
							gate.Resolve("yes")
						}
						return nil, err
					}
					if gv != "yes" {
						return "gate:closed", nil
					}
					dv, err := dm.Get()
					if err != nil {
						if !detailArmed && reactive.IsNotReady(err) {
							detailArmed = true
							detail.Resolve(42)
						}
						return nil, err
					}
					return fmt.Sprintf("detail:%d", dv), nil
				}
				return ctx.SSR([]string{"<div>", "</div>"}, hole)
			})
			if err != nil {
				return nil, err
			}
			return ctx.SSR([]string{"<main>", "</main>"}, body)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			return hydrate.Loading(s, "loading", func() (any, error) {
				gm := hydrate.NewFutureMemo(s, func(string) (*async.Future[string], error) {
					return async.Resolved("yes"), nil
				})
				dm := hydrate.NewFutureMemo(s, func(int) (*async.Future[int], error) {
					return async.Resolved(42), nil
				})
				gv, err := gm.Get()
				if err != nil {
					return nil, err
				}
				if gv != "yes" {
					return "gate:closed", nil
				}
				dv, err := dm.Get()
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("detail:%d", dv), nil
			}), nil
		},
	}
}

// feedHandle gives scenarios the hydrated stream store plus the
// boundary view over it.
type feedHandle struct {
	store *reactive.StreamStore
	view  reactive.Accessor
}

func projectionFeedPage() *PageDef {
	initial := func() map[string]any {
		return map[string]any{"name": "", "items": []any{}}
	}
	return &PageDef{
		Name: "projection_feed",
		Doc:  "stream store: first revision inline, later ones as patches (stream mode only)",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			release := async.NewFuture[struct{}]()
			armed := false
			// Created at root scope: the store serializes exactly once, and
			// its rendered value stays locked to the first revision.
			feed := reactive.NewStreamStore(rt, initial(), func(d *patch.Draft, emit func() error) error {
				if _, err := release.Await(context.Background()); err != nil {
					return err
				}
				if err := d.Set(patch.Path{"name"}, "Alice"); err != nil {
					return err
				}
				if err := emit(); err != nil {
					return err
				}
				if err := d.Set(patch.Path{"items"}, []any{1}); err != nil {
					return err
				}
				if err := emit(); err != nil {
					return err
				}
				if err := d.Push(patch.Path{"items"}, 2); err != nil {
					return err
				}
				return emit()
			})
			body, err := render.Loading(rt, ctx, render.Raw(`<p class="pending">loading feed</p>`), func() (any, error) {
				state, err := feed.Get()
				if err != nil {
					if !armed && reactive.IsNotReady(err) {
						armed = true
						release.Resolve(struct{}{})
					}
					return nil, err
				}
				items, _ := state["items"].([]any)
				return ctx.SSR(
					[]string{`<section><h2>`, `</h2><p>`, ` items</p></section>`},
					state["name"], len(items),
				)
			})
			if err != nil {
				return nil, err
			}
			return ctx.SSR([]string{"<main>", "</main>"}, body)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			feed := hydrate.NewStreamStore(s, initial(), func(d *patch.Draft, emit func() error) error {
				// Adopted from the serialized stream; nothing to generate.
				return nil
			})
			view := hydrate.Loading(s, "loading feed", func() (any, error) {
				return feed.Get()
			})
			return &feedHandle{store: feed, view: view}, nil
		},
	}
}

// boundaryHandle exposes an error boundary's view and its reset.
type boundaryHandle struct {
	view  reactive.Accessor
	reset func()
}

func boundaryErrorPage() *PageDef {
	return &PageDef{
		Name: "boundary_error",
		Doc:  "error boundary fallback, revived on the client without re-running",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			view := reactive.Errored(rt, func() (any, error) {
				return nil, errors.New("profile query failed")
			}, func(err error) (any, error) {
				return "fallback: " + err.Error(), nil
			})
			return ctx.SSR([]string{`<main><p class="error">`, `</p></main>`}, view)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			h := &boundaryHandle{}
			h.view = hydrate.NewErrorBoundary(s, func() (any, error) {
				return "profile loaded", nil
			}, func(err error, reset func()) (any, error) {
				h.reset = reset
				return "fallback: " + err.Error(), nil
			})
			return h, nil
		},
	}
}

// snapshotProbe records what the hydration walk observed alongside the
// live primitives, so scenarios can compare mid-walk and settled reads.
type snapshotProbe struct {
	scoreFirst  int
	scoreDuring int
	badgeDuring string
	doubled     *reactive.Memo[int]
	badge       *reactive.Memo[string]
	score       *reactive.Signal[int]
}

func snapshotWritesPage() *PageDef {
	return &PageDef{
		Name: "snapshot_writes",
		Doc:  "writes during hydration land only after the snapshot scope releases",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			score := reactive.NewSignal(rt, 10)
			doubled := reactive.NewMemo(rt, func(int) (int, error) {
				return 2 * score.Get(), nil
			})
			badge := reactive.NewMemo(rt, func(string) (string, error) {
				return "member", nil
			}, reactive.WithSource(reactive.SourceClient), reactive.WithInitial("guest"))
			dv, err := doubled.Get()
			if err != nil {
				return nil, err
			}
			bv, err := badge.Get()
			if err != nil {
				return nil, err
			}
			return ctx.SSR(
				[]string{`<main><p class="score">`, `</p><p class="badge">`, `</p></main>`},
				dv, bv,
			)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			score := hydrate.NewSignal(s, 10)
			doubled := hydrate.NewMemo(s, func(int) (int, error) {
				return 2 * score.Get(), nil
			})
			badge := hydrate.NewMemo(s, func(string) (string, error) {
				return "member", nil
			}, reactive.WithSource(reactive.SourceClient), reactive.WithInitial("guest"))

			// Walk reads come first, in the order the server rendered them;
			// that is when the snapshot bindings are taken.
			first, err := doubled.Get()
			if err != nil {
				return nil, err
			}
			badgeDuring, err := badge.Get()
			if err != nil {
				return nil, err
			}
			// Mid-walk write. The bindings keep later reads at their
			// first-observed values until the scope releases.
			score.Set(100)
			during, err := doubled.Get()
			if err != nil {
				return nil, err
			}
			return &snapshotProbe{
				scoreFirst:  first,
				scoreDuring: during,
				badgeDuring: badgeDuring,
				doubled:     doubled,
				badge:       badge,
				score:       score,
			}, nil
		},
	}
}

func kitchenSinkPage() *PageDef {
	initial := func() map[string]any {
		return map[string]any{
			"owner": `Ada & Grace <dev>`,
			"items": []any{"keyboard", "mouse"},
		}
	}
	return &PageDef{
		Name: "kitchen_sink",
		Doc:  "store-backed markup: escaping, trusted raw runs, list building",
		Render: func(rt *reactive.Runtime, ctx *render.Context) (any, error) {
			cart := reactive.NewStore(rt, initial())
			state := cart.Get()
			items, _ := state["items"].([]any)
			var rows []any
			for _, item := range items {
				row, err := ctx.SSR([]string{"<li>", "</li>"}, item)
				if err != nil {
					return nil, err
				}
				rows = append(rows, row)
			}
			return ctx.SSR(
				[]string{`<main data-page="`, `"><h1>`, `</h1>`, `<ul>`, `</ul></main>`},
				render.Raw(render.Escape("cart & checkout", true)),
				state["owner"],
				render.Raw("<!-- pricing cached hourly -->"),
				rows,
			)
		},
		Hydrate: func(s *hydrate.Session) (any, error) {
			return hydrate.NewStore(s, initial()), nil
		},
	}
}
