package reactive

import (
	"io"
	"log/slog"
	"sort"
)

// SideChannel receives serialized primitive state during server rendering.
// The server render context implements it; on the client (and in plain
// computation graphs) no side channel is installed and serialization is a
// no-op.
type SideChannel interface {
	// Serialize records the state of the primitive with the given owner id.
	// Values may be plain data, futures, or streams; pending ones are
	// drained in the background by the wire encoder. deferStream asks the
	// channel to skip the pending placeholder and write only settlements.
	Serialize(id string, v any, deferStream bool)

	// Async reports whether out-of-order delivery is available. Stream
	// sources refuse to serialize live when it is not.
	Async() bool
}

// Runtime owns a reactive graph: the ownership tree, the current execution
// scope, hydration snapshot state, and the client-side dirty queue.
//
// Execution is single-writer: all graph mutation happens while holding the
// runtime's execution slot. The initial render pass holds it implicitly;
// cross-goroutine re-entry (boundary resolution, stream continuations,
// settle callbacks) serializes through Run. Blocking awaits must never
// happen while holding the slot.
type Runtime struct {
	log  *slog.Logger
	slot chan struct{}

	root     *Owner
	owner    *Owner       // current owner while executing
	observer *computation // current computation, for dependency capture

	side SideChannel // installed by the server render context

	clientMode bool
	scanning   bool

	// Hydration snapshot state. Bindings are keyed by scope owner so that
	// per-boundary scopes release independently.
	snapshotCapture bool
	snapshots       map[*Owner]map[*box]any
	scopeComps      map[*Owner][]*computation

	// flips holds client-sourced computations that scanned instead of
	// computing; releasing their scope queues the first real run.
	flips map[*Owner][]*computation

	dirty    []*computation
	flushing bool

	seq int64 // creation-order counter for computations
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) { rt.log = l }
}

// WithRootID overrides the root owner id. The default is "t".
func WithRootID(id string) Option {
	return func(rt *Runtime) { rt.root.id = id }
}

// WithSideChannel installs the serialization sink up front.
func WithSideChannel(side SideChannel) Option {
	return func(rt *Runtime) { rt.side = side }
}

// New creates a runtime with a fresh root owner.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		slot:      make(chan struct{}, 1),
		snapshots: make(map[*Owner]map[*box]any),
	}
	rt.root = &Owner{rt: rt, id: "t"}
	rt.owner = rt.root
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Root returns the root owner.
func (rt *Runtime) Root() *Owner { return rt.root }

// Owner returns the current owner scope.
func (rt *Runtime) Owner() *Owner { return rt.owner }

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.log }

// SetSideChannel installs (or clears) the serialization sink.
func (rt *Runtime) SetSideChannel(side SideChannel) { rt.side = side }

// SideChannel returns the installed serialization sink, or nil.
func (rt *Runtime) SideChannel() SideChannel { return rt.side }

// SetClientMode toggles live dependency tracking. Server rendering leaves
// it off: values are pulled once and never invalidated. Hydration turns it
// on so writes mark dependents dirty for Flush.
func (rt *Runtime) SetClientMode(on bool) { rt.clientMode = on }

// ClientMode reports whether live dependency tracking is on.
func (rt *Runtime) ClientMode() bool { return rt.clientMode }

// Enter acquires the execution slot. It blocks until the slot is free.
// Enter/Leave are not reentrant; code already holding the slot must call
// graph operations directly.
func (rt *Runtime) Enter() { rt.slot <- struct{}{} }

// Leave releases the execution slot.
func (rt *Runtime) Leave() { <-rt.slot }

// Run executes fn while holding the execution slot. It is the re-entry
// point for settle callbacks and resolution goroutines. Not reentrant.
func (rt *Runtime) Run(fn func() error) error {
	rt.Enter()
	defer rt.Leave()
	return fn()
}

// RunWithOwner executes fn with o as the current owner, restoring the
// previous owner afterwards. The caller must hold the execution slot.
func (rt *Runtime) RunWithOwner(o *Owner, fn func() error) error {
	prev := rt.owner
	rt.owner = o
	defer func() { rt.owner = prev }()
	return fn()
}

// RunWithOwnerValue is RunWithOwner for value-producing scopes.
func RunWithOwnerValue[T any](rt *Runtime, o *Owner, fn func() (T, error)) (T, error) {
	prev := rt.owner
	rt.owner = o
	defer func() { rt.owner = prev }()
	return fn()
}

// CreateOwner allocates a child owner under the current owner.
func (rt *Runtime) CreateOwner() *Owner {
	return rt.owner.newChild()
}

// CreateRoot runs fn under a detached child scope and hands it its own
// dispose function. Used for subtrees whose lifetime outlives the caller.
func (rt *Runtime) CreateRoot(fn func(dispose func()) error) error {
	scope := rt.owner.newChild()
	dispose := func() { scope.Dispose(false) }
	return rt.RunWithOwner(scope, func() error { return fn(dispose) })
}

// NextChildID allocates the next deterministic child id under the current
// owner. Primitives call this to claim their identity.
func (rt *Runtime) NextChildID() string {
	return rt.owner.nextChildID()
}

// PeekChildID returns the id the next primitive would receive, without
// allocating it. Hydration wrappers peek before deciding whether serialized
// state exists for the upcoming computation.
func (rt *Runtime) PeekChildID() string {
	return rt.owner.peekChildID()
}

// OnCleanup registers fn on the current owner. Returns NoOwnerError when
// called outside any owner scope.
func (rt *Runtime) OnCleanup(fn func()) error {
	if rt.owner == nil {
		return &NoOwnerError{Op: "OnCleanup"}
	}
	rt.owner.OnCleanup(fn)
	return nil
}

// Scanning reports whether a dependency scan pass is active. Data fetchers
// consult it and return inert settled futures instead of starting work, so
// a single synchronous pass can record signal dependencies.
func (rt *Runtime) Scanning() bool { return rt.scanning }

// scan runs fn with the scanning flag set.
func (rt *Runtime) scan(fn func()) {
	prev := rt.scanning
	rt.scanning = true
	defer func() { rt.scanning = prev }()
	fn()
}

// serialize writes to the installed side channel, if any. The channel is
// captured per computation at creation time; this is the uncaptured path
// for boundary-level writes.
func (rt *Runtime) serialize(id string, v any) {
	if rt.side != nil {
		rt.side.Serialize(id, v, false)
	}
}

// dropOwner forgets snapshot state tied to a disposed owner.
func (rt *Runtime) dropOwner(o *Owner) {
	delete(rt.snapshots, o)
	delete(rt.scopeComps, o)
	delete(rt.flips, o)
}

// registerFlip queues c to recompute when the enclosing snapshot scope
// releases. Client-sourced computations install their initial with a scan
// pass and take their first real run here.
func (rt *Runtime) registerFlip(c *computation) {
	scope := rt.currentSnapshotScope()
	if scope == nil {
		scope = rt.root
	}
	if rt.flips == nil {
		rt.flips = make(map[*Owner][]*computation)
	}
	rt.flips[scope] = append(rt.flips[scope], c)
}

// markDirty stales a computation and queues it for the next Flush. Reads
// between the write and the flush recompute on their own.
func (rt *Runtime) markDirty(c *computation) {
	if c.owner.state == ownerDisposed {
		return
	}
	c.stale = true
	if c.queued {
		return
	}
	c.queued = true
	rt.dirty = append(rt.dirty, c)
}

// Flush reruns dirty computations in creation order until the queue
// drains. Writes performed by reruns are folded into the same flush.
// The caller must hold the execution slot.
func (rt *Runtime) Flush() {
	if rt.flushing {
		return
	}
	rt.flushing = true
	defer func() { rt.flushing = false }()

	for len(rt.dirty) > 0 {
		batch := rt.dirty
		rt.dirty = nil
		sort.SliceStable(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
		for _, c := range batch {
			c.queued = false
			if c.owner.state == ownerDisposed || !c.stale {
				continue
			}
			c.run()
		}
	}
}
