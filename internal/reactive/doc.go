// Package reactive implements the ownership tree and the pull-based
// reactive primitives shared by server rendering and client hydration.
//
// Every computation runs under an owner. Owners hand out deterministic ids
// (parent id plus creation index), run cleanups LIFO on dispose, and reset
// their child counter whenever their scope re-executes, so the same code
// produces the same ids on every run. Those ids key the serialization side
// channel: state written on the server finds its computation again on the
// client.
//
// Values are pulled, not pushed. Reading a primitive whose async source has
// not settled returns a NotReadyError carrying the blocking future; the
// caller (usually a Loading boundary) awaits it and reads again, which
// re-runs the suspended compute. In client mode writes additionally mark
// dependents dirty and Flush re-runs them in creation order.
//
// Execution is single-writer: one goroutine mutates the graph at a time,
// serialized through the runtime's execution slot. Settle callbacks and
// stream continuations re-enter via Runtime.Run.
package reactive
