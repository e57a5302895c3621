// Package render turns a component tree into HTML plus a side-channel
// record stream.
//
// Rendering is pull-based: components return templates whose dynamic
// positions (holes) are accessors into the reactive graph. A hole that is
// not ready yet carries the future gating it; Loading boundaries capture
// those futures, stream a placeholder, and re-resolve the subtree once the
// futures settle, delivering the finished fragment out of order through a
// ChunkSink.
//
// Two entry points exist. RenderToString is the sync mode: every async
// value must sit under a Loading boundary (which defers it to the client)
// and the wire encoder rejects anything still pending. RenderToStream is
// the async mode: pending state is serialized as it settles and boundary
// fragments arrive whenever they finish.
package render
