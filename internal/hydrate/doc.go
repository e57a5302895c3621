// Package hydrate revives a server-rendered page into a live reactive
// graph.
//
// The server walk and the client walk execute the same components in the
// same order, so both sides derive identical owner ids. A RecordStore
// folds the side-channel records by id; a Session drives the walk with
// snapshot capture on, so primitives read the values the server rendered
// instead of refetching. Constructors in this package mirror the
// reactive ones and consult the store first: a serialized value is
// adopted, a pending promise settles off the wire, a stream's first
// yield seeds the value and the remainder feeds it live.
//
// Loading boundaries that the server streamed resume here too: the
// boundary hydrates its fallback, waits for its fragment (and any module
// assets), then re-runs its children under a fresh snapshot scope once
// the fragment's records have landed.
package hydrate
