// Package patch implements path-based patches over JSON-shaped state.
//
// State is the usual dynamic shape: map[string]any objects, []any arrays,
// and scalar leaves. A patch op targets a path (object keys and array
// indices) and either sets a value, deletes an entry, or inserts an array
// element. Batches of ops are the replication unit: the server records
// mutations into a Draft, ships the drained batch over the wire, and the
// client applies it with Apply.
//
// Array semantics follow the originating mutation protocol:
//   - delete on an array index removes the element and shifts the rest
//     down (not a sparse hole)
//   - insert grows the array by one and shifts the rest up
//   - the synthetic "length" key may be set to truncate or extend
//
// The replay guarantee is the package's reason to exist: applying a
// drained batch to a copy of the pre-mutation state must reproduce the
// post-mutation state exactly.
package patch
