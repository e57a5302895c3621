// Package wire defines the side-channel record stream that accompanies
// server-rendered HTML.
//
// Every record is keyed by an owner id and carries one Entry: a plain
// value, a promise snapshot (pending / resolved / rejected), a stream
// item, or a serialized error. Later records for the same id extend or
// settle earlier ones: a pending promise is followed by its settlement,
// a stream by its yields. The client's hydration store folds the record
// sequence back into per-id state.
//
// Records are encoded as canonical JSON: NFC-normalized strings, object
// keys in UTF-16 code unit order, no HTML escaping. Identical state
// always encodes to identical bytes, which is what the replay journal and
// the golden tests compare.
package wire
