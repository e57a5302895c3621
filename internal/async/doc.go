// Package async provides one-shot futures and pull-based streams.
//
// These are the asynchronous value carriers the rest of the runtime is
// built on: a Future settles exactly once with a value or an error, and a
// Stream produces a sequence of items on demand, one pull at a time.
//
// Key design constraints:
//   - Settling is affine: the first Resolve/Reject wins, later calls are
//     no-ops that report false
//   - Consumers never poll; they block on Await, select on Done, or
//     register OnSettle callbacks
//   - Streams apply backpressure: a generator's yield blocks until a
//     consumer pulls
//
// async imports nothing internal. All other internal packages may import it.
package async
