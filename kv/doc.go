// Package kv is the client-local key-value store that keeps session state
// across process restarts.
//
// Three backends implement [Store]:
//
//   - [NewInMemory]: process-local map, lost on exit. Used in tests and when
//     persistence is disabled.
//   - [NewSQLite]: a single-file SQLite database using [modernc.org/sqlite]
//     (pure Go, no CGO). This is the default for the CLI.
//   - [NewRedis]: a shared Redis instance, for running several clients
//     against one session.
//
// Values are opaque bytes; [Get] and [Set] encode typed values with msgpack.
package kv
