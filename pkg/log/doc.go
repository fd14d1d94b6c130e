// Package log provides structured protocol event logging for HAPT.
//
// Components receive a Logger through their constructors; there is no
// package-level or global logger. Events describe what happened on the
// wire (frames, decoded messages, state changes, keepalive activity,
// errors) and are tagged with the connection they belong to.
//
// Implementations:
//   - NoopLogger discards everything (the default).
//   - FileLogger writes a compact CBOR trace for offline analysis.
//   - SlogAdapter mirrors events into a log/slog logger for consoles.
//   - MultiLogger fans out to several of the above.
//
// Reader streams events back out of a FileLogger trace, optionally
// filtered.
package log
