// Package core ties the session store, chunked receiver, report parser and
// event bus into the operations the HTTP layer and the CLI expose.
//
// # Processing runs
//
// [Service.StartProcessing] moves a session into the running state with a
// single compare-and-set on the event bus, then parses the session's
// completed uploads in a background goroutine. At most one run per session
// is active; a second start while one is running only records an event.
// Runs across sessions share a bounded pool of slots ([RunLimiter]).
//
// Every run ends in exactly one terminal status: done after the last file,
// or error after the first failure, including a recovered panic. Progress
// of all kinds is reported as session events, never as a caller error.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each error category has a code for support reference:
//
//   - SES001-SES002: Session errors (unknown session, nothing to process)
//   - UPL001-UPL004: Upload errors (unknown upload, size limits)
//   - RNG001-RNG005: Content-Range errors
//   - EXP001-EXP004: Export, indexing and publishing errors
//   - REQ001-REQ002: Cancelled or timed out requests
package core
