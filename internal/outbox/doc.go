// Package outbox executes survey effects asynchronously.
//
// Effects produced for one session are executed strictly in the order they
// were submitted: every session is pinned to one worker lane (session id
// modulo lane count) and a lane runs one batch at a time. Different sessions
// proceed in parallel across lanes.
//
// # Delivery
//
// Each effect is handed to an Executor. Sends are paced by a shared token
// bucket and failed attempts are retried with exponential backoff. An
// executor marks errors that must not be retried with backoff.Permanent.
//
// Submit never blocks. When a lane is full the batch is dropped and an
// outbox.dropped event is published.
package outbox
