// Package timer provides the expiration side of the task runtime: a
// per-interval queue of running timers with stable sequence identifiers and
// lazy cancellation, plus the service that converts expirations into task
// signals.
package timer
