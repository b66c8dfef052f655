// Package dispatch decouples command arrival from command execution.
//
// Inbound payloads are copied into a bounded job queue on the
// network-servicing goroutine and consumed by a single worker, so a
// slow capability never blocks the transport. The queue policy is
// drop-newest: when full, the arriving job is dropped and logged, never
// blocked on.
package dispatch
