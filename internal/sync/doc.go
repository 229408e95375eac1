// Package sync drains the offline write queue against the TimeTracker API.
//
// # Overview
//
// Mutations composed while the API is unreachable sit in the pending write
// queue as frozen HTTP requests. The reconciler replays them oldest first,
// one attempt per entry per pass, so the server observes operations in the
// order the user performed them.
//
// # Delivery verdicts
//
// Each replay ends in exactly one of three verdicts:
//
//   - Accepted: any 2xx response. The entry leaves the queue for good.
//   - Failed: a transport error, a per-attempt timeout, or a non-2xx
//     status. The entry's retry count is bumped and it stays queued.
//   - Dropped: the failed attempt was the entry's last one. The entry is
//     evicted and the loss is surfaced through an entry_dropped event.
//
// A pass never retries an entry it already attempted; retry counts only
// accumulate across separate passes. With the attempt ceiling at three, an
// entry that fails three passes in a row is gone after the third.
//
// # Triggering
//
// Two entrypoints drain the queue. Sync is the caller-facing "retry now":
// it attempts every queued entry regardless of when each last failed.
// SyncDue serves automatic triggers (connectivity transitions, periodic
// wakes) and skips entries still inside their exponential backoff window,
// so a flapping link cannot burn through an entry's attempts in seconds.
//
// Both entrypoints share one re-entrancy guard. A drain requested while
// another is running returns ErrSyncInProgress immediately instead of
// racing it; callers treat that as "already being handled".
package sync
