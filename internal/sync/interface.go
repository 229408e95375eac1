package sync

import "context"

// Syncer replays the pending write queue against the TimeTracker API.
//
// A Syncer holds a single re-entrancy guard shared by both drain methods:
// whichever caller arrives second gets ErrSyncInProgress and the queue is
// drained exactly once. The guard makes it safe to wire the same Syncer to
// the connectivity monitor, the daemon file watcher, and the CLI at the
// same time.
type Syncer interface {
	// Sync drains the queue now, attempting every entry in order.
	//
	// This is the caller-facing entrypoint: an explicit "retry now"
	// ignores backoff windows. Each entry gets at most one delivery
	// attempt in the pass.
	//
	// The returned Result is valid even when err is non-nil; a pass
	// interrupted by ctx cancellation reports what it managed to do.
	//
	// Example:
	//   res, err := syncer.Sync(ctx)
	//   if errors.Is(err, sync.ErrSyncInProgress) {
	//       // another trigger is already draining
	//   }
	Sync(ctx context.Context) (Result, error)

	// SyncDue drains the queue on behalf of an automatic trigger.
	//
	// Entries still inside their backoff window are skipped and counted
	// in Result.Deferred; everything else is attempted exactly as Sync
	// does. Connectivity transitions and periodic wakes go through here
	// so repeated triggers cannot burn an entry's attempts back to back.
	SyncDue(ctx context.Context) (Result, error)

	// InFlight reports whether a drain is running right now.
	InFlight() bool
}

// Result summarizes one reconciliation pass.
type Result struct {
	// Synced counts entries the server accepted; they left the queue.
	Synced int

	// Failed counts failed delivery attempts, including the final
	// attempts of dropped entries.
	Failed int

	// Dropped counts entries evicted after exhausting their attempts.
	// Every drop is lost data and is also reported as an entry_dropped
	// event.
	Dropped int

	// Deferred counts entries skipped because their backoff window has
	// not elapsed. Always zero for Sync.
	Deferred int
}

// Attempted returns the number of entries given a delivery attempt.
func (r Result) Attempted() int {
	return r.Synced + r.Failed
}
