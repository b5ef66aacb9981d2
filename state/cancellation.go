package state

import "sync/atomic"

// CancellationToken marks a job as "do not run" after it has been enqueued.
// Cancel is permanent; there is no way to un-cancel a token.
type CancellationToken struct {
	cancelled atomic.Bool
}

func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
}

func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}
