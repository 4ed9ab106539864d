package client

import "sync"

type refreshResult struct {
	token string
	err   error
}

// refreshCoordinator collapses concurrent renewal attempts into a single
// refresh call. The first caller in a window becomes the leader; everyone
// arriving before the leader finishes gets a wait channel and receives the
// leader's outcome, in arrival order.
type refreshCoordinator struct {
	mu      sync.Mutex
	pending bool
	waiters []chan refreshResult
}

func newRefreshCoordinator() *refreshCoordinator {
	return &refreshCoordinator{}
}

// acquire returns leader=true for exactly one caller per window. Followers
// get a buffered channel that finish will complete.
func (c *refreshCoordinator) acquire() (leader bool, wait chan refreshResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		c.pending = true
		return true, nil
	}
	ch := make(chan refreshResult, 1)
	c.waiters = append(c.waiters, ch)
	return false, ch
}

// finish publishes the leader's outcome to every waiter and closes the
// window.
func (c *refreshCoordinator) finish(token string, err error) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.pending = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
}
