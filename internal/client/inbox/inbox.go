// Package inbox keeps the client-side notification list in sync with the
// server inbox and with live pushes.
package inbox

import (
	"context"
	"sync"

	"github.com/mouhebsa/blog-collaborator/internal/store"
)

type fetcher interface {
	Notifications(ctx context.Context) ([]store.Notification, error)
}

// Keeper holds the current notification list and an unread counter. The
// server marks everything read when the inbox is fetched, so Fetch resets
// the counter; live pushes arriving afterwards increment it again.
type Keeper struct {
	api fetcher

	mu     sync.Mutex
	items  []store.Notification
	unread int
}

func New(api fetcher) *Keeper {
	return &Keeper{api: api}
}

// Fetch replaces the local list with the server's inbox.
func (k *Keeper) Fetch(ctx context.Context) ([]store.Notification, error) {
	items, err := k.api.Notifications(ctx)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.items = items
	k.unread = 0
	k.mu.Unlock()
	return items, nil
}

// Apply prepends a live notification and bumps the unread counter.
func (k *Keeper) Apply(n store.Notification) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.items = append([]store.Notification{n}, k.items...)
	if !n.Read {
		k.unread++
	}
}

// Items returns a copy of the current list, newest first.
func (k *Keeper) Items() []store.Notification {
	k.mu.Lock()
	defer k.mu.Unlock()
	items := make([]store.Notification, len(k.items))
	copy(items, k.items)
	return items
}

// Unread returns the number of notifications not yet seen.
func (k *Keeper) Unread() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.unread
}

// MarkAllRead clears the unread counter and flags every item as read.
func (k *Keeper) MarkAllRead() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := range k.items {
		k.items[i].Read = true
	}
	k.unread = 0
}
