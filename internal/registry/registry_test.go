package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type fakeConn struct {
	mu       sync.Mutex
	alive    bool
	writeErr error
	written  []any
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func TestDeliverToRegisteredOpenConn(t *testing.T) {
	r := New(zerolog.Nop())
	conn := &fakeConn{alive: true}
	r.Register("user-1", conn)

	if !r.Deliver("user-1", map[string]string{"type": "new_comment"}) {
		t.Fatal("expected delivery to succeed")
	}
	if conn.count() != 1 {
		t.Fatalf("expected exactly one write, got %d", conn.count())
	}
}

func TestDeliverToUnregisteredUser(t *testing.T) {
	r := New(zerolog.Nop())
	if r.Deliver("ghost", "payload") {
		t.Fatal("expected delivery to fail for unregistered user")
	}
}

func TestDeliverToClosedConn(t *testing.T) {
	r := New(zerolog.Nop())
	conn := &fakeConn{alive: false}
	r.Register("user-1", conn)

	if r.Deliver("user-1", "payload") {
		t.Fatal("expected delivery to fail for closed channel")
	}
	if conn.count() != 0 {
		t.Fatal("no write may happen on a closed channel")
	}
}

func TestDeliverReturnsFalseOnWriteError(t *testing.T) {
	r := New(zerolog.Nop())
	conn := &fakeConn{alive: true, writeErr: errors.New("broken pipe")}
	r.Register("user-1", conn)

	if r.Deliver("user-1", "payload") {
		t.Fatal("expected delivery to report failure")
	}
}

func TestReRegistrationReplacesChannel(t *testing.T) {
	r := New(zerolog.Nop())
	old := &fakeConn{alive: true}
	fresh := &fakeConn{alive: true}
	r.Register("user-1", old)
	r.Register("user-1", fresh)

	r.Deliver("user-1", "payload")

	if old.count() != 0 {
		t.Fatal("old channel must not receive anything after re-registration")
	}
	if fresh.count() != 1 {
		t.Fatal("latest channel must receive the payload")
	}
}

func TestStaleUnregisterKeepsNewChannel(t *testing.T) {
	r := New(zerolog.Nop())
	old := &fakeConn{alive: true}
	fresh := &fakeConn{alive: true}
	r.Register("user-1", old)
	r.Register("user-1", fresh)

	// The old socket's teardown fires after the reconnect registered.
	r.Unregister("user-1", old)

	if r.Lookup("user-1") != fresh {
		t.Fatal("stale unregister evicted the fresh channel")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New(zerolog.Nop())
	conn := &fakeConn{alive: true}
	r.Register("user-1", conn)
	r.Unregister("user-1", conn)
	r.Unregister("user-1", conn)

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", r.Len())
	}
}

func TestConcurrentRegisterDeliver(t *testing.T) {
	r := New(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("user-1", &fakeConn{alive: true})
		}()
		go func() {
			defer wg.Done()
			r.Deliver("user-1", "payload")
		}()
	}
	wg.Wait()
}
