package message

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrRemotePut marks a failure reported back by the node that executed a put.
var ErrRemotePut = errors.New("message: remote put failed")

// Requests hands out request numbers and routes responses back to the
// goroutine waiting on them.
type Requests struct {
	next    atomic.Int32
	mu      sync.Mutex
	pending map[int32]chan error
}

func NewRequests() *Requests {
	return &Requests{pending: make(map[int32]chan error)}
}

func (r *Requests) Next() int32 {
	return r.next.Add(1)
}

// Await registers num and returns the channel its completion is delivered on.
func (r *Requests) Await(num int32) <-chan error {
	ch := make(chan error, 1)
	r.mu.Lock()
	r.pending[num] = ch
	r.mu.Unlock()
	return ch
}

// Complete delivers err to the waiter on num. It reports false when nobody
// is waiting, which happens for late or duplicate responses.
func (r *Requests) Complete(num int32, err error) bool {
	r.mu.Lock()
	ch, ok := r.pending[num]
	delete(r.pending, num)
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- err
	return true
}

func (r *Requests) Cancel(num int32) {
	r.mu.Lock()
	delete(r.pending, num)
	r.mu.Unlock()
}

func (r *Requests) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
