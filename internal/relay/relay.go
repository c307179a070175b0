// Package relay delivers message snapshots to a callback on its own
// goroutine, keeping only the newest undelivered snapshot.
package relay

import (
	"sync"

	"github.com/shuymn-sandbox/firechat/internal/model"
)

type update struct {
	messages []model.Message
	err      error
}

type Relay struct {
	mu      sync.Mutex
	pending chan update
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func New(fn func([]model.Message, error)) *Relay {
	r := &Relay{
		pending: make(chan update, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.pump(fn)
	return r
}

// Push replaces any snapshot that has not been delivered yet.
func (r *Relay) Push(messages []model.Message) {
	r.offer(update{messages: messages})
}

// Fail delivers a terminal error.
func (r *Relay) Fail(err error) {
	r.offer(update{err: err})
}

func (r *Relay) offer(u update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.quit:
		return
	default:
	}

	select {
	case <-r.pending:
	default:
	}
	r.pending <- u
}

// Stop ends delivery and waits for an in-flight callback to return.
// It must not be called from inside the callback.
func (r *Relay) Stop() {
	r.once.Do(func() {
		close(r.quit)
	})
	<-r.done
}

func (r *Relay) pump(fn func([]model.Message, error)) {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case u := <-r.pending:
			fn(u.messages, u.err)
			if u.err != nil {
				return
			}
		}
	}
}
