// Package feed shares one live message subscription between many viewers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shuymn-sandbox/firechat/internal/model"
	"github.com/shuymn-sandbox/firechat/internal/relay"
	"github.com/shuymn-sandbox/firechat/pkg/store"
)

var ErrClosed = errors.New("feed hub closed")

type Source interface {
	SubscribeAll(ctx context.Context, fn store.SnapshotFunc) (store.Unsubscribe, error)
}

type update struct {
	messages []model.Message
	err      error
}

type subscriber struct {
	relay *relay.Relay
}

type Hub struct {
	source Source

	// Registered subscribers.
	subscribers map[*subscriber]bool

	// Snapshots from the upstream subscription.
	updates chan update

	register   chan *subscriber
	unregister chan *subscriber

	// done is closed once Run has returned.
	done chan struct{}

	latest []model.Message
	ready  bool
}

func NewHub(source Source) *Hub {
	return &Hub{
		source:      source,
		subscribers: make(map[*subscriber]bool),
		updates:     make(chan update),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		done:        make(chan struct{}),
	}
}

// Run subscribes upstream and fans snapshots out until ctx ends or the
// upstream fails.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	defer h.stopAll()

	// pending is cancelled before unsubscribe runs so a blocked send to
	// h.updates gives up.
	pending, cancel := context.WithCancel(ctx)
	unsubscribe, err := h.source.SubscribeAll(ctx, func(messages []model.Message, err error) {
		select {
		case h.updates <- update{messages: messages, err: err}:
		case <-pending.Done():
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}
	defer unsubscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-h.register:
			h.subscribers[s] = true
			if h.ready {
				s.relay.Push(clone(h.latest))
			}
		case s := <-h.unregister:
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				s.relay.Stop()
			}
		case u := <-h.updates:
			if u.err != nil {
				slog.Error("message feed failed", "error", u.err)
				for s := range h.subscribers {
					// The relay exits on its own after delivering the error.
					s.relay.Fail(u.err)
					delete(h.subscribers, s)
				}
				return u.err
			}
			h.latest = u.messages
			h.ready = true
			for s := range h.subscribers {
				s.relay.Push(clone(u.messages))
			}
		}
	}
}

// SubscribeAll registers fn. It receives the latest snapshot right away if
// the hub already has one.
func (h *Hub) SubscribeAll(ctx context.Context, fn store.SnapshotFunc) (store.Unsubscribe, error) {
	s := &subscriber{relay: relay.New(fn)}

	select {
	case h.register <- s:
	case <-ctx.Done():
		s.relay.Stop()
		return nil, ctx.Err()
	case <-h.done:
		s.relay.Stop()
		return nil, ErrClosed
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			select {
			case h.unregister <- s:
			case <-h.done:
				s.relay.Stop()
			}
		})
	}, nil
}

func (h *Hub) stopAll() {
	for s := range h.subscribers {
		delete(h.subscribers, s)
		s.relay.Stop()
	}
}

func clone(messages []model.Message) []model.Message {
	if messages == nil {
		return []model.Message{}
	}
	return append([]model.Message(nil), messages...)
}
