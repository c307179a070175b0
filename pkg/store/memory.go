package store

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shuymn-sandbox/firechat/internal/model"
	"github.com/shuymn-sandbox/firechat/internal/relay"
)

// Memory keeps messages in process. Timestamps come from its own clock and
// are strictly increasing.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	messages map[string]model.Message
	subs     map[int]*relay.Relay
	nextSub  int
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		messages: make(map[string]model.Message),
		subs:     make(map[int]*relay.Relay),
	}
}

func (m *Memory) Send(_ context.Context, text, authorID, authorPhotoURI string) (*model.Message, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	createdAt := m.now().UTC().Truncate(time.Microsecond)
	if !createdAt.After(m.last) {
		createdAt = m.last.Add(time.Microsecond)
	}
	m.last = createdAt

	msg := model.Message{
		ID:             id,
		Text:           text,
		AuthorID:       authorID,
		AuthorPhotoURI: authorPhotoURI,
		CreatedAt:      createdAt,
	}
	m.messages[id] = msg
	m.publishLocked()
	return &msg, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	m.publishLocked()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &msg, nil
}

func (m *Memory) List(_ context.Context) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), nil
}

func (m *Memory) SubscribeAll(ctx context.Context, fn SnapshotFunc) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := relay.New(fn)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = r
	r.Push(m.snapshotLocked())
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			r.Stop()
		})
	}, nil
}

func (m *Memory) snapshotLocked() []model.Message {
	messages := lo.Values(m.messages)
	Sort(messages)
	return messages
}

func (m *Memory) publishLocked() {
	for _, r := range m.subs {
		r.Push(m.snapshotLocked())
	}
}
