package view_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shuymn-sandbox/firechat/internal/model"
	"github.com/shuymn-sandbox/firechat/internal/testutil"
	"github.com/shuymn-sandbox/firechat/pkg/auth"
	"github.com/shuymn-sandbox/firechat/pkg/feed"
	"github.com/shuymn-sandbox/firechat/pkg/store"
	"github.com/shuymn-sandbox/firechat/pkg/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("backend unavailable")

// flakyStore fails writes while broken is set.
type flakyStore struct {
	*store.Memory

	mu     sync.Mutex
	broken bool
}

func (s *flakyStore) setBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = broken
}

func (s *flakyStore) isBroken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *flakyStore) Send(ctx context.Context, text, authorID, authorPhotoURI string) (*model.Message, error) {
	if s.isBroken() {
		return nil, errUnavailable
	}
	return s.Memory.Send(ctx, text, authorID, authorPhotoURI)
}

func (s *flakyStore) Delete(ctx context.Context, id string) error {
	if s.isBroken() {
		return errUnavailable
	}
	return s.Memory.Delete(ctx, id)
}

type fixture struct {
	store    *flakyStore
	provider *testutil.Provider
}

func newFixture() *fixture {
	p := testutil.NewProvider()
	p.AddUser("token-alice", "alice", "https://example.com/alice.png")
	p.AddUser("token-bob", "bob", "")
	return &fixture{
		store:    &flakyStore{Memory: store.NewMemory()},
		provider: p,
	}
}

func (f *fixture) mount(t *testing.T, feed view.Feed, opts ...view.Option) *view.Controller {
	t.Helper()
	c := view.NewController(auth.NewGateway(f.provider), f.store, feed, opts...)
	c.Mount(context.Background())
	t.Cleanup(c.Unmount)
	return c
}

// waitScreen reads screens until one satisfies ok.
func waitScreen(t *testing.T, c *view.Controller, ok func(view.Screen) bool) view.Screen {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-c.Screens():
			if ok(s) {
				return s
			}
		case <-timeout:
			t.Fatalf("no matching screen; current: %+v", c.Screen())
			return view.Screen{}
		}
	}
}

func withMessages(n int) func(view.Screen) bool {
	return func(s view.Screen) bool {
		return s.SignedIn && len(s.Messages) == n
	}
}

func texts(s view.Screen) []string {
	out := make([]string, 0, len(s.Messages))
	for _, item := range s.Messages {
		out = append(out, item.Text)
	}
	return out
}

func noAlert(t *testing.T, c *view.Controller) {
	t.Helper()
	select {
	case a := <-c.Alerts():
		t.Fatalf("unexpected alert: %v", a)
	default:
	}
}

func TestController_LoginPromptUntilSignedIn(t *testing.T) {
	f := newFixture()
	c := f.mount(t, f.store)

	s := waitScreen(t, c, func(view.Screen) bool { return true })
	assert.False(t, s.SignedIn)
	assert.Empty(t, s.Messages)
}

func TestController_SendAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.store.Send(ctx, "from bob", "bob", "")
	require.NoError(t, err)

	c := f.mount(t, f.store)
	require.NoError(t, c.SignIn(ctx, "token-alice"))
	s := waitScreen(t, c, withMessages(1))
	assert.Equal(t, "alice", s.User.UID)
	assert.False(t, s.Messages[0].Deletable)

	require.NoError(t, c.Send(ctx, "hello"))
	s = waitScreen(t, c, withMessages(2))
	assert.Equal(t, []string{"from bob", "hello"}, texts(s))
	mine := s.Messages[1]
	assert.True(t, mine.Mine)
	assert.True(t, mine.Deletable)
	assert.Equal(t, "https://example.com/alice.png", mine.PhotoURI)
	assert.True(t, mine.CreatedAt.After(s.Messages[0].CreatedAt))

	require.NoError(t, c.Delete(ctx, mine.ID))
	s = waitScreen(t, c, withMessages(1))
	assert.Equal(t, []string{"from bob"}, texts(s))

	_, err = f.store.Get(ctx, mine.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	noAlert(t, c)
}

func TestController_ScrollAfterSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := f.mount(t, f.store)

	require.NoError(t, c.SignIn(ctx, "token-alice"))
	waitScreen(t, c, withMessages(0))

	require.NoError(t, c.Send(ctx, "scroll me"))
	s := waitScreen(t, c, func(s view.Screen) bool { return s.ScrollToLatest })
	assert.True(t, s.SignedIn)

	assert.False(t, c.Screen().ScrollToLatest)
}

func TestController_DeleteOthersMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	theirs, err := f.store.Send(ctx, "bob's", "bob", "")
	require.NoError(t, err)

	c := f.mount(t, f.store)
	require.NoError(t, c.SignIn(ctx, "token-alice"))
	waitScreen(t, c, withMessages(1))

	err = c.Delete(ctx, theirs.ID)
	require.ErrorIs(t, err, view.ErrNotAuthor)

	alert := <-c.Alerts()
	assert.ErrorIs(t, alert, view.ErrNotAuthor)
	assert.Equal(t, "delete", alert.Action)
	noAlert(t, c)

	_, err = f.store.Get(ctx, theirs.ID)
	assert.NoError(t, err)
}

func TestController_FailedWritesAlertOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := f.mount(t, f.store)

	require.NoError(t, c.SignIn(ctx, "token-alice"))
	waitScreen(t, c, withMessages(0))
	require.NoError(t, c.Send(ctx, "kept"))
	before := waitScreen(t, c, withMessages(1))

	f.store.setBroken(true)

	err := c.Send(ctx, "lost")
	require.ErrorIs(t, err, errUnavailable)
	alert := <-c.Alerts()
	assert.Equal(t, "send", alert.Action)
	assert.ErrorIs(t, alert, errUnavailable)
	noAlert(t, c)

	err = c.Delete(ctx, before.Messages[0].ID)
	require.ErrorIs(t, err, errUnavailable)
	alert = <-c.Alerts()
	assert.Equal(t, "delete", alert.Action)
	noAlert(t, c)

	after := c.Screen()
	assert.Equal(t, texts(before), texts(after))
}

func TestController_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := f.mount(t, f.store, view.WithMaxMessageLength(5))

	require.ErrorIs(t, c.Send(ctx, "hello"), view.ErrSignedOut)
	<-c.Alerts()

	require.NoError(t, c.SignIn(ctx, "token-alice"))
	waitScreen(t, c, withMessages(0))

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "blank", text: "   "},
		{name: "too long", text: strings.Repeat("x", 6)},
		{name: "too long with padding", text: "  " + strings.Repeat("x", 6) + "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, c.Send(ctx, tt.text))
			<-c.Alerts()
		})
	}

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, c.Send(ctx, "hi"+strings.Repeat(" ", 10)))
	list, err = f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "hi", list[0].Text)
}

func TestController_SignOutAndBackIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := f.mount(t, f.store)

	require.NoError(t, c.SignIn(ctx, "token-alice"))
	waitScreen(t, c, withMessages(0))
	require.NoError(t, c.Send(ctx, "one"))
	waitScreen(t, c, withMessages(1))

	require.NoError(t, c.SignOut(ctx))
	s := waitScreen(t, c, func(s view.Screen) bool { return !s.SignedIn })
	assert.Empty(t, s.Messages)

	// Written while signed out; must show up after signing back in.
	_, err := f.store.Send(ctx, "two", "bob", "")
	require.NoError(t, err)

	require.NoError(t, c.SignIn(ctx, "token-bob"))
	s = waitScreen(t, c, withMessages(2))
	assert.Equal(t, "bob", s.User.UID)
	assert.Equal(t, []string{"one", "two"}, texts(s))
	assert.False(t, s.Messages[0].Deletable)
	assert.True(t, s.Messages[1].Deletable)
}

// countingFeed records how often the controller subscribes and unsubscribes.
type countingFeed struct {
	*store.Memory

	mu           sync.Mutex
	subscribes   int
	unsubscribes int
}

func (f *countingFeed) SubscribeAll(ctx context.Context, fn store.SnapshotFunc) (store.Unsubscribe, error) {
	stop, err := f.Memory.SubscribeAll(ctx, fn)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.subscribes++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.unsubscribes++
		f.mu.Unlock()
		stop()
	}, nil
}

func (f *countingFeed) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes
}

func TestController_RefreshedTokenKeepsFeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.provider.AddUser("token-alice-refreshed", "alice", "https://example.com/alice-2.png")
	_, err := f.store.Send(ctx, "from bob", "bob", "")
	require.NoError(t, err)

	counting := &countingFeed{Memory: f.store.Memory}
	c := f.mount(t, counting)
	require.NoError(t, c.SignIn(ctx, "token-alice"))
	waitScreen(t, c, withMessages(1))

	require.NoError(t, c.SignIn(ctx, "token-alice-refreshed"))

	// The list is never cleared, so the screen right after the refresh still
	// shows the message.
	s := c.Screen()
	assert.True(t, s.SignedIn)
	assert.Equal(t, []string{"from bob"}, texts(s))
	assert.Equal(t, "https://example.com/alice-2.png", s.User.PhotoURI)

	subscribes, unsubscribes := counting.counts()
	assert.Equal(t, 1, subscribes)
	assert.Equal(t, 0, unsubscribes)

	require.NoError(t, c.Send(ctx, "still live"))
	s = waitScreen(t, c, withMessages(2))
	assert.Equal(t, []string{"from bob", "still live"}, texts(s))
	assert.True(t, s.Messages[1].Deletable)
	noAlert(t, c)
}

func TestController_InvalidSignIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := f.mount(t, f.store)

	err := c.SignIn(ctx, "forged")
	require.ErrorIs(t, err, testutil.ErrInvalidToken)
	alert := <-c.Alerts()
	assert.Equal(t, "sign in", alert.Action)
	assert.False(t, c.Screen().SignedIn)
}

func TestController_ThroughHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture()
	hub := feed.NewHub(f.store)
	go hub.Run(ctx)

	alice := f.mount(t, hub)
	bob := f.mount(t, hub)
	require.NoError(t, alice.SignIn(ctx, "token-alice"))
	require.NoError(t, bob.SignIn(ctx, "token-bob"))

	require.NoError(t, alice.Send(ctx, "hi bob"))

	s := waitScreen(t, bob, withMessages(1))
	assert.Equal(t, "hi bob", s.Messages[0].Text)
	assert.False(t, s.Messages[0].Deletable)

	require.ErrorIs(t, bob.Delete(ctx, s.Messages[0].ID), view.ErrNotAuthor)
}
