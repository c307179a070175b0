package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shuymn-sandbox/firechat/internal/model"
	"github.com/shuymn-sandbox/firechat/pkg/auth"
	"github.com/shuymn-sandbox/firechat/pkg/store"
)

const (
	DefaultMaxMessageLength = 1000

	alertBuffer = 16
)

var (
	ErrSignedOut = errors.New("not signed in")
	ErrNotAuthor = errors.New("only the author can delete a message")
)

// Sessions is the auth gateway as seen by a view.
type Sessions interface {
	SignIn(ctx context.Context, idToken string) (*model.Session, error)
	SignOut(ctx context.Context) error
	OnSessionChange(fn auth.SessionFunc) func()
}

type Messages interface {
	Send(ctx context.Context, text, authorID, authorPhotoURI string) (*model.Message, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Message, error)
}

type Feed interface {
	SubscribeAll(ctx context.Context, fn store.SnapshotFunc) (store.Unsubscribe, error)
}

// Alert is a failed action, shown once to the user.
type Alert struct {
	Action string
	Err    error
}

func (a Alert) Error() string {
	return fmt.Sprintf("%s: %v", a.Action, a.Err)
}

func (a Alert) Unwrap() error {
	return a.Err
}

type Option func(*Controller)

func WithMaxMessageLength(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxLength = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller keeps one client's session and message list in sync with the
// gateway and the feed, and publishes a Screen after every change.
type Controller struct {
	sessions  Sessions
	messages  Messages
	feed      Feed
	validate  *validator.Validate
	maxLength int
	logger    *slog.Logger

	mu           sync.Mutex
	ctx          context.Context
	mounted      bool
	session      *model.Session
	list         []model.Message
	generation   int
	stopFeed     store.Unsubscribe
	stopSessions func()
	// scrollTarget is the last sent message. Screens ask for a scroll until
	// one showing it has been published.
	scrollTarget string

	publishMu sync.Mutex
	screens   chan Screen
	alerts    chan Alert
}

func NewController(sessions Sessions, messages Messages, feed Feed, opts ...Option) *Controller {
	c := &Controller{
		sessions:  sessions,
		messages:  messages,
		feed:      feed,
		validate:  validator.New(),
		maxLength: DefaultMaxMessageLength,
		logger:    slog.Default(),
		screens:   make(chan Screen, 1),
		alerts:    make(chan Alert, alertBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Screens yields the newest screen. Older undelivered screens are dropped.
func (c *Controller) Screens() <-chan Screen {
	return c.screens
}

func (c *Controller) Alerts() <-chan Alert {
	return c.alerts
}

// Screen returns the current screen without consuming Screens.
func (c *Controller) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Render(c.session, c.list)
}

// Mount subscribes to session changes. The message feed follows the session:
// it is subscribed while signed in and torn down on sign-out.
func (c *Controller) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return
	}
	c.ctx = ctx
	c.mounted = true
	c.mu.Unlock()

	stop := c.sessions.OnSessionChange(c.handleSession)

	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		stop()
		return
	}
	c.stopSessions = stop
	c.mu.Unlock()
}

func (c *Controller) Unmount() {
	c.mu.Lock()
	c.mounted = false
	c.generation++
	stopSessions := c.stopSessions
	stopFeed := c.stopFeed
	c.stopSessions = nil
	c.stopFeed = nil
	c.mu.Unlock()

	if stopSessions != nil {
		stopSessions()
	}
	if stopFeed != nil {
		stopFeed()
	}
}

func (c *Controller) SignIn(ctx context.Context, idToken string) error {
	if _, err := c.sessions.SignIn(ctx, idToken); err != nil {
		return c.fail("sign in", err)
	}
	return nil
}

func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.sessions.SignOut(ctx); err != nil {
		return c.fail("sign out", err)
	}
	return nil
}

func (c *Controller) Send(ctx context.Context, text string) error {
	session := c.currentSession()
	if session == nil {
		return c.fail("send", ErrSignedOut)
	}

	// Surrounding whitespace is dropped before both the length check and the
	// write, so the stored text is what was validated.
	text = strings.TrimSpace(text)
	rule := fmt.Sprintf("required,max=%d", c.maxLength)
	if err := c.validate.Var(text, rule); err != nil {
		return c.fail("send", fmt.Errorf("invalid message: %w", err))
	}

	msg, err := c.messages.Send(ctx, text, session.UID, session.PhotoURI)
	if err != nil {
		return c.fail("send", err)
	}

	c.mu.Lock()
	c.scrollTarget = msg.ID
	c.mu.Unlock()
	c.publish()
	return nil
}

func (c *Controller) Delete(ctx context.Context, id string) error {
	session := c.currentSession()
	if session == nil {
		return c.fail("delete", ErrSignedOut)
	}

	msg, err := c.messages.Get(ctx, id)
	if err != nil {
		return c.fail("delete", err)
	}
	// Messages never change author, so this check cannot go stale before the
	// delete lands.
	if msg.AuthorID != session.UID {
		return c.fail("delete", ErrNotAuthor)
	}

	if err := c.messages.Delete(ctx, id); err != nil {
		return c.fail("delete", err)
	}
	return nil
}

func (c *Controller) currentSession() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) handleSession(session *model.Session) {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	// A refreshed token for the same user keeps the live feed.
	if session != nil && c.session != nil && c.session.UID == session.UID && c.stopFeed != nil {
		c.session = session
		c.mu.Unlock()
		c.publish()
		return
	}
	c.generation++
	generation := c.generation
	c.session = session
	c.list = nil
	c.scrollTarget = ""
	stopFeed := c.stopFeed
	c.stopFeed = nil
	ctx := c.ctx
	c.mu.Unlock()

	if stopFeed != nil {
		stopFeed()
	}
	c.publish()

	if session == nil {
		return
	}

	stop, err := c.feed.SubscribeAll(ctx, func(messages []model.Message, err error) {
		c.handleSnapshot(generation, messages, err)
	})
	if err != nil {
		c.fail("subscribe", err)
		return
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		stop()
		return
	}
	c.stopFeed = stop
	c.mu.Unlock()
}

func (c *Controller) handleSnapshot(generation int, messages []model.Message, err error) {
	if err != nil {
		c.mu.Lock()
		current := c.generation == generation
		if current {
			// The subscription has already ended; signing in again starts a
			// new one.
			c.stopFeed = nil
		}
		c.mu.Unlock()
		if current {
			c.fail("subscribe", err)
		}
		return
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return
	}
	c.list = messages
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) publish() {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	screen := Render(c.session, c.list)
	if c.scrollTarget != "" {
		screen.ScrollToLatest = true
		if lo.ContainsBy(c.list, func(m model.Message) bool { return m.ID == c.scrollTarget }) {
			c.scrollTarget = ""
		}
	}
	c.mu.Unlock()

	select {
	case <-c.screens:
	default:
	}
	c.screens <- screen
}

func (c *Controller) fail(action string, err error) error {
	alert := Alert{Action: action, Err: err}
	select {
	case c.alerts <- alert:
	default:
		c.logger.Warn("alert dropped", "action", action, "error", err)
	}
	return alert
}
