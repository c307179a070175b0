// Package auth gates chat access on an identity-provider session.
package auth

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/shuymn-sandbox/firechat/internal/model"
)

// Provider is the part of the Firebase Auth client the gateway needs.
// *auth.Client satisfies it.
type Provider interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

type SessionFunc func(session *model.Session)

type Option func(*Gateway)

// WithRevokeOnSignOut revokes the user's refresh tokens on sign-out, which
// ends the session on every device rather than only this one.
func WithRevokeOnSignOut(revoke bool) Option {
	return func(g *Gateway) {
		g.revoke = revoke
	}
}

// Gateway owns one session. Listeners are notified in order of changes.
type Gateway struct {
	provider Provider
	revoke   bool

	mu        sync.Mutex
	session   *model.Session
	listeners map[int]SessionFunc
	nextID    int

	// notifyMu serializes change-and-notify so listeners observe changes in
	// the order they happened.
	notifyMu sync.Mutex
}

func NewGateway(provider Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider:  provider,
		listeners: make(map[int]SessionFunc),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SignIn verifies an ID token obtained from the provider's sign-in flow and
// makes it the current session.
func (g *Gateway) SignIn(ctx context.Context, idToken string) (*model.Session, error) {
	token, err := g.provider.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	session := &model.Session{UID: token.UID}
	if picture, ok := token.Claims["picture"].(string); ok {
		session.PhotoURI = picture
	}

	g.set(session)
	return session, nil
}

func (g *Gateway) SignOut(ctx context.Context) error {
	current := g.Current()
	if current == nil {
		return nil
	}

	if g.revoke {
		if err := g.provider.RevokeRefreshTokens(ctx, current.UID); err != nil {
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
	}

	g.set(nil)
	return nil
}

func (g *Gateway) Current() *model.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copySession(g.session)
}

// OnSessionChange calls fn with the current session right away and again
// after every change. The returned func removes fn.
func (g *Gateway) OnSessionChange(fn SessionFunc) func() {
	g.notifyMu.Lock()
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	current := copySession(g.session)
	g.mu.Unlock()

	fn(current)
	g.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.listeners, id)
			g.mu.Unlock()
		})
	}
}

func (g *Gateway) set(session *model.Session) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	g.session = session
	listeners := make([]SessionFunc, 0, len(g.listeners))
	for _, id := range slices.Sorted(maps.Keys(g.listeners)) {
		listeners = append(listeners, g.listeners[id])
	}
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(copySession(session))
	}
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
