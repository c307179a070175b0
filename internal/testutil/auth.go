package testutil

import (
	"context"
	"errors"
	"sync"

	fbauth "firebase.google.com/go/v4/auth"
)

var ErrInvalidToken = errors.New("invalid id token")

// Provider stands in for the Firebase Auth client. Tokens map to identities
// registered with AddUser.
type Provider struct {
	mu      sync.Mutex
	users   map[string]*fbauth.Token
	revoked []string
}

func NewProvider() *Provider {
	return &Provider{users: make(map[string]*fbauth.Token)}
}

func (p *Provider) AddUser(idToken, uid, photoURI string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	claims := map[string]interface{}{}
	if photoURI != "" {
		claims["picture"] = photoURI
	}
	p.users[idToken] = &fbauth.Token{UID: uid, Subject: uid, Claims: claims}
}

func (p *Provider) VerifyIDToken(_ context.Context, idToken string) (*fbauth.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	token, ok := p.users[idToken]
	if !ok {
		return nil, ErrInvalidToken
	}
	return token, nil
}

func (p *Provider) RevokeRefreshTokens(_ context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.revoked = append(p.revoked, uid)
	return nil
}

func (p *Provider) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}
