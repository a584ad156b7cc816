package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/totegamma/cozykost"
)

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Token
}

// CurrentUserID reports the signed in user.
func (c *Client) CurrentUserID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Token == "" || c.session.UserID == "" {
		return "", false
	}
	return c.session.UserID, true
}

func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.session.Token != ""
}

// OnAuthChange registers fn to run after every sign in and sign out.
func (c *Client) OnAuthChange(fn func(userID string, ok bool)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SetSession replaces the active session and notifies listeners.
func (c *Client) SetSession(session Session) {
	c.mu.Lock()
	c.session = session
	listeners := make([]func(string, bool), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.dropSnapshots()

	ok := session.Token != "" && session.UserID != ""
	for _, fn := range listeners {
		fn(session.UserID, ok)
	}
}

func (c *Client) Signup(ctx context.Context, req cozykost.SignupRequest) (cozykost.Profile, error) {
	req.Email = strings.TrimSpace(req.Email)

	var profile cozykost.Profile
	err := c.call(ctx, request{method: http.MethodPost, path: "/api/v1/signup", body: req}, &profile)
	return profile, err
}

// Login exchanges credentials for a session token and makes it the active session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	req := cozykost.LoginRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
	}

	var res cozykost.LoginResponse
	if err := c.call(ctx, request{method: http.MethodPost, path: "/api/v1/login", body: req}, &res); err != nil {
		return Session{}, err
	}

	session := Session{UserID: res.UserID, Token: res.Token}
	c.SetSession(session)
	return session, nil
}

// Logout forgets the session. Collections built on this client drop their caches.
func (c *Client) Logout() {
	c.SetSession(Session{})
}
