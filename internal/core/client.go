package core

import (
	"sync"

	"github.com/dkeye/callrelay/internal/domain"
)

// Client is one live connection and the identity it announced, if any.
// The connection is owned by the adapter; Client only references it.
type Client struct {
	conn SignalConnection

	mu   sync.RWMutex
	user *domain.User
}

func NewClient(conn SignalConnection) *Client {
	return &Client{conn: conn}
}

func (c *Client) ConnID() string { return c.conn.ID() }

// User returns the bound identity.
func (c *Client) User() (*domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.user != nil
}

// UserID is a shorthand for User when only the id matters.
func (c *Client) UserID() (domain.UserID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return 0, false
	}
	return c.user.ID, true
}

func (c *Client) Bind(u *domain.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// Unbind clears the identity and returns what was bound.
func (c *Client) Unbind() (*domain.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.user
	c.user = nil
	return u, u != nil
}

// UnbindIf clears the identity only while it is still uid.
func (c *Client) UnbindIf(uid domain.UserID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil || c.user.ID != uid {
		return false
	}
	c.user = nil
	return true
}

func (c *Client) Send(f Frame) error { return c.conn.TrySend(f) }

func (c *Client) Close() { c.conn.Close() }
