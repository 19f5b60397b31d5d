// Package notify delivers scanner notifications to users.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Center keeps notifications in memory until they expire.
// It implements clamav.Notifier and is safe for concurrent use.
type Center struct {
	mu    sync.Mutex
	items []clamav.Notification
	now   func() time.Time
}

// NewCenter returns an empty Center.
func NewCenter() *Center {
	return &Center{now: time.Now}
}

// CreateNotification stores n, assigning an id if it has none.
func (c *Center) CreateNotification(_ context.Context, n clamav.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, n)
	return nil
}

// ForUser returns the unexpired notifications for userID, oldest expiry
// first. An empty userID selects notifications with no user.
func (c *Center) ForUser(userID string) []clamav.Notification {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []clamav.Notification
	for _, n := range c.items {
		if !n.Expires.After(now) {
			continue
		}
		id := ""
		if n.User != nil {
			id = n.User.ID
		}
		if id == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Expires.Before(out[j].Expires) })
	return out
}

// Prune drops expired notifications and returns how many were dropped.
func (c *Center) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.items[:0]
	for _, n := range c.items {
		if n.Expires.After(now) {
			kept = append(kept, n)
		}
	}
	dropped := len(c.items) - len(kept)
	c.items = kept
	return dropped
}

// Len returns the number of stored notifications, expired or not.
func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Log writes notifications to a logger. It suits headless deployments
// where nobody reads an inbox.
type Log struct {
	Logger zerolog.Logger
}

// CreateNotification logs n at warn level.
func (l Log) CreateNotification(_ context.Context, n clamav.Notification) error {
	ev := l.Logger.Warn().
		Str("type", n.Type).
		Str("title", n.Data.Title).
		Str("state", string(n.Data.State)).
		Time("expires", n.Expires)
	if n.User != nil {
		ev = ev.Str("user", n.User.ID)
	}
	ev.Msg(n.Data.Message)
	return nil
}

// Multi fans a notification out to several notifiers and returns the first error.
type Multi []clamav.Notifier

// CreateNotification sends n to every notifier.
func (m Multi) CreateNotification(ctx context.Context, n clamav.Notification) error {
	var first error
	for _, nt := range m {
		if err := nt.CreateNotification(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}
