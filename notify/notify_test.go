package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threat(user *clamav.User, expires time.Time) clamav.Notification {
	return clamav.Notification{
		Type: clamav.NotificationTypeProgress,
		Data: clamav.ProgressData{
			Title:   "Security threat found",
			Message: "File eicar.com deleted.",
			Total:   1,
			Current: 1,
			State:   clamav.ProgressError,
		},
		User:    user,
		Expires: expires,
	}
}

func TestCenter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCenter()
	c.now = func() time.Time { return now }

	alice := &clamav.User{ID: "alice"}
	require.NoError(t, c.CreateNotification(ctx, threat(alice, now.Add(30*time.Second))))
	require.NoError(t, c.CreateNotification(ctx, threat(alice, now.Add(10*time.Second))))
	require.NoError(t, c.CreateNotification(ctx, threat(nil, now.Add(30*time.Second))))
	require.NoError(t, c.CreateNotification(ctx, threat(&clamav.User{ID: "bob"}, now.Add(-time.Second))))

	got := c.ForUser("alice")
	require.Len(t, got, 2)
	assert.True(t, got[0].Expires.Before(got[1].Expires))
	assert.NotEmpty(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)

	assert.Len(t, c.ForUser(""), 1)
	assert.Empty(t, c.ForUser("bob"), "expired notifications are hidden")

	now = now.Add(20 * time.Second)
	assert.Len(t, c.ForUser("alice"), 1)

	assert.Equal(t, 2, c.Prune())
	assert.Equal(t, 2, c.Len())

	now = now.Add(time.Minute)
	assert.Equal(t, 2, c.Prune())
	assert.Equal(t, 0, c.Len())
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := Log{Logger: zerolog.New(&buf)}

	expires := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	require.NoError(t, l.CreateNotification(context.Background(), threat(&clamav.User{ID: "alice"}, expires)))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "File eicar.com deleted.", entry["message"])
	assert.Equal(t, "alice", entry["user"])
	assert.Equal(t, "error", entry["state"])
	assert.Equal(t, "Security threat found", entry["title"])
}

type failing struct{ err error }

func (f failing) CreateNotification(context.Context, clamav.Notification) error { return f.err }

func TestMulti(t *testing.T) {
	c := NewCenter()
	boom := errors.New("boom")
	m := Multi{failing{err: boom}, c, failing{err: errors.New("second")}}

	err := m.CreateNotification(context.Background(), threat(nil, time.Now().Add(time.Minute)))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.Len(), "later notifiers still run after an error")
}
