package clamav

import (
	"context"
	"io"
	"time"
)

// File is a reference to a stored object. It is owned by the FileStore and
// only borrowed for the duration of a scan.
type File struct {
	// ID is the store-assigned identifier.
	ID string `json:"id"`
	// Name is the user-visible file name.
	Name string `json:"name"`
	// Size is the content length in bytes, if known.
	Size int64 `json:"size,omitempty"`
}

// User identifies the user that triggered an upload.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login,omitempty"`
}

// UploadEvent is dispatched when a file has been uploaded.
// Either field may be nil. The scanner sets File to nil when it deletes an
// infected upload so later handlers observe no file.
type UploadEvent struct {
	File        *File
	CurrentUser *User
}

// UploadHandler handles an UploadEvent.
type UploadHandler func(ctx context.Context, ev *UploadEvent)

// EventBus delivers upload events to registered handlers.
type EventBus interface {
	// OnFileUploaded registers h under name, replacing any handler
	// already registered under the same name.
	OnFileUploaded(name string, h UploadHandler)
}

// FileStore loads, opens and removes stored files.
type FileStore interface {
	// Load returns the file with the given id, or nil if there is none.
	Load(ctx context.Context, id string) (*File, error)
	// Open returns a sequential reader of the file content.
	Open(ctx context.Context, f *File) (io.ReadCloser, error)
	// Remove deletes the file and its content.
	Remove(ctx context.Context, f *File) error
}

// ProgressState is the severity state of a progress notification.
type ProgressState string

const (
	ProgressQueued  ProgressState = "queued"
	ProgressActive  ProgressState = "active"
	ProgressSuccess ProgressState = "success"
	ProgressError   ProgressState = "error"
)

// NotificationTypeProgress is the notification type used for scan results.
const NotificationTypeProgress = "progress"

// ProgressData is the payload of a progress notification.
type ProgressData struct {
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Total   int           `json:"total"`
	Current int           `json:"current"`
	State   ProgressState `json:"state"`
}

// Notification is a time-boxed message for a user.
type Notification struct {
	ID      string       `json:"id,omitempty"`
	Type    string       `json:"type"`
	Data    ProgressData `json:"data"`
	User    *User        `json:"user,omitempty"`
	Expires time.Time    `json:"expires"`
}

// Notifier delivers notifications.
type Notifier interface {
	CreateNotification(ctx context.Context, n Notification) error
}
