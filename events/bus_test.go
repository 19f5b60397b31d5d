package events

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/DevHatRo/clamav-instream-go/filestore"
	"github.com/DevHatRo/clamav-instream-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindReplacesSameName(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var calls []string
	b.Bind(TopicUpload, "a", func(context.Context, *clamav.UploadEvent) { calls = append(calls, "a1") })
	b.Bind(TopicUpload, "b", func(context.Context, *clamav.UploadEvent) { calls = append(calls, "b") })
	b.Bind(TopicUpload, "a", func(context.Context, *clamav.UploadEvent) { calls = append(calls, "a2") })

	assert.Equal(t, []string{"a", "b"}, b.Handlers(TopicUpload))

	b.Trigger(context.Background(), TopicUpload, &clamav.UploadEvent{})
	assert.Equal(t, []string{"a2", "b"}, calls)

	b.Unbind(TopicUpload, "a")
	b.Unbind(TopicUpload, "missing")
	assert.Equal(t, []string{"b"}, b.Handlers(TopicUpload))
}

func TestTriggerOtherTopic(t *testing.T) {
	b := NewBus()
	defer b.Close()

	called := false
	b.Bind("other", "h", func(context.Context, *clamav.UploadEvent) { called = true })
	b.Trigger(context.Background(), TopicUpload, &clamav.UploadEvent{})
	assert.False(t, called)
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := NewBus()
	defer b.Close()

	after := false
	b.Bind(TopicUpload, "bad", func(context.Context, *clamav.UploadEvent) { panic("boom") })
	b.Bind(TopicUpload, "good", func(context.Context, *clamav.UploadEvent) { after = true })

	assert.NotPanics(t, func() {
		b.Trigger(context.Background(), TopicUpload, &clamav.UploadEvent{})
	})
	assert.True(t, after)
}

func TestTriggerAsync(t *testing.T) {
	b := NewBus(WithWorkers(3))

	var n atomic.Int32
	b.OnFileUploaded("count", func(context.Context, *clamav.UploadEvent) { n.Add(1) })

	for i := 0; i < 50; i++ {
		require.NoError(t, b.TriggerAsync(context.Background(), TopicUpload, &clamav.UploadEvent{}))
	}
	b.Wait()
	assert.Equal(t, int32(50), n.Load())

	b.Close()
	b.Close()
	assert.ErrorIs(t, b.TriggerAsync(context.Background(), TopicUpload, &clamav.UploadEvent{}), ErrClosed)
}

func TestTriggerAsyncCanceled(t *testing.T) {
	b := NewBus(WithWorkers(1))
	defer b.Close()

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once
	b.OnFileUploaded("block", func(context.Context, *clamav.UploadEvent) {
		once.Do(started.Done)
		<-release
	})

	require.NoError(t, b.TriggerAsync(context.Background(), TopicUpload, &clamav.UploadEvent{}))
	started.Wait()
	// The single worker is busy; this one fills the queue.
	require.NoError(t, b.TriggerAsync(context.Background(), TopicUpload, &clamav.UploadEvent{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.TriggerAsync(ctx, TopicUpload, &clamav.UploadEvent{}), context.Canceled)

	close(release)
	b.Wait()
}

func TestScannerOnBus(t *testing.T) {
	srv := testutil.NewServer(testutil.ReplyInfected)
	defer srv.Close()

	ctx := context.Background()
	store := filestore.NewMemory()
	f, err := store.Put(ctx, "eicar.com", strings.NewReader("X5O!P%@AP"))
	require.NoError(t, err)

	b := NewBus()
	defer b.Close()

	settings := map[string]string{clamav.SettingHostPort: srv.HostPort()}
	s := clamav.NewScanner(nil, mapSettings(settings), store)
	s.Register(b)

	var seen *clamav.File
	seenCalled := false
	b.OnFileUploaded("downstream", func(_ context.Context, ev *clamav.UploadEvent) {
		seenCalled = true
		seen = ev.File
	})

	ev := &clamav.UploadEvent{File: &clamav.File{ID: f.ID}}
	require.NoError(t, b.TriggerAsync(ctx, TopicUpload, ev))
	b.Wait()

	assert.True(t, seenCalled)
	assert.Nil(t, seen, "downstream handler must observe no file after rejection")
	loaded, err := store.Load(ctx, f.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

type mapSettings map[string]string

func (m mapSettings) Get(key string) string { return m[key] }
