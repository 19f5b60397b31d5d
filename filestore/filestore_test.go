package filestore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/DevHatRo/clamav-instream-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type store interface {
	clamav.FileStore
	Put(ctx context.Context, name string, r io.Reader) (*clamav.File, error)
	List(ctx context.Context) ([]clamav.File, error)
}

func stores(t *testing.T) map[string]store {
	t.Helper()
	local, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	return map[string]store{
		"local":  local,
		"memory": NewMemory(),
	}
}

func readAll(t *testing.T, s store, f *clamav.File) string {
	t.Helper()
	rc, err := s.Open(context.Background(), f)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestStores(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f, err := s.Put(ctx, "report.txt", strings.NewReader("quarterly numbers"))
			require.NoError(t, err)
			assert.NotEmpty(t, f.ID)
			assert.Equal(t, "report.txt", f.Name)
			assert.Equal(t, int64(17), f.Size)

			loaded, err := s.Load(ctx, f.ID)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, *f, *loaded)
			assert.Equal(t, "quarterly numbers", readAll(t, s, loaded))

			missing, err := s.Load(ctx, "does-not-exist")
			require.NoError(t, err)
			assert.Nil(t, missing)

			other, err := s.Put(ctx, "another.txt", strings.NewReader(""))
			require.NoError(t, err)
			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "another.txt", list[0].Name)

			require.NoError(t, s.Remove(ctx, f))
			gone, err := s.Load(ctx, f.ID)
			require.NoError(t, err)
			assert.Nil(t, gone)

			_, err = s.Open(ctx, f)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Remove(ctx, f), ErrNotFound)

			assert.Equal(t, "", readAll(t, s, other))
		})
	}
}

func TestLocalReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l, err := OpenLocal(dir)
	require.NoError(t, err)
	f, err := l.Put(ctx, "kept.bin", strings.NewReader("persisted"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = OpenLocal(dir)
	require.NoError(t, err)
	defer l.Close()

	loaded, err := l.Load(ctx, f.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "persisted", readAll(t, l, loaded))
}

func TestLocalPathEscape(t *testing.T) {
	l, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Open(context.Background(), &clamav.File{ID: "../index.db"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScannerWithLocalStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		reply    []byte
		wantKept bool
	}{
		{name: "clean", reply: testutil.ReplyClean, wantKept: true},
		{name: "infected", reply: testutil.ReplyInfected, wantKept: false},
		{name: "error", reply: testutil.ReplyError, wantKept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewServer(tt.reply)
			defer srv.Close()

			l, err := OpenLocal(t.TempDir())
			require.NoError(t, err)
			defer l.Close()

			f, err := l.Put(ctx, "upload.bin", strings.NewReader("payload bytes"))
			require.NoError(t, err)

			settings := map[string]string{
				clamav.SettingHostPort:        srv.HostPort(),
				clamav.SettingResponseTimeout: "2",
			}
			s := clamav.NewScanner(nil, mapSettings(settings), l)

			ev := &clamav.UploadEvent{File: &clamav.File{ID: f.ID}}
			start := time.Now()
			s.ScanOnUpload(ctx, ev)
			assert.Less(t, time.Since(start), 5*time.Second)

			loaded, err := l.Load(ctx, f.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKept, loaded != nil)
			assert.Equal(t, tt.wantKept, ev.File != nil)
			assert.Equal(t, "payload bytes", string(srv.Sessions()[0].Payload()))
		})
	}
}

type mapSettings map[string]string

func (m mapSettings) Get(key string) string { return m[key] }
