package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/DevHatRo/clamav-instream-go/internal/testutil"
	"github.com/DevHatRo/clamav-instream-go/settings"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errInfected))
	assert.Equal(t, 1, exitCode(fmt.Errorf("scan: %w", errInfected)))
	assert.Equal(t, 2, exitCode(os.ErrNotExist))
}

func TestPrintOutcome(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"stream: OK", "f: OK\n"},
		{"stream: Eicar-Signature FOUND", "f: FOUND Eicar-Signature\n"},
		{"INSTREAM size limit exceeded. ERROR", "f: UNKNOWN \"INSTREAM size limit exceeded. ERROR\"\n"},
		{"stream: read failed: ERROR", "f: ERROR stream: read failed: ERROR\n"},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			var buf bytes.Buffer
			printOutcome(&buf, "f", clamav.Interpret([]byte(tt.reply)))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrintSettings(t *testing.T) {
	m := settings.NewMemory()
	require.NoError(t, m.Set(clamav.SettingHostPort, "scanner:4000"))
	require.NoError(t, m.Set(clamav.SettingResponseTimeout, "2.5"))

	var buf bytes.Buffer
	printSettings(&buf, m, settings.Keys)

	assert.Equal(t,
		"clamav.host_port = scanner:4000 -> scanner:4000\n"+
			"clamav.max_scan_length = (unset) -> 67108864\n"+
			"clamav.connection_timeout = (unset) -> 30s\n"+
			"clamav.response_timeout = 2.5 -> 2.5s\n",
		buf.String())
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(append([]string{"--env-file", ""}, args...), &out, &errOut)
	return out.String(), err
}

func TestScanCommand(t *testing.T) {
	srv := testutil.NewServer(testutil.ReplyInfected)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "eicar.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	out, err := runCLI(t, "--clamd", srv.HostPort(), "scan", path)
	require.ErrorIs(t, err, errInfected)
	assert.Contains(t, out, "FOUND")
	require.Len(t, srv.Sessions(), 1)
	assert.Equal(t, []byte("payload"), srv.Sessions()[0].Payload())
}

func TestUploadCommandRejectsInfected(t *testing.T) {
	srv := testutil.NewServer(testutil.ReplyInfected)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "upload.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	out, err := runCLI(t, "--clamd", srv.HostPort(), "upload", "--store", filepath.Join(dir, "store"), "--user", "alice", path)
	require.ErrorIs(t, err, errInfected)
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, "Security threat found:")
}

func TestUploadCommandFailsOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	out, err := runCLI(t, "--clamd", testutil.ClosedAddr(), "upload", "--store", filepath.Join(dir, "store"), path)
	require.NoError(t, err)
	assert.Contains(t, out, "stored")
}

func TestSettingsCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "settings.db")

	_, err := runCLI(t, "settings", "set", clamav.SettingMaxScanLength, "1024")
	require.ErrorIs(t, err, errNoSettingsDB)

	_, err = runCLI(t, "--settings-db", db, "settings", "set", clamav.SettingMaxScanLength, "1024")
	require.NoError(t, err)

	_, err = runCLI(t, "--settings-db", db, "settings", "set", clamav.SettingHostPort, "nocolon")
	require.Error(t, err)
	assert.True(t, clamav.IsValidationError(err))

	yml := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(yml, []byte("clamav:\n  host_port: scanner:4000\n"), 0o600))
	_, err = runCLI(t, "--settings-db", db, "settings", "import", yml)
	require.NoError(t, err)

	out, err := runCLI(t, "--settings-db", db, "settings", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "clamav.max_scan_length = 1024 -> 1024")
	assert.Contains(t, out, "clamav.host_port = scanner:4000 -> scanner:4000")
}

func TestPipelineInbox(t *testing.T) {
	opts := &options{logger: zerolog.Nop(), override: settings.NewMemory()}

	withInbox, err := newPipeline(opts, filepath.Join(t.TempDir(), "store"), 1, nil, true)
	require.NoError(t, err)
	defer withInbox.Close()
	assert.NotNil(t, withInbox.center)

	logOnly, err := newPipeline(opts, filepath.Join(t.TempDir(), "store"), 1, nil, false)
	require.NoError(t, err)
	defer logOnly.Close()
	assert.Nil(t, logOnly.center, "watch pipelines must not accumulate notifications")
}
