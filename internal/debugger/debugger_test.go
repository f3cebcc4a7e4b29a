package debugger

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sssooonnnggg/luaud/internal/config"
	"github.com/sssooonnnggg/luaud/internal/logging"
)

func newDebugger(t *testing.T, cfg *config.Config) *Debugger {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	log := logging.New(logging.Config{Outputs: []io.Writer{io.Discard}})
	t.Cleanup(log.Close)
	d := New(cfg, log)
	d.Initialize(d.VM.MainThread())
	return d
}

func writeScript(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRunEntryCompletesWithoutClient(t *testing.T) {
	d := newDebugger(t, nil)
	path := writeScript(t, "main.lua", "local x = 1\nlocal y = x + 1\n")
	require.NoError(t, d.RunEntry(path))
}

func TestRunEntryReportsScriptError(t *testing.T) {
	d := newDebugger(t, nil)
	path := writeScript(t, "bad.lua", "local x = nil\nlocal y = x.field\n")
	require.Error(t, d.RunEntry(path))
}

func TestLoadScriptNormalizesChunkName(t *testing.T) {
	d := newDebugger(t, nil)
	path := writeScript(t, "main.lua", "local x = 1\n")
	proto, err := d.LoadScript(path, true)
	require.NoError(t, err)
	assert.Equal(t, d.Paths.Normalize(path), proto.Source)
	assert.Equal(t, d.Paths.Normalize(path), d.Paths.Entry())
}

func TestLoadScriptMissingFileIsHostError(t *testing.T) {
	d := newDebugger(t, nil)
	_, err := d.LoadScript("/does/not/exist.lua", false)
	require.Error(t, err)
}

func TestFromThreadRecoversDebugger(t *testing.T) {
	d := newDebugger(t, nil)
	got, ok := FromThread(d.VM.MainThread())
	require.True(t, ok)
	assert.Same(t, d, got)
}

func TestListenAndStop(t *testing.T) {
	d := newDebugger(t, nil)
	require.NoError(t, d.Listen(0))
	d.Stop()
}

func TestListenPortCollisionIsHostError(t *testing.T) {
	d := newDebugger(t, nil)
	require.NoError(t, d.Listen(0))
	defer d.Stop()

	d2 := newDebugger(t, nil)
	_, portStr, err := net.SplitHostPort(d.server.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	require.Error(t, d2.Listen(port))
}
