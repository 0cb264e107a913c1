package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// runCLI executes one cerebric invocation with captured IO.
func runCLI(t *testing.T, stdin io.Reader, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	root := NewRootCommandWithIO(stdin, &out, &errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

// fakeDaemon is a stand-in cerebricd REST endpoint. Tests register only
// the routes they exercise.
type fakeDaemon struct {
	mux *http.ServeMux
	ts  *httptest.Server
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &fakeDaemon{mux: mux, ts: ts}
}

func (f *fakeDaemon) url() string { return f.ts.URL }

// isolateDirs points every CEREBRIC_* directory at temp space so local
// commands never touch the developer's real config or data.
func isolateDirs(t *testing.T) (configDir, dataDir string) {
	t.Helper()
	configDir = t.TempDir()
	dataDir = t.TempDir()
	t.Setenv("CEREBRIC_CONFIG_DIR", configDir)
	t.Setenv("CEREBRIC_DATA_DIR", dataDir)
	t.Setenv("CEREBRIC_LOG_DIR", t.TempDir())
	return configDir, dataDir
}
