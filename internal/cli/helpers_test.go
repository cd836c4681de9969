package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/config"
)

// testOptions returns root options with the default configuration. HOME
// points at an empty directory so no user file is read.
func testOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return &RootOptions{Format: format, Config: cfg}
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// decodeResponse parses a JSON envelope, decoding its data into data.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

// writeModels writes a CUE package of models into a fresh directory.
func writeModels(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package models\n\n"+body), 0o644))
	}
	return dir
}

const partnerModels = `
model: "mail.partner": {
	identity: ["id"]
	fields: {
		id: {}
		display_name: {default: ""}
		messagesAsAuthor: {relation: "one2many", target: "mail.message", inverse: "author"}
	}
}
`

const messageModels = `
model: "mail.message": {
	identity: ["id"]
	fields: {
		id: {}
		body: {default: ""}
		author: {relation: "many2one", target: "mail.partner", inverse: "messagesAsAuthor"}
		isEmpty: {
			default: true
			compute: "computeIsEmpty"
			dependencies: ["body"]
		}
	}
}
`

// writeSteps writes a JSON Lines steps file.
func writeSteps(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steps.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// rpcServer answers every call with result and records the called paths.
type rpcServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

func newRPCServer(t *testing.T, result string) *rpcServer {
	t.Helper()
	s := &rpcServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *rpcServer) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}
