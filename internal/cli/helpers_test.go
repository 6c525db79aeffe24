package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// fixtureSnapshot has three lists owned by alice:
//
//	Archive   (11:00) one completed task
//	Groceries (12:00) one completed task, one open task
//	Chores    (12:01) no tasks
const fixtureSnapshot = `{
  "lists": {
    "byId": {
      "L1": {"id": "L1", "title": "Groceries", "createdAt": "2024-03-01T12:00:00Z", "ownerId": "alice"},
      "L2": {"id": "L2", "title": "Chores", "createdAt": "2024-03-01T12:01:00Z", "ownerId": "alice"},
      "L3": {"id": "L3", "title": "Archive", "createdAt": "2024-03-01T11:00:00Z", "ownerId": "alice"}
    },
    "order": ["L1", "L2", "L3"]
  },
  "tasks": {
    "byId": {
      "T1": {"id": "T1", "title": "Milk", "completed": true, "completedAt": "2024-03-01T13:00:00Z", "listId": "L1", "createdAt": "2024-03-01T12:05:00Z"},
      "T2": {"id": "T2", "title": "Eggs", "description": "free range", "completed": false, "listId": "L1", "createdAt": "2024-03-01T12:06:00Z"},
      "T3": {"id": "T3", "title": "Taxes 2023", "completed": true, "completedAt": "2024-02-01T09:00:00Z", "listId": "L3", "createdAt": "2024-01-15T09:00:00Z"}
    },
    "order": ["T1", "T2", "T3"]
  }
}`

// cliEnv is a scratch directory with a database path and shared options.
type cliEnv struct {
	t    *testing.T
	dir  string
	db   string
	opts *RootOptions
}

func newEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	return &cliEnv{
		t:    t,
		dir:  dir,
		db:   filepath.Join(dir, "tasksync.db"),
		opts: &RootOptions{Format: FormatText},
	}
}

// run executes the command built by newCmd with args and returns stdout.
func (e *cliEnv) run(newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	e.t.Helper()
	cmd := newCmd(e.opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// runJSON is run with --format json.
func (e *cliEnv) runJSON(newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	e.t.Helper()
	prev := e.opts.Format
	e.opts.Format = FormatJSON
	defer func() { e.opts.Format = prev }()
	return e.run(newCmd, args...)
}

// writeFile writes content under the scratch directory and returns its path.
func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// importFixture stores fixtureSnapshot as the default snapshot.
func (e *cliEnv) importFixture() {
	e.t.Helper()
	path := e.writeFile("fixture.json", fixtureSnapshot)
	_, err := e.run(NewImportCommand, path, "--db", e.db)
	require.NoError(e.t, err)
}

type response[T any] struct {
	Status string         `json:"status"`
	Data   T              `json:"data"`
	Error  *ResponseError `json:"error"`
}

func decodeResponse[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}
