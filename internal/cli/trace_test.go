package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/model"
)

// seedJournal runs a fulfilled list create, a fulfilled task update and a
// rejected task update against the fixture.
func seedJournal(t *testing.T, env *cliEnv) {
	t.Helper()
	env.importFixture()
	_, err := env.run(NewDoCommand, "create", "lists", "--db", env.db, "--actor", "alice", "--set", "title=Garden")
	require.NoError(t, err)
	_, err = env.run(NewDoCommand, "update", "tasks", "T2", "--db", env.db, "--actor", "alice", "--set", "completed=true")
	require.NoError(t, err)
	_, err = env.run(NewDoCommand, "update", "tasks", "T9", "--db", env.db, "--actor", "alice", "--set", "title=Ghost")
	require.Error(t, err)
}

func TestTraceCommand_Empty(t *testing.T) {
	env := newEnv(t)

	out, err := env.run(NewTraceCommand, "--db", env.db)
	require.NoError(t, err)
	assert.Equal(t, "(no mutations)\n", out)
}

func TestTraceCommand_JSON(t *testing.T) {
	env := newEnv(t)
	seedJournal(t, env)

	out, err := env.runJSON(NewTraceCommand, "--db", env.db)
	require.NoError(t, err)

	resp := decodeResponse[TraceResult](t, out)
	assert.Equal(t, TraceStats{Total: 3, Fulfilled: 2, Rejected: 1}, resp.Data.Stats)
	require.Len(t, resp.Data.Mutations, 3)
	for i, rec := range resp.Data.Mutations {
		assert.Equal(t, int64(i+1), rec.Seq)
	}
	assert.Equal(t, model.OpCreate, resp.Data.Mutations[0].Op)
	assert.NotEmpty(t, resp.Data.Mutations[0].ServerID)
	assert.Equal(t, model.ErrCodeNotFound, resp.Data.Mutations[2].ErrorCode)
}

func TestTraceCommand_Filters(t *testing.T) {
	env := newEnv(t)
	seedJournal(t, env)

	tests := []struct {
		name string
		args []string
		want []int64
	}{
		{"kind", []string{"--kind", "tasks"}, []int64{2, 3}},
		{"status", []string{"--status", "rejected"}, []int64{3}},
		{"kind and status", []string{"--kind", "lists", "--status", "rejected"}, []int64{}},
		{"limit keeps the newest", []string{"--limit", "2"}, []int64{2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.runJSON(NewTraceCommand, append([]string{"--db", env.db}, tt.args...)...)
			require.NoError(t, err)
			resp := decodeResponse[TraceResult](t, out)
			seqs := []int64{}
			for _, rec := range resp.Data.Mutations {
				seqs = append(seqs, rec.Seq)
			}
			assert.Equal(t, tt.want, seqs)
			assert.Equal(t, len(tt.want), resp.Data.Stats.Total)
		})
	}
}

func TestTraceCommand_Text(t *testing.T) {
	env := newEnv(t)
	seedJournal(t, env)

	out, err := env.run(NewTraceCommand, "--db", env.db)
	require.NoError(t, err)
	assert.Contains(t, out, "fulfilled  create lists")
	assert.Contains(t, out, "fulfilled  update tasks  T2")
	assert.Contains(t, out, "rejected   update tasks  T9")
	assert.Contains(t, out, "NOT_FOUND: ")
	assert.Contains(t, out, "3 mutations: 2 fulfilled, 1 rejected, 0 unsettled")
}
