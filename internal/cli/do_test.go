package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/store"
)

func loadMain(t *testing.T, db string) (*store.Store, func()) {
	t.Helper()
	st, err := store.Open(db)
	require.NoError(t, err)
	return st, func() { _ = st.Close() }
}

func TestDoCommand_CreateTask(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	out, err := env.runJSON(NewDoCommand, "create", "tasks", "--db", env.db, "--actor", "alice",
		"--set", "listId=L1", "--set", "title=Bread")
	require.NoError(t, err)

	resp := decodeResponse[DoResult](t, out)
	require.Equal(t, "ok", resp.Status)
	rec := resp.Data.Mutation
	assert.Equal(t, model.StatusFulfilled, rec.Status)
	assert.Equal(t, model.KindTask, rec.Kind)
	assert.Equal(t, int64(1), rec.Seq)
	assert.NotEmpty(t, rec.TempID)
	assert.NotEmpty(t, rec.ServerID)
	assert.NotEqual(t, rec.TempID, rec.ServerID)

	st, done := loadMain(t, env.db)
	defer done()
	state, info, err := st.LoadSnapshot(t.Context(), "main")
	require.NoError(t, err)
	assert.Equal(t, resp.Data.Digest, info.Digest)
	assert.Equal(t, int64(1), info.Seq)

	task, ok := state.Tasks().Get(rec.ServerID)
	require.True(t, ok, "task saved under its server id")
	assert.Equal(t, "Bread", task.Title)
	assert.Equal(t, "L1", task.ListID)
	assert.False(t, state.Tasks().Has(rec.TempID))
}

func TestDoCommand_UpdateAndText(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	out, err := env.run(NewDoCommand, "update", "tasks", "T2", "--db", env.db, "--actor", "alice", "--set", "completed=true")
	require.NoError(t, err)
	assert.Equal(t, "update tasks T2: fulfilled\n", out)

	out, err = env.run(NewViewCommand, "--db", env.db)
	require.NoError(t, err)
	assert.Contains(t, out, "Groceries [L1] 2/2 done")
	assert.Contains(t, out, "[x] Eggs: free range")
}

func TestDoCommand_ClearsDescription(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	_, err := env.run(NewDoCommand, "update", "tasks", "T2", "--db", env.db, "--actor", "alice", "--set", "description=null")
	require.NoError(t, err)

	st, done := loadMain(t, env.db)
	defer done()
	state, _, err := st.LoadSnapshot(t.Context(), "main")
	require.NoError(t, err)
	task, ok := state.Tasks().Get("T2")
	require.True(t, ok)
	assert.Nil(t, task.Description)
}

func TestDoCommand_SequenceContinuesJournal(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	for _, title := range []string{"One", "Two", "Three"} {
		_, err := env.run(NewDoCommand, "create", "lists", "--db", env.db, "--actor", "alice", "--set", "title="+title)
		require.NoError(t, err)
	}

	st, done := loadMain(t, env.db)
	defer done()
	recs, err := st.ReadJournal(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.Equal(t, model.StatusFulfilled, rec.Status)
	}

	state, info, err := st.LoadSnapshot(t.Context(), "main")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Seq)
	assert.Equal(t, 6, state.Lists().Len())
}

func TestDoCommand_Rejected(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	st, done := loadMain(t, env.db)
	_, before, err := st.LoadSnapshot(t.Context(), "main")
	require.NoError(t, err)
	done()

	out, err := env.runJSON(NewDoCommand, "update", "tasks", "T9", "--db", env.db, "--actor", "alice", "--set", "title=Ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse[DoResult](t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRejected, resp.Error.Code)
	assert.Equal(t, model.ErrCodeNotFound, resp.Error.Reason)
	assert.Equal(t, model.StatusRejected, resp.Data.Mutation.Status)

	st, done = loadMain(t, env.db)
	defer done()
	_, after, err := st.LoadSnapshot(t.Context(), "main")
	require.NoError(t, err)
	assert.Equal(t, before.Digest, after.Digest, "a rejected mutation leaves the snapshot alone")

	recs, err := st.ReadJournal(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusRejected, recs[0].Status)
}

func TestDoCommand_NoActor(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	out, err := env.run(NewDoCommand, "create", "lists", "--db", env.db, "--set", "title=Nobody")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "UNAUTHORIZED")
}

func TestDoCommand_ActorFromConfig(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	cfg := config.Default()
	cfg.Database = env.db
	cfg.ActorID = "alice"
	env.opts.cfg = &cfg

	_, err := env.run(NewDoCommand, "update", "lists", "L2", "--set", "title=Housework")
	require.NoError(t, err)

	out, err := env.run(NewViewCommand)
	require.NoError(t, err)
	assert.Contains(t, out, "Housework [L2]")
}

func TestDoCommand_OtherActorCannotSeeLists(t *testing.T) {
	env := newEnv(t)
	env.importFixture()

	_, err := env.run(NewDoCommand, "delete", "lists", "L1", "--db", env.db, "--actor", "mallory")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := env.run(NewViewCommand, "--db", env.db)
	require.NoError(t, err)
	assert.Contains(t, out, "Groceries [L1]")
}

func TestDoCommand_DeleteList(t *testing.T) {
	tests := []struct {
		name      string
		cascade   bool
		wantTasks int
	}{
		{"tasks kept locally", false, 3},
		{"cascade removes tasks", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			env.importFixture()
			cfg := config.Default()
			cfg.Database = env.db
			cfg.CascadeListDelete = tt.cascade
			env.opts.cfg = &cfg

			_, err := env.run(NewDoCommand, "delete", "lists", "L1", "--actor", "alice")
			require.NoError(t, err)

			st, done := loadMain(t, env.db)
			defer done()
			state, _, err := st.LoadSnapshot(t.Context(), "main")
			require.NoError(t, err)
			assert.False(t, state.Lists().Has("L1"))
			assert.Equal(t, tt.wantTasks, state.Tasks().Len())
		})
	}
}

func TestDoCommand_EmptyDatabase(t *testing.T) {
	env := newEnv(t)

	_, err := env.run(NewDoCommand, "create", "lists", "--db", env.db, "--actor", "alice", "--set", "title=First")
	require.NoError(t, err)

	out, err := env.run(NewViewCommand, "--db", env.db)
	require.NoError(t, err)
	assert.Contains(t, out, "First [")
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		sets    []string
		want    engine.Intent
		wantErr string
	}{
		{
			name: "create",
			args: []string{"create", "lists"},
			sets: []string{"title=Groceries"},
			want: engine.CreateList(model.Patch{"title": "Groceries"}),
		},
		{
			name: "update with bool and null",
			args: []string{"update", "tasks", "T1"},
			sets: []string{"completed=false", "description=null"},
			want: engine.UpdateTask("T1", model.Patch{"completed": false, "description": nil}),
		},
		{
			name: "value containing equals",
			args: []string{"update", "tasks", "T1"},
			sets: []string{"title=a=b"},
			want: engine.UpdateTask("T1", model.Patch{"title": "a=b"}),
		},
		{name: "delete", args: []string{"delete", "lists", "L1"}, want: engine.DeleteList("L1")},
		{name: "unknown op", args: []string{"upsert", "lists"}, wantErr: "unknown operation"},
		{name: "unknown kind", args: []string{"create", "projects"}, wantErr: "unknown kind"},
		{name: "create with id", args: []string{"create", "lists", "L1"}, wantErr: "create takes no id"},
		{name: "update without id", args: []string{"update", "lists"}, wantErr: "update needs an id"},
		{name: "delete with fields", args: []string{"delete", "lists", "L1"}, sets: []string{"title=x"}, wantErr: "delete takes no fields"},
		{name: "malformed set", args: []string{"update", "lists", "L1"}, sets: []string{"title"}, wantErr: "want field=value"},
		{name: "bad bool", args: []string{"update", "tasks", "T1"}, sets: []string{"completed=yes please"}, wantErr: "not a boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIntent(tt.args, tt.sets)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, model.IsValidationError(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
