package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalTrace(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Step: StepFetch, Lists: 2, Tasks: 0, Fetches: 1},
		{Seq: 2, Step: StepFetch, Code: "TRANSPORT", Fetches: 2},
		{Seq: 3, Step: StepCreate, Name: "c1", Kind: "lists", TempID: "tmp-2", ServerID: "srv-1", Status: "fulfilled"},
	}

	got, err := MarshalTrace(trace)
	require.NoError(t, err)
	assert.Equal(t,
		`{"fetches":1,"lists":2,"seq":1,"step":"fetch","tasks":0}`+"\n"+
			`{"code":"TRANSPORT","seq":2,"step":"fetch"}`+"\n"+
			`{"kind":"lists","name":"c1","seq":3,"server_id":"srv-1","status":"fulfilled","step":"create","temp_id":"tmp-2"}`+"\n",
		string(got))
}

func TestMarshalTrace_Empty(t *testing.T) {
	got, err := MarshalTrace(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
