package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tasksync/internal/model"
)

// MarshalTrace renders a trace as canonical JSON, one event per line.
// Empty fields are omitted, so the output only changes when behavior does.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, event := range trace {
		line, err := model.MarshalCanonical(event.canonicalMap())
		if err != nil {
			return nil, fmt.Errorf("marshal trace event %d: %w", event.Seq, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// canonicalMap converts an event to the map form MarshalCanonical accepts.
func (e TraceEvent) canonicalMap() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"step": e.Step,
	}
	for k, v := range map[string]string{
		"name":      e.Name,
		"kind":      e.Kind,
		"op":        e.Op,
		"id":        e.ID,
		"temp_id":   e.TempID,
		"server_id": e.ServerID,
		"status":    e.Status,
		"code":      e.Code,
		"reason":    e.Reason,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if e.Step == StepFetch && e.Code == "" {
		m["lists"] = e.Lists
		m["tasks"] = e.Tasks
		m["fetches"] = e.Fetches
	}
	return m
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// The scenario must pass; a failing result fails the test before the
// golden comparison.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		for _, msg := range result.Errors {
			t.Error(msg)
		}
		return fmt.Errorf("scenario %s failed", scenario.Name)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
