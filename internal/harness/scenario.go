package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/transport"
	"github.com/roach88/tasksync/internal/view"
)

// DefaultActor is the identity scenarios run as unless they name one.
const DefaultActor = "alice"

// Scenario is one scripted run of the engine against a seeded server.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Actor is the identity the engine acts for. Defaults to DefaultActor.
	Actor string `yaml:"actor,omitempty"`

	// CascadeListDelete enables local cascade of list deletes.
	CascadeListDelete bool `yaml:"cascade_list_delete,omitempty"`

	// Seed is the server's initial content.
	Seed Seed `yaml:"seed"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Expect is checked once every step has run.
	Expect Expect `yaml:"expect"`
}

// Seed is the server's initial content.
type Seed struct {
	Lists []SeedList `yaml:"lists,omitempty"`
	Tasks []SeedTask `yaml:"tasks,omitempty"`
}

// SeedList is a list on the server. Owner defaults to the scenario actor.
type SeedList struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Owner string `yaml:"owner,omitempty"`
}

// SeedTask is a task on the server.
type SeedTask struct {
	ID          string  `yaml:"id"`
	Title       string  `yaml:"title"`
	List        string  `yaml:"list"`
	Description *string `yaml:"description,omitempty"`
	Completed   bool    `yaml:"completed,omitempty"`
}

// Step actions.
const (
	StepFetch   = "fetch"
	StepCreate  = "create"
	StepUpdate  = "update"
	StepDelete  = "delete"
	StepLocal   = "local"
	StepHold    = "hold"
	StepRelease = "release"
	StepFail    = "fail"
	StepWait    = "wait"
)

var knownSteps = []string{
	StepFetch, StepCreate, StepUpdate, StepDelete, StepLocal,
	StepHold, StepRelease, StepFail, StepWait,
}

// Step is one scripted action. Which fields apply depends on Do.
type Step struct {
	// Do is the action, one of the Step* constants.
	Do string `yaml:"do"`

	// Name binds a mutation (create, update, delete) or a hold so later
	// steps can refer to it.
	Name string `yaml:"name,omitempty"`

	// Kind is "lists" or "tasks".
	Kind model.Kind `yaml:"kind,omitempty"`

	// Op selects the server call a hold or fail applies to.
	Op model.Op `yaml:"op,omitempty"`

	// ID is the target entity; $name refers to a bound mutation's entity.
	ID string `yaml:"id,omitempty"`

	// Fields is the patch for create, update and local.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Async submits a mutation without waiting for it to settle.
	Async bool `yaml:"async,omitempty"`

	// Reason is the transport failure injected by fail, or by release to
	// fail the held call.
	Reason transport.Reason `yaml:"reason,omitempty"`

	// Error is the error code the step itself must return.
	Error model.ErrorCode `yaml:"error,omitempty"`

	// Status is the expected settlement of a mutation step or wait.
	Status model.MutationStatus `yaml:"status,omitempty"`

	// Code is the expected error code of a rejected settlement.
	Code model.ErrorCode `yaml:"code,omitempty"`
}

// Expect is the final-state check of a scenario.
type Expect struct {
	// View checks the derived dashboard view.
	View *ViewExpect `yaml:"view,omitempty"`

	// Lists and Tasks check entity fields in the local store (subset match).
	Lists map[string]map[string]any `yaml:"lists,omitempty"`
	Tasks map[string]map[string]any `yaml:"tasks,omitempty"`

	// Absent ids must be in neither local collection.
	Absent []string `yaml:"absent,omitempty"`

	// Stale and Fresh name query cache keys and their required status.
	Stale []string `yaml:"stale,omitempty"`
	Fresh []string `yaml:"fresh,omitempty"`

	// Calls counts server calls by "kind.op", e.g. "lists.create".
	Calls map[string]int `yaml:"calls,omitempty"`
}

// ViewExpect checks the list titles of a derived view, in order.
type ViewExpect struct {
	Params view.Params `yaml:",inline"`
	Titles []string    `yaml:"titles"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Actor == "" {
		scenario.Actor = DefaultActor
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the scenario files under dir (*.yaml and *.yml),
// sorted by path.
func FindScenarios(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find scenarios in %s: %w", dir, err)
	}
	slices.Sort(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for i, l := range s.Seed.Lists {
		if l.ID == "" {
			return fmt.Errorf("seed.lists[%d]: id is required", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("seed.lists[%d]: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = true
	}
	for i, t := range s.Seed.Tasks {
		if t.ID == "" {
			return fmt.Errorf("seed.tasks[%d]: id is required", i)
		}
		if t.List == "" {
			return fmt.Errorf("seed.tasks[%d]: list is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("seed.tasks[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true
	}

	names := make(map[string]string)
	for i, step := range s.Steps {
		if err := validateStep(step, names); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if v := s.Expect.View; v != nil {
		if err := v.Params.Normalize().Validate(); err != nil {
			return fmt.Errorf("expect.view: %w", err)
		}
	}
	for key := range s.Expect.Calls {
		kind, op, ok := strings.Cut(key, ".")
		if !ok || !validKind(model.Kind(kind)) || op == "" {
			return fmt.Errorf("expect.calls: key %q must be kind.op", key)
		}
	}
	return nil
}

const (
	boundMutation = "mutation"
	boundHold     = "hold"
)

// validateStep checks one step. names maps bound names to what they bind.
func validateStep(step Step, names map[string]string) error {
	if !slices.Contains(knownSteps, step.Do) {
		return fmt.Errorf("unknown action %q", step.Do)
	}
	if step.Status != "" && !step.Status.Settled() {
		return fmt.Errorf("status %q is not a settled status", step.Status)
	}

	switch step.Do {
	case StepCreate, StepUpdate, StepDelete, StepLocal:
		if !validKind(step.Kind) {
			return fmt.Errorf("%s: kind must be lists or tasks, got %q", step.Do, step.Kind)
		}
		if step.Do != StepCreate && step.ID == "" {
			return fmt.Errorf("%s: id is required", step.Do)
		}
		if step.Do == StepDelete && len(step.Fields) > 0 {
			return fmt.Errorf("delete: fields are not allowed")
		}
		if step.Do != StepLocal && step.Name != "" {
			if err := bind(names, step.Name, boundMutation); err != nil {
				return err
			}
		}
		if step.Async && step.Name == "" {
			return fmt.Errorf("%s: async mutations need a name", step.Do)
		}
		if step.Async && (step.Status != "" || step.Code != "") {
			return fmt.Errorf("%s: status and code of an async mutation belong to its wait step", step.Do)
		}
	case StepHold, StepFail:
		if !validKind(step.Kind) {
			return fmt.Errorf("%s: kind must be lists or tasks, got %q", step.Do, step.Kind)
		}
		if step.Op == "" {
			return fmt.Errorf("%s: op is required", step.Do)
		}
		if step.Do == StepHold {
			if step.Name == "" {
				return fmt.Errorf("hold: name is required")
			}
			if err := bind(names, step.Name, boundHold); err != nil {
				return err
			}
		}
	case StepRelease:
		if names[step.Name] != boundHold {
			return fmt.Errorf("release: %q is not a hold", step.Name)
		}
	case StepWait:
		if names[step.Name] != boundMutation {
			return fmt.Errorf("wait: %q is not a mutation", step.Name)
		}
	}
	return nil
}

func bind(names map[string]string, name, what string) error {
	if _, dup := names[name]; dup {
		return fmt.Errorf("name %q is already bound", name)
	}
	names[name] = what
	return nil
}

func validKind(k model.Kind) bool {
	return slices.Contains(model.Kinds, k)
}
