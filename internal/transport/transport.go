// Package transport defines the contract between the sync core and the
// server, plus an in-memory reference server used by tests, the scenario
// harness and the CLI.
//
// The core never assumes anything about a request beyond this contract:
// four operations per entity kind, each returning the server's canonical
// entity (or nothing, for delete) or a *Failure carrying a machine-readable
// Reason. Timeouts belong to the transport; the core never cancels a call
// it has issued.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tasksync/internal/model"
)

// Reason is the machine-readable cause of a failed call.
type Reason string

const (
	ReasonUnauthorized Reason = "unauthorized"
	ReasonNotFound     Reason = "not-found"
	ReasonValidation   Reason = "validation"
	ReasonServerError  Reason = "server-error"
	ReasonNetworkError Reason = "network-error"
)

// Failure is the error returned by an Endpoint call that the server (or the
// network) refused.
type Failure struct {
	Reason  Reason
	Message string
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// Fail builds a *Failure.
func Fail(reason Reason, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the Reason from err. Errors that are not a *Failure are
// treated as network errors.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonNetworkError
}

// Classify maps a transport error into the core's error taxonomy.
func Classify(kind model.Kind, id string, err error) *model.Error {
	if err == nil {
		return nil
	}
	var code model.ErrorCode
	switch ReasonOf(err) {
	case ReasonUnauthorized:
		code = model.ErrCodeUnauthorized
	case ReasonNotFound:
		code = model.ErrCodeNotFound
	case ReasonValidation:
		code = model.ErrCodeValidation
	default:
		code = model.ErrCodeTransport
	}
	return &model.Error{Code: code, Kind: kind, ID: id, Message: "server rejected request", Err: err}
}

// Endpoint is the server contract for one entity kind.
type Endpoint[T any] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, fields model.Patch) (T, error)
	Update(ctx context.Context, id string, fields model.Patch) (T, error)
	Delete(ctx context.Context, id string) error
}

// JoinedLister is implemented by servers that return lists with their tasks
// embedded in one read.
type JoinedLister interface {
	ListWithTasks(ctx context.Context) ([]model.ListWithTasks, error)
}

// Transport bundles the endpoints the core talks to. Joined is optional;
// when set, full loads use it instead of two List calls.
type Transport struct {
	Lists  Endpoint[model.List]
	Tasks  Endpoint[model.Task]
	Joined JoinedLister
}
