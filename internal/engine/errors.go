package engine

import (
	"errors"

	"github.com/roach88/tasksync/internal/model"
)

// ErrStopped is returned when work is submitted to an engine whose loop has
// shut down.
var ErrStopped = errors.New("engine stopped")

func errNoIdentity(kind model.Kind, id string) *model.Error {
	return model.NewError(model.ErrCodeUnauthorized, kind, id, "no actor identity; mutation not attempted")
}

func errProvisional(kind model.Kind, id, ref string) *model.Error {
	return model.NewError(model.ErrCodeConflict, kind, id,
		"references provisional id %q whose create has not settled", ref)
}

func errUnknownKind(kind model.Kind) *model.Error {
	return model.NewValidationError(kind, "", "unknown entity kind")
}

// IsStopped reports whether err came from a stopped engine.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}
