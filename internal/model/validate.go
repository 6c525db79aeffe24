package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", validateNotBlank)
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// ListInput is the typed form of a list create or update patch. Nil
// pointers are fields absent from the patch.
type ListInput struct {
	Title   *string `validate:"required,notblank"`
	OwnerID *string `validate:"omitempty,notblank"`
}

// ListChanges is ListInput for updates, where every field is optional.
type ListChanges struct {
	Title *string `validate:"omitempty,notblank"`
}

// TaskInput is the typed form of a task create patch.
type TaskInput struct {
	Title       *string `validate:"required,notblank"`
	Description *string
	Completed   *bool
	ListID      *string `validate:"required,notblank"`
}

// TaskChanges is TaskInput for updates.
type TaskChanges struct {
	Title       *string `validate:"omitempty,notblank"`
	Description *string
	Completed   *bool
	CompletedAt *time.Time
	ListID      *string `validate:"omitempty,notblank"`
}

// Validate checks the input against its struct tags.
func (in ListInput) Validate() error { return structError(KindList, validate.Struct(in)) }

// Validate checks the changes against their struct tags.
func (in ListChanges) Validate() error { return structError(KindList, validate.Struct(in)) }

// Validate checks the input against its struct tags.
func (in TaskInput) Validate() error { return structError(KindTask, validate.Struct(in)) }

// Validate checks the changes against their struct tags.
func (in TaskChanges) Validate() error { return structError(KindTask, validate.Struct(in)) }

func structError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Code: ErrCodeValidation, Kind: kind, Message: "invalid input", Err: err}
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return &Error{Code: ErrCodeValidation, Kind: kind, Message: strings.Join(parts, "; ")}
}

// ValidateCreate checks a create patch for kind. Server-owned fields (id,
// createdAt, completedAt, ownerId on tasks) may not be supplied.
func ValidateCreate(kind Kind, p Patch) error {
	switch kind {
	case KindList:
		var in ListInput
		err := decodePatch(kind, p, map[string]any{
			FieldTitle:   &in.Title,
			FieldOwnerID: &in.OwnerID,
		})
		if err != nil {
			return err
		}
		return in.Validate()
	case KindTask:
		var in TaskInput
		err := decodePatch(kind, p, map[string]any{
			FieldTitle:       &in.Title,
			FieldDescription: &in.Description,
			FieldCompleted:   &in.Completed,
			FieldListID:      &in.ListID,
		})
		if err != nil {
			return err
		}
		return in.Validate()
	default:
		return NewValidationError(kind, "", "unknown entity kind")
	}
}

// ValidateUpdate checks an update patch for kind. An empty patch is valid.
func ValidateUpdate(kind Kind, p Patch) error {
	switch kind {
	case KindList:
		var in ListChanges
		if err := decodePatch(kind, p, map[string]any{FieldTitle: &in.Title}); err != nil {
			return err
		}
		return in.Validate()
	case KindTask:
		var in TaskChanges
		err := decodePatch(kind, p, map[string]any{
			FieldTitle:       &in.Title,
			FieldDescription: &in.Description,
			FieldCompleted:   &in.Completed,
			FieldCompletedAt: &in.CompletedAt,
			FieldListID:      &in.ListID,
		})
		if err != nil {
			return err
		}
		return in.Validate()
	default:
		return NewValidationError(kind, "", "unknown entity kind")
	}
}

// decodePatch assigns patch values into typed destinations. Fields without a
// destination are rejected.
func decodePatch(kind Kind, p Patch, dest map[string]any) error {
	for field, raw := range p {
		target, ok := dest[field]
		if !ok {
			return NewValidationError(kind, "", "field %q cannot be set", field)
		}
		v := Normalize(raw)
		switch d := target.(type) {
		case **string:
			switch s := v.(type) {
			case nil:
				if field != FieldDescription {
					return NewValidationError(kind, "", "field %q cannot be null", field)
				}
				*d = nil
			case string:
				*d = &s
			default:
				return NewValidationError(kind, "", "field %q: expected string, got %T", field, raw)
			}
		case **bool:
			b, ok := v.(bool)
			if !ok {
				return NewValidationError(kind, "", "field %q: expected bool, got %T", field, raw)
			}
			*d = &b
		case **time.Time:
			if v == nil {
				*d = nil
				continue
			}
			t, err := timeValue(kind, "", field, v)
			if err != nil {
				return err
			}
			*d = &t
		}
	}
	return nil
}
