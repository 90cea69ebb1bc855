package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the stable, caller-facing classification of a scheduler error.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation_error"
	KindInvalidAssignment Kind = "invalid_assignment"
	KindConflict          Kind = "scheduling_conflict"
	KindInvalidState      Kind = "invalid_state"
	KindInvalidTransition Kind = "invalid_transition"
)

// Sentinels for errors.Is. Every *Error unwraps to the sentinel of its kind.
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrInvalidAssignment  = errors.New("invalid assignment")
	ErrSchedulingConflict = errors.New("scheduling conflict")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidTransition  = errors.New("invalid transition")
)

// ErrPractitionerBusy is returned when another request holds the
// practitioner's booking lock for longer than the retry budget.
var ErrPractitionerBusy = errors.New("practitioner calendar is being modified, please retry")

var kindSentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindValidation:        ErrValidation,
	KindInvalidAssignment: ErrInvalidAssignment,
	KindConflict:          ErrSchedulingConflict,
	KindInvalidState:      ErrInvalidState,
	KindInvalidTransition: ErrInvalidTransition,
}

// Conflict identifies the existing booking that blocks a requested window.
type Conflict struct {
	AppointmentID uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
}

type Error struct {
	Kind     Kind
	Message  string
	Field    string
	Conflict *Conflict
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return kindSentinels[e.Kind]
}

// KindOf returns the kind of a scheduler error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func notFound(entity string, id uuid.UUID) *Error {
	return &Error{
		Kind:    KindNotFound,
		Field:   entity + "_id",
		Message: fmt.Sprintf("%s %s not found", entity, id),
	}
}

func validationError(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func invalidAssignment(practitionerID, treatmentID uuid.UUID, reason string) *Error {
	return &Error{
		Kind:    KindInvalidAssignment,
		Field:   "practitioner_id",
		Message: fmt.Sprintf("practitioner %s cannot be assigned treatment %s: %s", practitionerID, treatmentID, reason),
	}
}

func schedulingConflict(existing Appointment) *Error {
	return &Error{
		Kind: KindConflict,
		Message: fmt.Sprintf("practitioner already booked from %s to %s",
			existing.StartTime.Format(time.RFC3339), existing.EndTime.Format(time.RFC3339)),
		Conflict: &Conflict{
			AppointmentID: existing.ID,
			StartTime:     existing.StartTime,
			EndTime:       existing.EndTime,
		},
	}
}

// constraintConflict is raised when the database exclusion constraint
// rejects a write that slipped past the read-side check.
func constraintConflict() *Error {
	return &Error{Kind: KindConflict, Message: "practitioner already booked in the requested window"}
}

func invalidState(id uuid.UUID, state State, op string) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Field:   "state",
		Message: fmt.Sprintf("cannot %s appointment %s in state %s", op, id, state),
	}
}

func invalidTransition(from, to State) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Field:   "state",
		Message: fmt.Sprintf("transition %s -> %s is not permitted", from, to),
	}
}
