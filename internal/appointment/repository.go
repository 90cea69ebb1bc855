package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrOverlapConstraint is returned by a Tx when the store's exclusion
	// constraint rejects a window that overlaps a live booking.
	ErrOverlapConstraint = errors.New("appointment window overlaps an existing booking")
)

// ListFilter selects appointments whose start time falls in [From, To).
type ListFilter struct {
	PractitionerID *uuid.UUID
	From           *time.Time
	To             *time.Time
	States         []State
	Limit          int
	Offset         int
}

// Repository contains all persistence needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListAppointments returns one page ordered by start_time, id together
	// with the total number of matching rows.
	ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, int, error)

	// AppendNotification adds a delivery record to the notification log.
	AppendNotification(ctx context.Context, id uuid.UUID, entry NotificationEntry) error

	// WithinTx runs fn in a single serializable transaction. fn may be
	// invoked more than once when the store reports a transient conflict,
	// so it must not have side effects outside tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view handed to WithinTx callbacks.
type Tx interface {
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// For conflict checks: appointments of the practitioner that occupy
	// their slot and intersect [start, end).
	FindBlockingAppointments(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) ([]Appointment, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// Outbox
	InsertEvent(ctx context.Context, eventType string, appointmentID uuid.UUID, payload any) error
}

// ErrTreatmentNotFound is returned by a TreatmentCatalog for unknown ids.
var ErrTreatmentNotFound = errors.New("treatment not found")

type PatientDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

type PractitionerDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
}

type TreatmentCatalog interface {
	Get(ctx context.Context, id uuid.UUID) (*Treatment, error)
}

// Treatment is the catalog view the scheduler needs. An empty
// EligiblePractitioners set means any practitioner may perform it.
type Treatment struct {
	ID                    uuid.UUID   `json:"id"`
	Name                  string      `json:"name"`
	Active                bool        `json:"active"`
	EligiblePractitioners []uuid.UUID `json:"eligible_practitioners,omitempty"`
}

// Allows reports whether practitionerID may perform the treatment.
func (t Treatment) Allows(practitionerID uuid.UUID) bool {
	if len(t.EligiblePractitioners) == 0 {
		return true
	}
	for _, id := range t.EligiblePractitioners {
		if id == practitionerID {
			return true
		}
	}
	return false
}

// Notifier receives fire-and-forget notifications after a successful
// commit. Implementations must not block and must swallow their failures.
type Notifier interface {
	NotifyBooked(ctx context.Context, appt Appointment)
	NotifyRescheduled(ctx context.Context, original, successor Appointment)
}

type nopNotifier struct{}

func (nopNotifier) NotifyBooked(context.Context, Appointment)                 {}
func (nopNotifier) NotifyRescheduled(context.Context, Appointment, Appointment) {}
