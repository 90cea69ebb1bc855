package appointment

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateScheduled   State = "scheduled"
	StateConfirmed   State = "confirmed"
	StateInProgress  State = "in_progress"
	StateCompleted   State = "completed"
	StateCanceled    State = "canceled"
	StateRescheduled State = "rescheduled"
	StateNoShow      State = "no_show"
)

type CanceledBy string

const (
	CanceledByPatient       CanceledBy = "patient"
	CanceledByPractitioner  CanceledBy = "practitioner"
	CanceledBySystem        CanceledBy = "system"
	CanceledByNotApplicable CanceledBy = "not_applicable"
)

// Valid reports whether c may be supplied by a caller canceling an appointment.
func (c CanceledBy) Valid() bool {
	switch c {
	case CanceledByPatient, CanceledByPractitioner, CanceledBySystem:
		return true
	}
	return false
}

// CanceledByForRole maps the caller's role onto the cancellation actor
// recorded when an appointment is retired by a reschedule.
func CanceledByForRole(role string) CanceledBy {
	switch CanceledBy(role) {
	case CanceledByPatient:
		return CanceledByPatient
	case CanceledByPractitioner:
		return CanceledByPractitioner
	default:
		return CanceledBySystem
	}
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// NotificationEntry is one line of the append-only notification log. The
// notification dispatcher writes it; the scheduler only reads it.
type NotificationEntry struct {
	Channel Channel        `json:"channel"`
	SentAt  time.Time      `json:"sent_at"`
	Status  DeliveryStatus `json:"status"`
}

type Appointment struct {
	ID                    uuid.UUID
	PatientID             uuid.UUID
	PractitionerID        uuid.UUID
	TreatmentID           uuid.UUID
	StartTime             time.Time
	EndTime               time.Time
	State                 State
	Notes                 string
	OriginalAppointmentID *uuid.UUID
	CanceledBy            *CanceledBy
	CancellationReason    *string
	Notifications         []NotificationEntry
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Overlaps reports whether the appointment window intersects [start, end).
func (a Appointment) Overlaps(start, end time.Time) bool {
	return Overlaps(a.StartTime, a.EndTime, start, end)
}

// RescheduleResult pairs the retired appointment with the booking that replaces it.
type RescheduleResult struct {
	Original  *Appointment
	Successor *Appointment
}

// Page is one window of a listing ordered by start time.
type Page struct {
	Items  []Appointment
	Total  int
	Limit  int
	Offset int
}

// PractitionerDay groups a day's appointments under their practitioner.
type PractitionerDay struct {
	PractitionerID uuid.UUID
	Appointments   []Appointment
}

// DaySchedule is the result of ListByDate.
type DaySchedule struct {
	Date          time.Time
	Practitioners []PractitionerDay
	Total         int
	Limit         int
	Offset        int
}
