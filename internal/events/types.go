package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Domain events published to downstream consumers (billing, clinical records).
const (
	TypeAppointmentBooked       = "appointment.booked"
	TypeAppointmentUpdated      = "appointment.updated"
	TypeAppointmentStateChanged = "appointment.state_changed"
	TypeAppointmentCanceled     = "appointment.canceled"
	TypeAppointmentRescheduled  = "appointment.rescheduled"
	TypeAppointmentCompleted    = "appointment.completed"
	TypeAppointmentNoShow       = "appointment.no_show"
)

// Execer is satisfied by pgx.Tx, *pgxpool.Pool and pgxmock.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Enqueue writes an event to the outbox using exec, normally the caller's
// open transaction, so the event commits or rolls back with the state change.
func Enqueue(ctx context.Context, exec Execer, eventType string, appointmentID uuid.UUID, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}

	id := uuid.New()
	_, err = exec.Exec(ctx, `
		INSERT INTO event_outbox (id, event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, id, eventType, appointmentID, data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}

	return id, nil
}
