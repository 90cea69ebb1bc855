package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID      string    `json:"patient_id"`
	PractitionerID string    `json:"practitioner_id"`
	TreatmentID    string    `json:"treatment_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Notes          string    `json:"notes"`
}

type UpdateAppointmentRequest struct {
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Notes     *string    `json:"notes"`
}

type ChangeStateRequest struct {
	State      string  `json:"state"`
	Notes      *string `json:"notes"`
	Reason     string  `json:"reason"`
	CanceledBy string  `json:"canceled_by"`
}

type RescheduleAppointmentRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Reason    string    `json:"reason"`
}

// CancelAppointmentRequest cancels a live appointment. When CanceledBy is
// empty it is derived from the caller's role header.
type CancelAppointmentRequest struct {
	Reason     string `json:"reason"`
	CanceledBy string `json:"canceled_by"`
}

type NotificationResponse struct {
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
	Status  string    `json:"status"`
}

type AppointmentResponse struct {
	ID                    uuid.UUID              `json:"id"`
	PatientID             uuid.UUID              `json:"patient_id"`
	PractitionerID        uuid.UUID              `json:"practitioner_id"`
	TreatmentID           uuid.UUID              `json:"treatment_id"`
	StartTime             time.Time              `json:"start_time"`
	EndTime               time.Time              `json:"end_time"`
	State                 string                 `json:"state"`
	Notes                 string                 `json:"notes"`
	OriginalAppointmentID *uuid.UUID             `json:"original_appointment_id"`
	CanceledBy            *string                `json:"canceled_by"`
	CancellationReason    *string                `json:"cancellation_reason"`
	Notifications         []NotificationResponse `json:"notifications"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

type RescheduleResponse struct {
	Original  AppointmentResponse `json:"original"`
	Successor AppointmentResponse `json:"successor"`
}

type PageResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type PractitionerDayResponse struct {
	PractitionerID uuid.UUID             `json:"practitioner_id"`
	Appointments   []AppointmentResponse `json:"appointments"`
}

type DayScheduleResponse struct {
	Date          string                    `json:"date"`
	Practitioners []PractitionerDayResponse `json:"practitioners"`
	Total         int                       `json:"total"`
	Limit         int                       `json:"limit"`
	Offset        int                       `json:"offset"`
}

type ConflictResponse struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type ErrorResponse struct {
	Error    string            `json:"error"`
	Details  string            `json:"details,omitempty"`
	Field    string            `json:"field,omitempty"`
	Conflict *ConflictResponse `json:"conflict,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                    a.ID,
		PatientID:             a.PatientID,
		PractitionerID:        a.PractitionerID,
		TreatmentID:           a.TreatmentID,
		StartTime:             a.StartTime,
		EndTime:               a.EndTime,
		State:                 string(a.State),
		Notes:                 a.Notes,
		OriginalAppointmentID: a.OriginalAppointmentID,
		CancellationReason:    a.CancellationReason,
		Notifications:         make([]NotificationResponse, 0, len(a.Notifications)),
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
	if a.CanceledBy != nil {
		by := string(*a.CanceledBy)
		resp.CanceledBy = &by
	}
	for _, n := range a.Notifications {
		resp.Notifications = append(resp.Notifications, NotificationResponse{
			Channel: string(n.Channel),
			SentAt:  n.SentAt,
			Status:  string(n.Status),
		})
	}
	return resp
}

func toAppointmentResponses(items []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(items))
	for i := range items {
		out = append(out, toAppointmentResponse(&items[i]))
	}
	return out
}
