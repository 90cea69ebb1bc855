package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
)

// Scheduler is the part of *appointment.Service the handlers drive.
type Scheduler interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Update(ctx context.Context, id uuid.UUID, req appointment.UpdateRequest) (*appointment.Appointment, error)
	ChangeState(ctx context.Context, id uuid.UUID, req appointment.StateChangeRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string, by appointment.CanceledBy) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, req appointment.RescheduleRequest) (*appointment.RescheduleResult, error)
	ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, opts appointment.ListOptions) (*appointment.Page, error)
	ListByDate(ctx context.Context, date time.Time, limit, offset int) (*appointment.DaySchedule, error)
	Location() *time.Location
}

const (
	maxBodyBytes = 1 << 20
	dateLayout   = "2006-01-02"
)

func createAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		patientID, ok := parseUUIDField(w, "patient_id", req.PatientID)
		if !ok {
			return
		}
		practitionerID, ok := parseUUIDField(w, "practitioner_id", req.PractitionerID)
		if !ok {
			return
		}
		treatmentID, ok := parseUUIDField(w, "treatment_id", req.TreatmentID)
		if !ok {
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID:      patientID,
			PractitionerID: practitionerID,
			TreatmentID:    treatmentID,
			StartTime:      req.StartTime,
			EndTime:        req.EndTime,
			Notes:          req.Notes,
		})
		if err != nil {
			handleSchedulerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleSchedulerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.Update(r.Context(), id, appointment.UpdateRequest{
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Notes:     req.Notes,
		})
		if err != nil {
			handleSchedulerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func changeStateHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req ChangeStateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.ChangeState(r.Context(), id, appointment.StateChangeRequest{
			Target:     appointment.State(req.State),
			Notes:      req.Notes,
			Reason:     req.Reason,
			CanceledBy: appointment.CanceledBy(req.CanceledBy),
		})
		if err != nil {
			handleSchedulerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Reschedule(r.Context(), id, appointment.RescheduleRequest{
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Reason:    req.Reason,
			ActorRole: GetActorRole(r.Context()),
		})
		if err != nil {
			handleSchedulerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, RescheduleResponse{
			Original:  toAppointmentResponse(res.Original),
			Successor: toAppointmentResponse(res.Successor),
		})
	}
}

func cancelAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		by := appointment.CanceledBy(req.CanceledBy)
		if by == "" {
			by = appointment.CanceledByForRole(GetActorRole(r.Context()))
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason, by)
		if err != nil {
			handleSchedulerError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler serves both listings. A practitioner parameter
// selects the practitioner calendar (optionally narrowed by date, from/to
// and state); date alone selects the clinic-wide day schedule.
func listAppointmentsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		limit, ok := intQueryParam(w, q, "limit")
		if !ok {
			return
		}
		offset, ok := intQueryParam(w, q, "offset")
		if !ok {
			return
		}

		if raw := q.Get("practitioner"); raw != "" {
			practitionerID, ok := parseUUIDField(w, "practitioner", raw)
			if !ok {
				return
			}
			opts, ok := practitionerListOptions(w, q, svc.Location())
			if !ok {
				return
			}
			opts.Limit, opts.Offset = limit, offset

			page, err := svc.ListByPractitioner(r.Context(), practitionerID, opts)
			if err != nil {
				handleSchedulerError(w, r, err)
				return
			}

			writeJSON(w, http.StatusOK, PageResponse{
				Items:  toAppointmentResponses(page.Items),
				Total:  page.Total,
				Limit:  page.Limit,
				Offset: page.Offset,
			})
			return
		}

		raw := q.Get("date")
		if raw == "" {
			writeError(w, http.StatusBadRequest, string(appointment.KindValidation), "practitioner or date is required", "practitioner")
			return
		}
		if q.Get("from") != "" || q.Get("to") != "" || q.Get("state") != "" {
			writeError(w, http.StatusBadRequest, string(appointment.KindValidation), "from, to and state filters require a practitioner", "practitioner")
			return
		}
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.KindValidation), "date must be YYYY-MM-DD", "date")
			return
		}

		day, err := svc.ListByDate(r.Context(), date, limit, offset)
		if err != nil {
			handleSchedulerError(w, r, err)
			return
		}

		resp := DayScheduleResponse{
			Date:          day.Date.Format(dateLayout),
			Practitioners: make([]PractitionerDayResponse, 0, len(day.Practitioners)),
			Total:         day.Total,
			Limit:         day.Limit,
			Offset:        day.Offset,
		}
		for _, p := range day.Practitioners {
			resp.Practitioners = append(resp.Practitioners, PractitionerDayResponse{
				PractitionerID: p.PractitionerID,
				Appointments:   toAppointmentResponses(p.Appointments),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func practitionerListOptions(w http.ResponseWriter, q url.Values, loc *time.Location) (appointment.ListOptions, bool) {
	var opts appointment.ListOptions

	if raw := q.Get("date"); raw != "" {
		if q.Get("from") != "" || q.Get("to") != "" {
			writeError(w, http.StatusBadRequest, string(appointment.KindValidation), "date cannot be combined with from or to", "date")
			return opts, false
		}
		day, err := time.ParseInLocation(dateLayout, raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.KindValidation), "date must be YYYY-MM-DD", "date")
			return opts, false
		}
		next := day.AddDate(0, 0, 1)
		opts.From, opts.To = &day, &next
	}

	for _, name := range []string{"from", "to"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, string(appointment.KindValidation), name+" must be an RFC3339 timestamp", name)
			return opts, false
		}
		if name == "from" {
			opts.From = &t
		} else {
			opts.To = &t
		}
	}

	if raw := q.Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				opts.States = append(opts.States, appointment.State(s))
			}
		}
	}

	return opts, true
}

func handleSchedulerError(w http.ResponseWriter, r *http.Request, err error) {
	var schedErr *appointment.Error
	switch {
	case errors.As(err, &schedErr):
		resp := ErrorResponse{
			Error:   string(schedErr.Kind),
			Details: schedErr.Message,
			Field:   schedErr.Field,
		}
		if c := schedErr.Conflict; c != nil {
			resp.Conflict = &ConflictResponse{ID: c.AppointmentID, StartTime: c.StartTime, EndTime: c.EndTime}
		}
		writeJSON(w, statusForKind(schedErr.Kind), resp)
	case errors.Is(err, appointment.ErrPractitionerBusy):
		writeError(w, http.StatusConflict, "practitioner_busy", err.Error(), "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_canceled", "request did not complete in time", "")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("unhandled scheduler error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", "")
	}
}

func statusForKind(kind appointment.Kind) int {
	switch kind {
	case appointment.KindNotFound:
		return http.StatusNotFound
	case appointment.KindValidation:
		return http.StatusBadRequest
	case appointment.KindInvalidAssignment:
		return http.StatusUnprocessableEntity
	case appointment.KindConflict, appointment.KindInvalidState, appointment.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON", "")
		return false
	}
	return true
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(appointment.KindValidation), "id must be a valid UUID", "appointment_id")
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDField(w http.ResponseWriter, field, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(appointment.KindValidation), field+" must be a valid UUID", field)
		return uuid.Nil, false
	}
	return id, true
}

// intQueryParam returns 0 when the parameter is absent so the scheduler
// applies its own default.
func intQueryParam(w http.ResponseWriter, q url.Values, name string) (int, bool) {
	raw := q.Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, string(appointment.KindValidation), name+" must be a non-negative integer", name)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details, field string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details, Field: field})
}
