package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/config"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/events"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/observability/metrics"
	redisclient "github.com/LambdaCodeStudio/Clinica-Backend/internal/redis"
)

var schedulerTracer = otel.Tracer("github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment")

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	defaultRescheduleReason = "rescheduled"
	defaultNoShowReason     = "patient did not attend"
)

// Dependencies are the collaborators the scheduler is built from. Locker
// and Notifier may be nil.
type Dependencies struct {
	Repo          Repository
	Locker        redisclient.Locker
	Patients      PatientDirectory
	Practitioners PractitionerDirectory
	Treatments    TreatmentCatalog
	Notifier      Notifier
	Metrics       *metrics.SchedulerMetrics
	Logger        zerolog.Logger
}

type Service struct {
	repo          Repository
	locker        redisclient.Locker
	patients      PatientDirectory
	practitioners PractitionerDirectory
	treatments    TreatmentCatalog
	notifier      Notifier
	metrics       *metrics.SchedulerMetrics
	logger        zerolog.Logger

	lookupTimeout time.Duration
	location      *time.Location
}

func NewService(deps Dependencies, cfg config.Config) *Service {
	if deps.Repo == nil {
		panic("appointment: repository required")
	}
	s := &Service{
		repo:          deps.Repo,
		locker:        deps.Locker,
		patients:      deps.Patients,
		practitioners: deps.Practitioners,
		treatments:    deps.Treatments,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		lookupTimeout: cfg.LookupTimeout,
		location:      cfg.ClinicLocation,
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.location == nil {
		s.location = time.UTC
	}
	return s
}

// Location is the clinic timezone used for day boundaries.
func (s *Service) Location() *time.Location {
	return s.location
}

type BookRequest struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	TreatmentID    uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Notes          string
}

// UpdateRequest carries the fields to change. Nil fields are left as is.
type UpdateRequest struct {
	StartTime *time.Time
	EndTime   *time.Time
	Notes     *string
}

type StateChangeRequest struct {
	Target     State
	Notes      *string
	Reason     string
	CanceledBy CanceledBy
}

type RescheduleRequest struct {
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	// ActorRole is the caller's role. It decides who the retired
	// appointment is recorded as canceled by.
	ActorRole string
}

// ListOptions filters a practitioner listing. From and To bound the start
// time as [From, To).
type ListOptions struct {
	From   *time.Time
	To     *time.Time
	States []State
	Limit  int
	Offset int
}

// Book creates a scheduled appointment after validating the assignment and
// checking the practitioner's calendar for overlaps.
func (s *Service) Book(ctx context.Context, req BookRequest) (_ *Appointment, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.Book")
	defer s.finish(span, "book", time.Now(), &err)
	span.SetAttributes(
		attribute.String("patient_id", req.PatientID.String()),
		attribute.String("practitioner_id", req.PractitionerID.String()),
		attribute.String("treatment_id", req.TreatmentID.String()),
	)

	if err := requireID("patient_id", req.PatientID); err != nil {
		return nil, err
	}
	if err := requireID("practitioner_id", req.PractitionerID); err != nil {
		return nil, err
	}
	if err := requireID("treatment_id", req.TreatmentID); err != nil {
		return nil, err
	}
	if err := validateWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if err := s.checkAssignment(ctx, req.PatientID, req.PractitionerID, req.TreatmentID); err != nil {
		return nil, err
	}

	draft := &Appointment{
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		TreatmentID:    req.TreatmentID,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		State:          StateScheduled,
		Notes:          req.Notes,
	}

	var created *Appointment
	err = s.withPractitioner(ctx, req.PractitionerID, true, func(ctx context.Context, tx Tx) error {
		if err := ensureFree(ctx, tx, req.PractitionerID, req.StartTime, req.EndTime, uuid.Nil); err != nil {
			return err
		}
		appt, err := tx.CreateAppointment(ctx, draft)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		if err := tx.InsertEvent(ctx, events.TypeAppointmentBooked, appt.ID, eventPayload(appt)); err != nil {
			return fmt.Errorf("enqueue booked event: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, uuid.Nil)
	}

	span.SetAttributes(attribute.String("appointment_id", created.ID.String()))
	s.notifier.NotifyBooked(ctx, *created)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.Get")
	defer s.finish(span, "get", time.Now(), &err)
	span.SetAttributes(attribute.String("appointment_id", id.String()))

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, id)
	}
	return appt, nil
}

// Update changes the time window or notes of a live appointment. A window
// change is checked against the practitioner's other bookings.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (_ *Appointment, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.Update")
	defer s.finish(span, "update", time.Now(), &err)
	span.SetAttributes(attribute.String("appointment_id", id.String()))

	if req.StartTime == nil && req.EndTime == nil && req.Notes == nil {
		return nil, validationError("", "at least one of start_time, end_time or notes is required")
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, id)
	}
	touchesWindow := req.StartTime != nil || req.EndTime != nil

	var (
		updated       *Appointment
		windowChanged bool
	)
	err = s.withPractitioner(ctx, current.PractitionerID, touchesWindow, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if appt.State.Terminal() {
			return invalidState(id, appt.State, "update")
		}

		start, end := appt.StartTime, appt.EndTime
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if req.EndTime != nil {
			end = *req.EndTime
		}
		if err := validateWindow(start, end); err != nil {
			return err
		}

		windowChanged = !start.Equal(appt.StartTime) || !end.Equal(appt.EndTime)
		if windowChanged {
			if err := ensureFree(ctx, tx, appt.PractitionerID, start, end, appt.ID); err != nil {
				return err
			}
		}

		appt.StartTime, appt.EndTime = start, end
		if req.Notes != nil {
			appt.Notes = *req.Notes
		}

		saved, err := tx.UpdateAppointment(ctx, appt)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		payload := eventPayload(saved)
		payload["window_changed"] = windowChanged
		if err := tx.InsertEvent(ctx, events.TypeAppointmentUpdated, saved.ID, payload); err != nil {
			return fmt.Errorf("enqueue updated event: %w", err)
		}
		updated = saved
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, id)
	}

	if windowChanged {
		s.notifier.NotifyBooked(ctx, *updated)
	}
	return updated, nil
}

// ChangeState moves an appointment along the lifecycle table. The
// rescheduled state is only reachable through Reschedule, which also
// creates the successor booking.
func (s *Service) ChangeState(ctx context.Context, id uuid.UUID, req StateChangeRequest) (_ *Appointment, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.ChangeState")
	defer s.finish(span, "change_state", time.Now(), &err)
	span.SetAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("target_state", string(req.Target)),
	)

	if !req.Target.Valid() {
		return nil, validationError("state", "unknown state %q", req.Target)
	}
	return s.transition(ctx, id, req, false)
}

// Cancel is ChangeState to canceled that also refuses appointments already
// in a terminal state with InvalidState.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, by CanceledBy) (_ *Appointment, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.Cancel")
	defer s.finish(span, "cancel", time.Now(), &err)
	span.SetAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("canceled_by", string(by)),
	)

	return s.transition(ctx, id, StateChangeRequest{
		Target:     StateCanceled,
		Reason:     reason,
		CanceledBy: by,
	}, true)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, req StateChangeRequest, rejectTerminal bool) (*Appointment, error) {
	reason := strings.TrimSpace(req.Reason)
	if req.Target == StateCanceled {
		if reason == "" {
			return nil, validationError("reason", "a cancellation reason is required")
		}
		if !req.CanceledBy.Valid() {
			return nil, validationError("canceled_by", "canceled_by must be one of patient, practitioner, system")
		}
	}

	var (
		updated *Appointment
		from    State
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if rejectTerminal && appt.State.Terminal() {
			return invalidState(id, appt.State, "cancel")
		}
		if err := checkTransition(appt.State, req.Target); err != nil {
			return err
		}
		if req.Target == StateRescheduled {
			return validationError("state", "use reschedule to retire an appointment with a successor")
		}

		from = appt.State
		appt.State = req.Target
		switch req.Target {
		case StateCanceled:
			by := req.CanceledBy
			appt.CanceledBy = &by
			appt.CancellationReason = &reason
		case StateNoShow:
			by := CanceledByNotApplicable
			if req.CanceledBy.Valid() {
				by = req.CanceledBy
			}
			if reason == "" {
				reason = defaultNoShowReason
			}
			appt.CanceledBy = &by
			appt.CancellationReason = &reason
		}
		if req.Notes != nil {
			appt.Notes = *req.Notes
		}

		saved, err := tx.UpdateAppointment(ctx, appt)
		if err != nil {
			return fmt.Errorf("update appointment state: %w", err)
		}
		payload := eventPayload(saved)
		payload["from_state"] = string(from)
		if err := tx.InsertEvent(ctx, eventTypeForState(req.Target), saved.ID, payload); err != nil {
			return fmt.Errorf("enqueue state event: %w", err)
		}
		updated = saved
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, id)
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(from)).
		Str("to", string(req.Target)).
		Msg("appointment state changed")
	return updated, nil
}

// Reschedule retires the appointment as rescheduled and books a successor
// over the new window in the same transaction.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (_ *RescheduleResult, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.Reschedule")
	defer s.finish(span, "reschedule", time.Now(), &err)
	span.SetAttributes(attribute.String("appointment_id", id.String()))

	if err := validateWindow(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, id)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultRescheduleReason
	}
	by := CanceledByForRole(req.ActorRole)

	var result RescheduleResult
	err = s.withPractitioner(ctx, current.PractitionerID, true, func(ctx context.Context, tx Tx) error {
		original, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if original.State.Terminal() {
			return invalidState(id, original.State, "reschedule")
		}
		if err := checkTransition(original.State, StateRescheduled); err != nil {
			return err
		}
		if err := ensureFree(ctx, tx, original.PractitionerID, req.StartTime, req.EndTime, original.ID); err != nil {
			return err
		}

		original.State = StateRescheduled
		original.CanceledBy = &by
		original.CancellationReason = &reason
		retired, err := tx.UpdateAppointment(ctx, original)
		if err != nil {
			return fmt.Errorf("retire original appointment: %w", err)
		}

		originalID := retired.ID
		successor, err := tx.CreateAppointment(ctx, &Appointment{
			PatientID:             retired.PatientID,
			PractitionerID:        retired.PractitionerID,
			TreatmentID:           retired.TreatmentID,
			StartTime:             req.StartTime,
			EndTime:               req.EndTime,
			State:                 StateScheduled,
			Notes:                 retired.Notes,
			OriginalAppointmentID: &originalID,
		})
		if err != nil {
			return fmt.Errorf("create successor appointment: %w", err)
		}

		payload := eventPayload(successor)
		payload["original_appointment_id"] = retired.ID.String()
		payload["canceled_by"] = string(by)
		payload["reason"] = reason
		if err := tx.InsertEvent(ctx, events.TypeAppointmentRescheduled, retired.ID, payload); err != nil {
			return fmt.Errorf("enqueue rescheduled event: %w", err)
		}

		result = RescheduleResult{Original: retired, Successor: successor}
		return nil
	})
	if err != nil {
		return nil, translateStoreError(err, id)
	}

	span.SetAttributes(attribute.String("successor_id", result.Successor.ID.String()))
	s.notifier.NotifyRescheduled(ctx, *result.Original, *result.Successor)
	return &result, nil
}

// ListByPractitioner pages through one practitioner's appointments ordered
// by start time.
func (s *Service) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, opts ListOptions) (_ *Page, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.ListByPractitioner")
	defer s.finish(span, "list_by_practitioner", time.Now(), &err)
	span.SetAttributes(attribute.String("practitioner_id", practitionerID.String()))

	if err := requireID("practitioner_id", practitionerID); err != nil {
		return nil, err
	}
	for _, st := range opts.States {
		if !st.Valid() {
			return nil, validationError("state", "unknown state %q", st)
		}
	}
	if opts.From != nil && opts.To != nil && !opts.To.After(*opts.From) {
		return nil, validationError("to", "to must be after from")
	}

	limit, offset := normalizePage(opts.Limit, opts.Offset)
	pid := practitionerID
	items, total, err := s.repo.ListAppointments(ctx, ListFilter{
		PractitionerID: &pid,
		From:           opts.From,
		To:             opts.To,
		States:         opts.States,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments by practitioner: %w", err)
	}

	return &Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// ListByDate returns the appointments starting on the calendar day of date
// in the clinic timezone, grouped by practitioner. Groups keep the order of
// their earliest appointment.
func (s *Service) ListByDate(ctx context.Context, date time.Time, limit, offset int) (_ *DaySchedule, err error) {
	ctx, span := schedulerTracer.Start(ctx, "appointment.ListByDate")
	defer s.finish(span, "list_by_date", time.Now(), &err)

	if date.IsZero() {
		return nil, validationError("date", "date is required")
	}
	y, m, d := date.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, s.location)
	to := from.AddDate(0, 0, 1)
	span.SetAttributes(attribute.String("date", from.Format(time.DateOnly)))

	limit, offset = normalizePage(limit, offset)
	items, total, err := s.repo.ListAppointments(ctx, ListFilter{
		From:   &from,
		To:     &to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments by date: %w", err)
	}

	return &DaySchedule{
		Date:          from,
		Practitioners: groupByPractitioner(items),
		Total:         total,
		Limit:         limit,
		Offset:        offset,
	}, nil
}

func groupByPractitioner(items []Appointment) []PractitionerDay {
	groups := make([]PractitionerDay, 0)
	index := make(map[uuid.UUID]int)
	for _, a := range items {
		i, ok := index[a.PractitionerID]
		if !ok {
			i = len(groups)
			index[a.PractitionerID] = i
			groups = append(groups, PractitionerDay{PractitionerID: a.PractitionerID})
		}
		groups[i].Appointments = append(groups[i].Appointments, a)
	}
	return groups
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// checkAssignment resolves the patient, practitioner and treatment and
// verifies the practitioner may deliver the treatment.
func (s *Service) checkAssignment(ctx context.Context, patientID, practitionerID, treatmentID uuid.UUID) error {
	lookupCtx, cancel := s.lookupContext(ctx)
	defer cancel()

	ok, err := s.patients.Exists(lookupCtx, patientID)
	if err != nil {
		return fmt.Errorf("lookup patient: %w", err)
	}
	if !ok {
		return notFound("patient", patientID)
	}

	ok, err = s.practitioners.Exists(lookupCtx, practitionerID)
	if err != nil {
		return fmt.Errorf("lookup practitioner: %w", err)
	}
	if !ok {
		return notFound("practitioner", practitionerID)
	}

	treatment, err := s.treatments.Get(lookupCtx, treatmentID)
	if errors.Is(err, ErrTreatmentNotFound) {
		return notFound("treatment", treatmentID)
	}
	if err != nil {
		return fmt.Errorf("lookup treatment: %w", err)
	}

	active, err := s.practitioners.IsActive(lookupCtx, practitionerID)
	if err != nil {
		return fmt.Errorf("lookup practitioner status: %w", err)
	}
	if !active {
		return invalidAssignment(practitionerID, treatmentID, "practitioner is inactive")
	}
	if !treatment.Active {
		return invalidAssignment(practitionerID, treatmentID, "treatment is inactive")
	}
	if !treatment.Allows(practitionerID) {
		return invalidAssignment(practitionerID, treatmentID, "practitioner is not eligible for this treatment")
	}
	return nil
}

func (s *Service) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.lookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.lookupTimeout)
}

// withPractitioner runs fn in a transaction, holding the practitioner's
// calendar lock around it when lock is set.
func (s *Service) withPractitioner(ctx context.Context, practitionerID uuid.UUID, lock bool, fn func(ctx context.Context, tx Tx) error) error {
	if !lock {
		return s.repo.WithinTx(ctx, fn)
	}
	return s.locker.WithPractitionerLock(ctx, practitionerID, func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, fn)
	})
}

// ensureFree fails with SchedulingConflict when [start, end) intersects a
// blocking appointment of the practitioner other than exclude.
func ensureFree(ctx context.Context, tx Tx, practitionerID uuid.UUID, start, end time.Time, exclude uuid.UUID) error {
	candidates, err := tx.FindBlockingAppointments(ctx, practitionerID, start, end)
	if err != nil {
		return fmt.Errorf("find blocking appointments: %w", err)
	}
	if existing, ok := findConflict(candidates, start, end, exclude); ok {
		return schedulingConflict(existing)
	}
	return nil
}

func translateStoreError(err error, id uuid.UUID) error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, ErrOverlapConstraint):
		return constraintConflict()
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrPractitionerBusy
	case errors.Is(err, ErrAppointmentNotFound):
		return notFound("appointment", id)
	}
	return err
}

func requireID(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return validationError(field, "%s is required", field)
	}
	return nil
}

func eventTypeForState(target State) string {
	switch target {
	case StateCompleted:
		return events.TypeAppointmentCompleted
	case StateCanceled:
		return events.TypeAppointmentCanceled
	case StateNoShow:
		return events.TypeAppointmentNoShow
	default:
		return events.TypeAppointmentStateChanged
	}
}

func eventPayload(a *Appointment) map[string]any {
	payload := map[string]any{
		"appointment_id":  a.ID.String(),
		"patient_id":      a.PatientID.String(),
		"practitioner_id": a.PractitionerID.String(),
		"treatment_id":    a.TreatmentID.String(),
		"start_time":      a.StartTime,
		"end_time":        a.EndTime,
		"state":           string(a.State),
	}
	if a.CanceledBy != nil {
		payload["canceled_by"] = string(*a.CanceledBy)
	}
	if a.CancellationReason != nil {
		payload["reason"] = *a.CancellationReason
	}
	return payload
}

// outcome is the metric label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	if errors.Is(err, ErrPractitionerBusy) {
		return "practitioner_busy"
	}
	return "internal_error"
}

func (s *Service) finish(span trace.Span, operation string, started time.Time, errp *error) {
	err := *errp
	result := outcome(err)
	s.metrics.ObserveOperation(operation, result, time.Since(started))

	if err != nil {
		span.RecordError(err)
		if result == "internal_error" {
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error().Err(err).Str("operation", operation).Msg("scheduler operation failed")
		} else {
			s.logger.Debug().Err(err).Str("operation", operation).Str("outcome", result).Msg("scheduler request rejected")
		}
	}
	span.End()
}
