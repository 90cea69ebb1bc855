package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/directory"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/observability/metrics"
)

// PreferenceSource resolves how a patient wants to be contacted.
type PreferenceSource interface {
	NotificationPreferences(ctx context.Context, patientID uuid.UUID) (directory.NotificationPreferences, error)
}

// DeliveryLog records each delivery attempt on the appointment.
type DeliveryLog interface {
	AppendNotification(ctx context.Context, id uuid.UUID, entry appointment.NotificationEntry) error
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds one task: preference lookup plus every channel send.
	Timeout  time.Duration
	Location *time.Location
}

type taskKind int

const (
	taskBooked taskKind = iota
	taskRescheduled
)

type task struct {
	ctx      context.Context
	kind     taskKind
	appt     appointment.Appointment
	original appointment.Appointment
}

// Dispatcher delivers patient notifications on a bounded worker pool. It
// never blocks the caller: when the queue is full the task is dropped and
// counted. Delivery failures are logged and recorded, never returned.
type Dispatcher struct {
	prefs   PreferenceSource
	log     DeliveryLog
	email   EmailSender
	sms     SMSSender
	metrics *metrics.SchedulerMetrics
	logger  zerolog.Logger
	cfg     DispatcherConfig
	now     func() time.Time

	queue  chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func NewDispatcher(prefs PreferenceSource, log DeliveryLog, email EmailSender, sms SMSSender, cfg DispatcherConfig, m *metrics.SchedulerMetrics, logger zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		prefs:   prefs,
		log:     log,
		email:   email,
		sms:     sms,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		queue:   make(chan task, cfg.QueueSize),
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Stop refuses new tasks and waits for queued ones to finish or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) NotifyBooked(ctx context.Context, appt appointment.Appointment) {
	d.enqueue(task{ctx: context.WithoutCancel(ctx), kind: taskBooked, appt: appt})
}

func (d *Dispatcher) NotifyRescheduled(ctx context.Context, original, successor appointment.Appointment) {
	d.enqueue(task{ctx: context.WithoutCancel(ctx), kind: taskRescheduled, appt: successor, original: original})
}

func (d *Dispatcher) enqueue(t task) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().Str("appointment_id", t.appt.ID.String()).Msg("notification dispatcher stopped, dropping task")
		d.metrics.ObserveNotificationDropped()
		return
	}

	select {
	case d.queue <- t:
	default:
		d.logger.Warn().Str("appointment_id", t.appt.ID.String()).Msg("notification queue full, dropping task")
		d.metrics.ObserveNotificationDropped()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.queue {
		d.deliver(t)
	}
}

func (d *Dispatcher) deliver(t task) {
	ctx, cancel := context.WithTimeout(t.ctx, d.cfg.Timeout)
	defer cancel()

	logger := d.logger.With().
		Str("appointment_id", t.appt.ID.String()).
		Str("patient_id", t.appt.PatientID.String()).
		Logger()

	prefs, err := d.prefs.NotificationPreferences(ctx, t.appt.PatientID)
	if err != nil {
		logger.Warn().Err(err).Msg("could not load notification preferences")
		return
	}

	subject, body := d.render(t)

	if prefs.WantsEmail() && d.email != nil {
		err := d.email.Send(ctx, EmailMessage{To: prefs.Email, Subject: subject, Body: body})
		d.record(ctx, logger, t.appt.ID, appointment.ChannelEmail, err)
	}
	if prefs.WantsSMS() && d.sms != nil {
		err := d.sms.SendSMS(ctx, prefs.Phone, body)
		d.record(ctx, logger, t.appt.ID, appointment.ChannelSMS, err)
	}
}

func (d *Dispatcher) record(ctx context.Context, logger zerolog.Logger, id uuid.UUID, channel appointment.Channel, sendErr error) {
	status := appointment.DeliverySent
	if sendErr != nil {
		status = appointment.DeliveryFailed
		logger.Error().Err(sendErr).Str("channel", string(channel)).Msg("notification delivery failed")
	}
	d.metrics.ObserveNotification(string(channel), string(status))

	entry := appointment.NotificationEntry{Channel: channel, SentAt: d.now().UTC(), Status: status}
	if err := d.log.AppendNotification(ctx, id, entry); err != nil {
		logger.Warn().Err(err).Str("channel", string(channel)).Msg("could not record notification")
	}
}

const timeLayout = "Mon 02 Jan 2006 15:04"

func (d *Dispatcher) render(t task) (subject, body string) {
	start := t.appt.StartTime.In(d.cfg.Location).Format(timeLayout)
	switch t.kind {
	case taskRescheduled:
		was := t.original.StartTime.In(d.cfg.Location).Format(timeLayout)
		return "Your appointment was rescheduled",
			fmt.Sprintf("Your appointment on %s has been moved to %s.", was, start)
	default:
		return "Your appointment is booked",
			fmt.Sprintf("Your appointment is booked for %s.", start)
	}
}

var _ appointment.Notifier = (*Dispatcher)(nil)
