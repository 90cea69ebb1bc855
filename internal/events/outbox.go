package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/observability/metrics"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID            uuid.UUID
	Type          string
	AppointmentID uuid.UUID
	Payload       json.RawMessage
	CreatedAt     time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore reads and acknowledges outbox rows.
type OutboxStore struct {
	pool querier
}

func NewOutboxStore(pool querier) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.AppointmentID, &payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE event_outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

type pendingStore interface {
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
}

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store     pendingStore
	handler   DeliveryHandler
	metrics   *metrics.SchedulerMetrics
	logger    zerolog.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store pendingStore, handler DeliveryHandler, m *metrics.SchedulerMetrics, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		store:     store,
		handler:   handler,
		metrics:   m,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start drains once immediately and then on every tick until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}

	d.Drain(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and returns how many entries were acknowledged.
// Failed entries stay pending and are retried on the next poll.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("outbox fetch failed")
		return 0
	}

	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.metrics.ObserveOutbox(entry.Type, "failed")
			d.logger.Error().Err(err).
				Str("event_id", entry.ID.String()).
				Str("event_type", entry.Type).
				Str("appointment_id", entry.AppointmentID.String()).
				Msg("outbox delivery failed")
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error().Err(err).Str("event_id", entry.ID.String()).Msg("failed to mark outbox delivered")
			continue
		}
		if ok {
			delivered++
			d.metrics.ObserveOutbox(entry.Type, "delivered")
			d.logger.Debug().Str("event_id", entry.ID.String()).Str("event_type", entry.Type).Msg("outbox delivered")
		}
	}
	return delivered
}

// LogHandler acknowledges events by logging them. Used when no queue is configured.
type LogHandler struct {
	Logger zerolog.Logger
}

func (h LogHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.Logger.Info().
		Str("event_id", entry.ID.String()).
		Str("event_type", entry.Type).
		Str("appointment_id", entry.AppointmentID.String()).
		RawJSON("payload", entry.Payload).
		Msg("domain event")
	return nil
}
