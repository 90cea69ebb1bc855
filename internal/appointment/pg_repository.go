package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/db"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/events"
)

// pgPool is the subset of *pgxpool.Pool the repository uses.
type pgPool interface {
	db.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool   pgPool
	runner *db.TxRunner
}

// NewPgRepository builds the Postgres store. runner may be nil, in which
// case transactions are not retried.
func NewPgRepository(pool pgPool, runner *db.TxRunner) *PgRepository {
	if runner == nil {
		runner = db.NewTxRunner(pool, 0)
	}
	return &PgRepository{pool: pool, runner: runner}
}

const appointmentColumns = `id, patient_id, practitioner_id, treatment_id, start_time, end_time, state, notes,
		original_appointment_id, canceled_by, cancellation_reason, notifications, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a             Appointment
		state         string
		original      uuid.NullUUID
		canceledBy    pgtype.Text
		reason        pgtype.Text
		notifications []byte
	)

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.TreatmentID,
		&a.StartTime,
		&a.EndTime,
		&state,
		&a.Notes,
		&original,
		&canceledBy,
		&reason,
		&notifications,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.State = State(state)
	if original.Valid {
		id := original.UUID
		a.OriginalAppointmentID = &id
	}
	if canceledBy.Valid {
		by := CanceledBy(canceledBy.String)
		a.CanceledBy = &by
	}
	if reason.Valid {
		r := reason.String
		a.CancellationReason = &r
	}
	if len(notifications) > 0 {
		if err := json.Unmarshal(notifications, &a.Notifications); err != nil {
			return nil, fmt.Errorf("decode notifications for %s: %w", a.ID, err)
		}
	}

	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullableCanceledBy(c *CanceledBy) any {
	if c == nil {
		return nil
	}
	return string(*c)
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, int, error) {
	where, args := listConditions(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	n := len(args)
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments`+where+fmt.Sprintf(`
		ORDER BY start_time, id
		LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	items, err := scanAppointments(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan appointments: %w", err)
	}
	return items, total, nil
}

// listConditions renders filter as a WHERE clause with positional args.
func listConditions(filter ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.PractitionerID != nil {
		add("practitioner_id = $%d", *filter.PractitionerID)
	}
	if filter.From != nil {
		add("start_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("start_time < $%d", *filter.To)
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		add("state = ANY($%d)", states)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) AppendNotification(ctx context.Context, id uuid.UUID, entry NotificationEntry) error {
	data, err := json.Marshal([]NotificationEntry{entry})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET notifications = notifications || $2::jsonb
		WHERE id = $1
	`, id, string(data))
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) FindBlockingAppointments(ctx context.Context, practitionerID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND state NOT IN ('canceled', 'rescheduled')
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time, id
	`, practitionerID, start, end)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (t *pgTx) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, practitioner_id, treatment_id, start_time, end_time, state, notes,
			original_appointment_id, notifications, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '[]'::jsonb, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.PractitionerID, a.TreatmentID, a.StartTime, a.EndTime, string(a.State), a.Notes,
		nullableUUID(a.OriginalAppointmentID),
	)

	created, err := scanAppointment(row)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return nil, ErrOverlapConstraint
		}
		return nil, err
	}
	return created, nil
}

// UpdateAppointment writes the mutable columns. Identity, references and
// the notification log are never touched here.
func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    state = $4,
		    notes = $5,
		    canceled_by = $6,
		    cancellation_reason = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, a.StartTime, a.EndTime, string(a.State), a.Notes,
		nullableCanceledBy(a.CanceledBy), a.CancellationReason,
	)

	updated, err := scanAppointment(row)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return nil, ErrOverlapConstraint
		}
		return nil, err
	}
	return updated, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, eventType string, appointmentID uuid.UUID, payload any) error {
	_, err := events.Enqueue(ctx, t.tx, eventType, appointmentID, payload)
	return err
}
