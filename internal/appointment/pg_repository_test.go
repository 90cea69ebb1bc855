package appointment

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/db"
	"github.com/LambdaCodeStudio/Clinica-Backend/internal/events"
)

var appointmentRowColumns = []string{
	"id", "patient_id", "practitioner_id", "treatment_id", "start_time", "end_time", "state", "notes",
	"original_appointment_id", "canceled_by", "cancellation_reason", "notifications", "created_at", "updated_at",
}

type rowSpec struct {
	id, patient, practitioner, treatment uuid.UUID
	start, end                           time.Time
	state                                string
	original                             uuid.NullUUID
	canceledBy, reason                   pgtype.Text
	notifications                        []byte
}

func newRowSpec() rowSpec {
	start := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	return rowSpec{
		id:            uuid.New(),
		patient:       uuid.New(),
		practitioner:  uuid.New(),
		treatment:     uuid.New(),
		start:         start,
		end:           start.Add(30 * time.Minute),
		state:         string(StateScheduled),
		notifications: []byte("[]"),
	}
}

func (r rowSpec) rows() *pgxmock.Rows {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(appointmentRowColumns).AddRow(
		r.id, r.patient, r.practitioner, r.treatment, r.start, r.end, r.state, "notes",
		r.original, r.canceledBy, r.reason, r.notifications, created, created,
	)
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock, db.NewTxRunner(mock, 0))
}

func TestPgRepositoryGetAppointmentByID(t *testing.T) {
	mock, repo := newMockRepo(t)

	row := newRowSpec()
	originalID := uuid.New()
	row.state = string(StateCanceled)
	row.original = uuid.NullUUID{UUID: originalID, Valid: true}
	row.canceledBy = pgtype.Text{String: "patient", Valid: true}
	row.reason = pgtype.Text{String: "feeling better", Valid: true}
	row.notifications = []byte(`[{"channel":"email","sent_at":"2024-05-01T09:00:05Z","status":"sent"}]`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments WHERE id = $1")).
		WithArgs(row.id).
		WillReturnRows(row.rows())

	got, err := repo.GetAppointmentByID(context.Background(), row.id)
	require.NoError(t, err)

	assert.Equal(t, row.id, got.ID)
	assert.Equal(t, StateCanceled, got.State)
	require.NotNil(t, got.OriginalAppointmentID)
	assert.Equal(t, originalID, *got.OriginalAppointmentID)
	require.NotNil(t, got.CanceledBy)
	assert.Equal(t, CanceledByPatient, *got.CanceledBy)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "feeling better", *got.CancellationReason)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, ChannelEmail, got.Notifications[0].Channel)
	assert.Equal(t, DeliverySent, got.Notifications[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryGetAppointmentByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(appointmentRowColumns))

	_, err := repo.GetAppointmentByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryListAppointments(t *testing.T) {
	mock, repo := newMockRepo(t)

	row := newRowSpec()
	from := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	states := []string{"scheduled", "confirmed"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM appointments WHERE practitioner_id = $1 AND start_time >= $2 AND start_time < $3 AND state = ANY($4)")).
		WithArgs(row.practitioner, from, to, states).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY start_time, id LIMIT $5 OFFSET $6")).
		WithArgs(row.practitioner, from, to, states, 1, 2).
		WillReturnRows(row.rows())

	items, total, err := repo.ListAppointments(context.Background(), ListFilter{
		PractitionerID: &row.practitioner,
		From:           &from,
		To:             &to,
		States:         []State{StateScheduled, StateConfirmed},
		Limit:          1,
		Offset:         2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, row.id, items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListConditionsWithoutFilters(t *testing.T) {
	where, args := listConditions(ListFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestPgRepositoryAppendNotification(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()
	entry := NotificationEntry{Channel: ChannelSMS, SentAt: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC), Status: DeliveryFailed}

	mock.ExpectExec(regexp.QuoteMeta("SET notifications = notifications || $2::jsonb")).
		WithArgs(id, `[{"channel":"sms","sent_at":"2024-05-06T09:00:00Z","status":"failed"}]`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("SET notifications = notifications || $2::jsonb")).
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.AppendNotification(context.Background(), id, entry))
	assert.ErrorIs(t, repo.AppendNotification(context.Background(), id, entry), ErrAppointmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryWithinTxCommits(t *testing.T) {
	mock, repo := newMockRepo(t)
	row := newRowSpec()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 FOR UPDATE")).
		WithArgs(row.id).
		WillReturnRows(row.rows())

	confirmed := row
	confirmed.state = string(StateConfirmed)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE appointments SET start_time = $2")).
		WithArgs(row.id, row.start, row.end, "confirmed", "notes", nil, (*string)(nil)).
		WillReturnRows(confirmed.rows())
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO event_outbox")).
		WithArgs(pgxmock.AnyArg(), events.TypeAppointmentStateChanged, row.id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, row.id)
		if err != nil {
			return err
		}
		appt.State = StateConfirmed
		saved, err := tx.UpdateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		assert.Equal(t, StateConfirmed, saved.State)
		return tx.InsertEvent(ctx, events.TypeAppointmentStateChanged, saved.ID, map[string]any{"state": "confirmed"})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryWithinTxRollsBack(t *testing.T) {
	mock, repo := newMockRepo(t)
	boom := errors.New("boom")

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(context.Context, Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateMapsExclusionViolation(t *testing.T) {
	mock, repo := newMockRepo(t)
	row := newRowSpec()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO appointments")).
		WithArgs(pgxmock.AnyArg(), row.patient, row.practitioner, row.treatment, row.start, row.end,
			"scheduled", "", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.CreateAppointment(ctx, &Appointment{
			PatientID:      row.patient,
			PractitionerID: row.practitioner,
			TreatmentID:    row.treatment,
			StartTime:      row.start,
			EndTime:        row.end,
			State:          StateScheduled,
		})
		return err
	})
	assert.ErrorIs(t, err, ErrOverlapConstraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateMapsExclusionViolation(t *testing.T) {
	mock, repo := newMockRepo(t)
	row := newRowSpec()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE appointments")).
		WithArgs(row.id, row.start, row.end, "scheduled", "moved", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.UpdateAppointment(ctx, &Appointment{
			ID:        row.id,
			StartTime: row.start,
			EndTime:   row.end,
			State:     StateScheduled,
			Notes:     "moved",
		})
		return err
	})
	assert.ErrorIs(t, err, ErrOverlapConstraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateReturnsRow(t *testing.T) {
	mock, repo := newMockRepo(t)
	row := newRowSpec()
	originalID := uuid.New()
	row.original = uuid.NullUUID{UUID: originalID, Valid: true}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO appointments")).
		WithArgs(pgxmock.AnyArg(), row.patient, row.practitioner, row.treatment, row.start, row.end, "scheduled", "notes", originalID).
		WillReturnRows(row.rows())
	mock.ExpectCommit()

	var created *Appointment
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		var err error
		created, err = tx.CreateAppointment(ctx, &Appointment{
			PatientID:             row.patient,
			PractitionerID:        row.practitioner,
			TreatmentID:           row.treatment,
			StartTime:             row.start,
			EndTime:               row.end,
			State:                 StateScheduled,
			Notes:                 "notes",
			OriginalAppointmentID: &originalID,
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, row.id, created.ID)
	assert.Equal(t, originalID, *created.OriginalAppointmentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryFindBlockingAppointments(t *testing.T) {
	mock, repo := newMockRepo(t)
	row := newRowSpec()
	start, end := row.start.Add(-time.Hour), row.end.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery(regexp.QuoteMeta("AND state NOT IN ('canceled', 'rescheduled') AND start_time < $3 AND end_time > $2")).
		WithArgs(row.practitioner, start, end).
		WillReturnRows(row.rows())
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		found, err := tx.FindBlockingAppointments(ctx, row.practitioner, start, end)
		require.Len(t, found, 1)
		assert.Equal(t, row.id, found[0].ID)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
