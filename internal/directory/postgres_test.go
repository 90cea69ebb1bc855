package directory

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPatientsExists(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewPatients(mock).Exists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientsNotificationPreferences(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT email, phone, notify_email, notify_sms")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"email", "phone", "notify_email", "notify_sms"}).
			AddRow(pgtype.Text{String: "ana@example.com", Valid: true}, pgtype.Text{}, true, true))

	prefs, err := NewPatients(mock).NotificationPreferences(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", prefs.Email)
	assert.True(t, prefs.WantsEmail())
	assert.False(t, prefs.WantsSMS(), "sms enabled without a phone number")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientsNotificationPreferencesNotFound(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM patients")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"email", "phone", "notify_email", "notify_sms"}))

	_, err := NewPatients(mock).NotificationPreferences(context.Background(), id)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestPractitionersIsActive(t *testing.T) {
	mock := newMock(t)
	known, unknown := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT active FROM practitioners WHERE id = $1")).
		WithArgs(known).
		WillReturnRows(pgxmock.NewRows([]string{"active"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT active FROM practitioners WHERE id = $1")).
		WithArgs(unknown).
		WillReturnRows(pgxmock.NewRows([]string{"active"}))

	practitioners := NewPractitioners(mock)

	active, err := practitioners.IsActive(context.Background(), known)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = practitioners.IsActive(context.Background(), unknown)
	require.NoError(t, err)
	assert.False(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTreatmentsGet(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	p1, p2 := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, active FROM treatments WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "active"}).AddRow(id, "Botox", true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM treatment_practitioners WHERE treatment_id = $1")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"practitioner_id"}).AddRow(p1).AddRow(p2))

	tr, err := NewTreatments(mock).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Botox", tr.Name)
	assert.True(t, tr.Active)
	assert.Equal(t, []uuid.UUID{p1, p2}, tr.EligiblePractitioners)
	assert.True(t, tr.Allows(p2))
	assert.False(t, tr.Allows(uuid.New()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTreatmentsGetNotFound(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM treatments WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "active"}))

	_, err := NewTreatments(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, appointment.ErrTreatmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
