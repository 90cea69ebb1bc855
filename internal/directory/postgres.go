package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/appointment"
)

var ErrPatientNotFound = errors.New("patient not found")

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// NotificationPreferences is how a patient wants to hear about bookings.
type NotificationPreferences struct {
	Email        string
	Phone        string
	EmailEnabled bool
	SMSEnabled   bool
}

func (p NotificationPreferences) WantsEmail() bool { return p.EmailEnabled && p.Email != "" }
func (p NotificationPreferences) WantsSMS() bool   { return p.SMSEnabled && p.Phone != "" }

type Patients struct {
	db queryable
}

func NewPatients(db queryable) *Patients {
	return &Patients{db: db}
}

func (p *Patients) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("directory: patient exists: %w", err)
	}
	return ok, nil
}

func (p *Patients) NotificationPreferences(ctx context.Context, id uuid.UUID) (NotificationPreferences, error) {
	var (
		prefs        NotificationPreferences
		email, phone pgtype.Text
	)
	err := p.db.QueryRow(ctx, `
		SELECT email, phone, notify_email, notify_sms
		FROM patients
		WHERE id = $1
	`, id).Scan(&email, &phone, &prefs.EmailEnabled, &prefs.SMSEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotificationPreferences{}, ErrPatientNotFound
		}
		return NotificationPreferences{}, fmt.Errorf("directory: patient preferences: %w", err)
	}
	prefs.Email = email.String
	prefs.Phone = phone.String
	return prefs, nil
}

type Practitioners struct {
	db queryable
}

func NewPractitioners(db queryable) *Practitioners {
	return &Practitioners{db: db}
}

func (p *Practitioners) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM practitioners WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("directory: practitioner exists: %w", err)
	}
	return ok, nil
}

// IsActive reports false for unknown practitioners.
func (p *Practitioners) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := p.db.QueryRow(ctx, `SELECT active FROM practitioners WHERE id = $1`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("directory: practitioner active: %w", err)
	}
	return active, nil
}

// Treatments reads the treatment catalog and its eligibility table.
type Treatments struct {
	db queryable
}

func NewTreatments(db queryable) *Treatments {
	return &Treatments{db: db}
}

func (t *Treatments) Get(ctx context.Context, id uuid.UUID) (*appointment.Treatment, error) {
	var tr appointment.Treatment
	err := t.db.QueryRow(ctx, `
		SELECT id, name, active
		FROM treatments
		WHERE id = $1
	`, id).Scan(&tr.ID, &tr.Name, &tr.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrTreatmentNotFound
		}
		return nil, fmt.Errorf("directory: get treatment: %w", err)
	}

	rows, err := t.db.Query(ctx, `
		SELECT practitioner_id
		FROM treatment_practitioners
		WHERE treatment_id = $1
		ORDER BY practitioner_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("directory: treatment practitioners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pid uuid.UUID
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("directory: scan treatment practitioner: %w", err)
		}
		tr.EligiblePractitioners = append(tr.EligiblePractitioners, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: treatment practitioners: %w", err)
	}

	return &tr, nil
}
