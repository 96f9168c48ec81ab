package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/internal/scheduling"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and updates doctor and patient profiles.
type Store struct {
	db DB
}

// NewStore creates a profile store.
func NewStore(db DB) *Store {
	if db == nil {
		panic("profiles: db required")
	}
	return &Store{db: db}
}

const doctorColumns = `id, user_id, full_name, email, specialty, consultation_fee_minor,
	clinic_line, clinic_city, clinic_state, approval_status, is_online, timing, created_at, updated_at`

const patientColumns = `id, user_id, full_name, email, phone, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var (
		d      Doctor
		status string
		timing []byte
	)
	err := row.Scan(&d.ID, &d.UserID, &d.FullName, &d.Email, &d.Specialty, &d.ConsultationFeeMinor,
		&d.ClinicAddress.Line, &d.ClinicAddress.City, &d.ClinicAddress.State,
		&status, &d.IsOnline, &timing, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.ApprovalStatus = ApprovalStatus(status)
	if len(timing) > 0 {
		if err := json.Unmarshal(timing, &d.Timing); err != nil {
			return nil, fmt.Errorf("decode timing: %w", err)
		}
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &p.Phone, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetDoctor loads a doctor by id.
func (s *Store) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(s.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("doctor not found")
		}
		return nil, fmt.Errorf("profiles: get doctor: %w", err)
	}
	return d, nil
}

// GetPatient loads a patient by id.
func (s *Store) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(s.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("patient not found")
		}
		return nil, fmt.Errorf("profiles: get patient: %w", err)
	}
	return p, nil
}

// ListApprovedDoctors returns approved doctors ordered by name.
func (s *Store) ListApprovedDoctors(ctx context.Context, limit, offset int) ([]Doctor, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+doctorColumns+` FROM doctors
		WHERE approval_status = 'approved'
		ORDER BY full_name ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("profiles: list doctors: %w", err)
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("profiles: scan doctor: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ResolveCaller maps an authenticated user onto a profile. Doctor profiles
// win when a user holds both.
func (s *Store) ResolveCaller(ctx context.Context, userID string) (identity.Caller, error) {
	caller := identity.Caller{UserID: userID}
	if userID == "" {
		return caller, apperr.Unauthorized("missing subject")
	}

	var doctorID uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT id FROM doctors WHERE user_id = $1`, userID).Scan(&doctorID)
	switch {
	case err == nil:
		caller.Role = identity.RoleDoctor
		caller.ProfileID = doctorID.String()
		return caller, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return caller, fmt.Errorf("profiles: resolve doctor: %w", err)
	}

	var patientID uuid.UUID
	err = s.db.QueryRow(ctx, `SELECT id FROM patients WHERE user_id = $1`, userID).Scan(&patientID)
	switch {
	case err == nil:
		caller.Role = identity.RolePatient
		caller.ProfileID = patientID.String()
	case !errors.Is(err, pgx.ErrNoRows):
		return caller, fmt.Errorf("profiles: resolve patient: %w", err)
	}
	return caller, nil
}

// SetDoctorOnline flips the doctor's online flag.
func (s *Store) SetDoctorOnline(ctx context.Context, id uuid.UUID, online bool) (*Doctor, error) {
	return s.updateDoctor(ctx, "set online", `UPDATE doctors SET is_online = $2, updated_at = now()
		WHERE id = $1 RETURNING `+doctorColumns, id, online)
}

// SetDoctorApproval records an admin decision.
func (s *Store) SetDoctorApproval(ctx context.Context, id uuid.UUID, status ApprovalStatus) (*Doctor, error) {
	if !status.Valid() {
		return nil, apperr.Invalid("approval status must be pending, approved or rejected")
	}
	return s.updateDoctor(ctx, "set approval", `UPDATE doctors SET approval_status = $2, updated_at = now()
		WHERE id = $1 RETURNING `+doctorColumns, id, string(status))
}

// UpdateDoctorTiming validates and stores the doctor's sessions in 24-hour form.
func (s *Store) UpdateDoctorTiming(ctx context.Context, id uuid.UUID, timing scheduling.Timing) (*Doctor, error) {
	if err := timing.Validate(); err != nil {
		return nil, apperr.Invalid("%s", err.Error())
	}
	raw, err := json.Marshal(timing.Normalized())
	if err != nil {
		return nil, fmt.Errorf("profiles: encode timing: %w", err)
	}
	return s.updateDoctor(ctx, "update timing", `UPDATE doctors SET timing = $2, updated_at = now()
		WHERE id = $1 RETURNING `+doctorColumns, id, raw)
}

func (s *Store) updateDoctor(ctx context.Context, op, query string, args ...any) (*Doctor, error) {
	d, err := scanDoctor(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("doctor not found")
		}
		return nil, fmt.Errorf("profiles: %s: %w", op, err)
	}
	return d, nil
}
