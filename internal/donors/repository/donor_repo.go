package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/storage/postgres"
)

const donorColumns = `id::text, email, name, image, blood_group, district, upazila, role, status, created_at, updated_at`

// DonorRepository handles PostgreSQL operations for donors
type DonorRepository struct {
	db postgres.PgxPool
}

func NewDonorRepository(db postgres.PgxPool) *DonorRepository {
	return &DonorRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDonor(row scanner) (*domain.Donor, error) {
	var d domain.Donor
	var role, status string
	if err := row.Scan(&d.ID, &d.Email, &d.Name, &d.Image, &d.BloodGroup, &d.District, &d.Upazila,
		&role, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Role = domain.Role(role)
	d.Status = domain.Status(status)
	return &d, nil
}

// Create inserts a donor with role donor and status active.
func (r *DonorRepository) Create(ctx context.Context, d *domain.Donor) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.Role = domain.RoleDonor
	d.Status = domain.StatusActive

	const q = `
INSERT INTO donors (id, email, name, image, blood_group, district, upazila, role, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, q, d.ID, d.Email, d.Name, d.Image, d.BloodGroup, d.District, d.Upazila,
		string(d.Role), string(d.Status)).Scan(&d.CreatedAt, &d.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return errs.Conflict("donor %s is already registered", d.Email)
	}
	if err != nil {
		return fmt.Errorf("create donor: %w", err)
	}
	return nil
}

func (r *DonorRepository) GetByEmail(ctx context.Context, email string) (*domain.Donor, error) {
	q := `SELECT ` + donorColumns + ` FROM donors WHERE email = $1`
	d, err := scanDonor(r.db.QueryRow(ctx, q, email))
	if postgres.IsNoRows(err) {
		return nil, errs.NotFound("donor %s not found", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get donor by email: %w", err)
	}
	return d, nil
}

func (r *DonorRepository) GetByID(ctx context.Context, id string) (*domain.Donor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("donor %s not found", id)
	}
	q := `SELECT ` + donorColumns + ` FROM donors WHERE id = $1`
	d, err := scanDonor(r.db.QueryRow(ctx, q, id))
	if postgres.IsNoRows(err) {
		return nil, errs.NotFound("donor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get donor: %w", err)
	}
	return d, nil
}

// UpdateProfile writes the owner-editable fields. Email is never written.
func (r *DonorRepository) UpdateProfile(ctx context.Context, d *domain.Donor) error {
	const q = `
UPDATE donors
SET name = $2, image = $3, blood_group = $4, district = $5, upazila = $6, updated_at = now()
WHERE id = $1
RETURNING updated_at`
	err := r.db.QueryRow(ctx, q, d.ID, d.Name, d.Image, d.BloodGroup, d.District, d.Upazila).Scan(&d.UpdatedAt)
	if postgres.IsNoRows(err) {
		return errs.NotFound("donor %s not found", d.ID)
	}
	if err != nil {
		return fmt.Errorf("update donor: %w", err)
	}
	return nil
}

// SetStatus is a single-field update; setting the current value leaves the row
// untouched, updated_at included.
func (r *DonorRepository) SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Donor, error) {
	return r.setField(ctx, "status", id, string(status))
}

// SetRole behaves like SetStatus for the role column.
func (r *DonorRepository) SetRole(ctx context.Context, id string, role domain.Role) (*domain.Donor, error) {
	return r.setField(ctx, "role", id, string(role))
}

func (r *DonorRepository) setField(ctx context.Context, column, id, value string) (*domain.Donor, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("donor %s not found", id)
	}
	q := fmt.Sprintf(`
UPDATE donors
SET %[1]s = $2,
    updated_at = CASE WHEN %[1]s = $2 THEN updated_at ELSE now() END
WHERE id = $1
RETURNING `+donorColumns, column)
	d, err := scanDonor(r.db.QueryRow(ctx, q, id, value))
	if postgres.IsNoRows(err) {
		return nil, errs.NotFound("donor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("set donor %s: %w", column, err)
	}
	return d, nil
}

// Search returns donors matching every non-empty filter, blocked donors excluded
// unless IncludeBlocked is set.
func (r *DonorRepository) Search(ctx context.Context, f domain.SearchFilter) ([]domain.Donor, error) {
	var w postgres.Where
	w.AddIf("blood_group = ?", f.BloodGroup)
	w.AddIf("lower(district) = lower(?)", f.District)
	w.AddIf("lower(upazila) = lower(?)", f.Upazila)
	if !f.IncludeBlocked {
		w.Add("status = ?", string(domain.StatusActive))
	}
	q := `SELECT ` + donorColumns + ` FROM donors` + w.SQL() + ` ORDER BY name`
	return r.query(ctx, q, w.Args()...)
}

// List returns a page of donors plus the total matching count.
func (r *DonorRepository) List(ctx context.Context, f domain.ListFilter) ([]domain.Donor, int, error) {
	var w postgres.Where
	w.AddIf("email = ?", f.Email)
	w.AddIf("role = ?", string(f.Role))
	w.AddIf("status = ?", string(f.Status))
	w.AddIf("blood_group = ?", f.BloodGroup)
	w.AddIf("lower(district) = lower(?)", f.District)
	w.AddIf("lower(upazila) = lower(?)", f.Upazila)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM donors`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count donors: %w", err)
	}

	q := `SELECT ` + donorColumns + ` FROM donors` + w.SQL() +
		` ORDER BY created_at DESC LIMIT ` + w.Next(1) + ` OFFSET ` + w.Next(2)
	args := append(w.Args(), f.Limit, f.Offset)
	items, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Count returns the number of donors per status.
func (r *DonorRepository) Count(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, count(*) FROM donors GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count donors: %w", err)
	}
	defer rows.Close()

	out := map[domain.Status]int{domain.StatusActive: 0, domain.StatusBlocked: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.Status(status)] = n
	}
	return out, rows.Err()
}

func (r *DonorRepository) query(ctx context.Context, q string, args ...any) ([]domain.Donor, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query donors: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Donor, 0, 16)
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
