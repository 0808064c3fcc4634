package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/requests/domain"
	"github.com/bloodlink/bloodlink-backend/internal/storage/postgres"
)

const requestColumns = `id::text, requester_name, requester_email, recipient_name, recipient_district,
recipient_upazila, full_address, hospital_name, blood_group, donation_date, donation_time,
request_message, donor_name, donor_email, donation_status, created_at, updated_at`

// LatestLimit is how many requests the dashboard's recent list shows.
const LatestLimit = 3

// RequestRepository handles PostgreSQL operations for donation requests.
// Every status change is a single conditional UPDATE so concurrent callers
// cannot both win the same transition.
type RequestRepository struct {
	db postgres.PgxPool
}

func NewRequestRepository(db postgres.PgxPool) *RequestRepository {
	return &RequestRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*domain.Request, error) {
	var r domain.Request
	var status string
	if err := row.Scan(&r.ID, &r.RequesterName, &r.RequesterEmail, &r.RecipientName, &r.RecipientDistrict,
		&r.RecipientUpazila, &r.FullAddress, &r.HospitalName, &r.BloodGroup, &r.DonationDate, &r.DonationTime,
		&r.RequestMessage, &r.DonorName, &r.DonorEmail, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.DonationStatus = domain.Status(status)
	return &r, nil
}

// Create inserts a pending request with empty donor fields.
func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.DonationStatus = domain.StatusPending
	req.DonorName, req.DonorEmail = "", ""

	const q = `
INSERT INTO donation_requests (id, requester_name, requester_email, recipient_name, recipient_district,
    recipient_upazila, full_address, hospital_name, blood_group, donation_date, donation_time,
    request_message, donation_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, q, req.ID, req.RequesterName, req.RequesterEmail, req.RecipientName,
		req.RecipientDistrict, req.RecipientUpazila, req.FullAddress, req.HospitalName, req.BloodGroup,
		req.DonationDate, req.DonationTime, req.RequestMessage, string(req.DonationStatus)).
		Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (r *RequestRepository) Get(ctx context.Context, id string) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("request %s not found", id)
	}
	q := `SELECT ` + requestColumns + ` FROM donation_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRow(ctx, q, id))
	if postgres.IsNoRows(err) {
		return nil, errs.NotFound("request %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// List returns a page of requests, newest first, with the total match count.
func (r *RequestRepository) List(ctx context.Context, f domain.Filter) ([]domain.Request, int, error) {
	var w postgres.Where
	w.AddIf("requester_email = ?", f.RequesterEmail)
	w.AddIf("donation_status = ?", string(f.Status))

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM donation_requests`+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	q := `SELECT ` + requestColumns + ` FROM donation_requests` + w.SQL() +
		` ORDER BY created_at DESC LIMIT ` + w.Next(1) + ` OFFSET ` + w.Next(2)
	items, err := r.query(ctx, q, append(w.Args(), f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Latest returns the requester's most recent requests.
func (r *RequestRepository) Latest(ctx context.Context, requesterEmail string) ([]domain.Request, error) {
	q := `SELECT ` + requestColumns + ` FROM donation_requests WHERE requester_email = $1
ORDER BY created_at DESC LIMIT $2`
	return r.query(ctx, q, requesterEmail, LatestLimit)
}

// Pending returns every pending request, soonest donation date first.
func (r *RequestRepository) Pending(ctx context.Context) ([]domain.Request, error) {
	q := `SELECT ` + requestColumns + ` FROM donation_requests WHERE donation_status = $1
ORDER BY donation_date, donation_time, created_at`
	return r.query(ctx, q, string(domain.StatusPending))
}

// UpdateDetails writes the recipient fields while the request is still
// editable. A request that left the editable states is a conflict.
func (r *RequestRepository) UpdateDetails(ctx context.Context, id string, d domain.Details) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("request %s not found", id)
	}
	q := `
UPDATE donation_requests
SET recipient_name = $2, recipient_district = $3, recipient_upazila = $4, full_address = $5,
    hospital_name = $6, blood_group = $7, donation_date = $8, donation_time = $9,
    request_message = $10, updated_at = now()
WHERE id = $1 AND donation_status IN ($11, $12)
RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, q, id, d.RecipientName, d.RecipientDistrict, d.RecipientUpazila,
		d.FullAddress, d.HospitalName, d.BloodGroup, d.DonationDate, d.DonationTime, d.RequestMessage,
		string(domain.StatusPending), string(domain.StatusInProgress)))
	if postgres.IsNoRows(err) {
		return nil, r.missOrConflict(ctx, id, "edit")
	}
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	return req, nil
}

// Transition moves the request from one status to another only if it is
// still in from. A non-nil assignee is stamped in the same statement.
func (r *RequestRepository) Transition(ctx context.Context, id string, from, to domain.Status, assignee *domain.Assignee) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.NotFound("request %s not found", id)
	}

	var (
		q    string
		args []any
	)
	if assignee != nil {
		q = `
UPDATE donation_requests
SET donation_status = $3, donor_name = $4, donor_email = $5, updated_at = now()
WHERE id = $1 AND donation_status = $2
RETURNING ` + requestColumns
		args = []any{id, string(from), string(to), assignee.Name, assignee.Email}
	} else {
		q = `
UPDATE donation_requests
SET donation_status = $3, updated_at = now()
WHERE id = $1 AND donation_status = $2
RETURNING ` + requestColumns
		args = []any{id, string(from), string(to)}
	}

	req, err := scanRequest(r.db.QueryRow(ctx, q, args...))
	if postgres.IsNoRows(err) {
		return nil, r.missOrConflict(ctx, id, "move to "+string(to))
	}
	if err != nil {
		return nil, fmt.Errorf("transition request: %w", err)
	}
	return req, nil
}

// missOrConflict explains why a conditional update matched no row.
func (r *RequestRepository) missOrConflict(ctx context.Context, id, op string) error {
	var status string
	err := r.db.QueryRow(ctx, `SELECT donation_status FROM donation_requests WHERE id = $1`, id).Scan(&status)
	if postgres.IsNoRows(err) {
		return errs.NotFound("request %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("check request: %w", err)
	}
	return errs.Conflict("cannot %s a request that is %s", op, status)
}

func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errs.NotFound("request %s not found", id)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM donation_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("request %s not found", id)
	}
	return nil
}

// CountByStatus returns the number of requests in each status.
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT donation_status, count(*) FROM donation_requests GROUP BY donation_status`)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Status]int, len(domain.Statuses))
	for _, s := range domain.Statuses {
		out[s] = 0
	}
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

func (r *RequestRepository) query(ctx context.Context, q string, args ...any) ([]domain.Request, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	out := []domain.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}
