package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/funding/domain"
	"github.com/bloodlink/bloodlink-backend/internal/storage/postgres"
)

const contributionColumns = `id::text, session_id, sender_name, sender_email, amount::float8, currency, give_at`

// ContributionRepository is the durable funding ledger.
type ContributionRepository struct {
	db postgres.PgxPool
}

func NewContributionRepository(db postgres.PgxPool) *ContributionRepository {
	return &ContributionRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContribution(row scanner) (*domain.Contribution, error) {
	var c domain.Contribution
	if err := row.Scan(&c.ID, &c.SessionID, &c.SenderName, &c.SenderEmail, &c.Amount, &c.Currency, &c.GiveAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Record inserts c unless its session is already recorded. It reports
// whether this call created the row; either way c holds the stored record.
func (r *ContributionRepository) Record(ctx context.Context, c *domain.Contribution) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	const q = `
INSERT INTO funding_contributions (id, session_id, sender_name, sender_email, amount, currency, give_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id) DO NOTHING
RETURNING give_at`
	err := r.db.QueryRow(ctx, q, c.ID, c.SessionID, c.SenderName, c.SenderEmail, c.Amount, c.Currency, c.GiveAt).Scan(&c.GiveAt)
	if err == nil {
		return true, nil
	}
	if !postgres.IsNoRows(err) {
		return false, fmt.Errorf("record contribution: %w", err)
	}

	existing, err := r.GetBySession(ctx, c.SessionID)
	if err != nil {
		return false, err
	}
	*c = *existing
	return false, nil
}

func (r *ContributionRepository) GetBySession(ctx context.Context, sessionID string) (*domain.Contribution, error) {
	q := `SELECT ` + contributionColumns + ` FROM funding_contributions WHERE session_id = $1`
	c, err := scanContribution(r.db.QueryRow(ctx, q, sessionID))
	if postgres.IsNoRows(err) {
		return nil, errs.NotFound("no contribution for session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get contribution: %w", err)
	}
	return c, nil
}

// List returns contributions newest first with the total count.
func (r *ContributionRepository) List(ctx context.Context, limit, offset int) ([]domain.Contribution, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM funding_contributions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count contributions: %w", err)
	}

	q := `SELECT ` + contributionColumns + ` FROM funding_contributions ORDER BY give_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	out := []domain.Contribution{}
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *ContributionRepository) Summary(ctx context.Context) (*domain.Summary, error) {
	const q = `SELECT count(*), COALESCE(sum(amount), 0)::float8, max(give_at) FROM funding_contributions`
	var (
		s      domain.Summary
		latest *time.Time
	)
	if err := r.db.QueryRow(ctx, q).Scan(&s.Count, &s.Total, &latest); err != nil {
		return nil, fmt.Errorf("summarize contributions: %w", err)
	}
	s.Latest = latest
	return &s, nil
}
