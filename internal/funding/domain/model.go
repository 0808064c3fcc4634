package domain

import (
	"math"
	"time"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

// MaxAmount bounds a single contribution.
const MaxAmount = 1_000_000

// Contribution is a confirmed payment. One exists per checkout session.
type Contribution struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	SenderName  string    `json:"senderName"`
	SenderEmail string    `json:"senderEmail"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	GiveAt      time.Time `json:"giveAt"`
}

// PendingCheckout is a checkout session that has been started but not yet
// confirmed. It never reaches the ledger unless the provider reports it paid.
type PendingCheckout struct {
	SessionID   string    `json:"sessionId"`
	SenderName  string    `json:"senderName"`
	SenderEmail string    `json:"senderEmail"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary aggregates the ledger for dashboards.
type Summary struct {
	Count  int        `json:"count"`
	Total  float64    `json:"total"`
	Latest *time.Time `json:"latest,omitempty"`
}

// ValidateAmount checks amount is positive, bounded and has at most two
// decimal places, and returns it in minor units.
func ValidateAmount(amount float64) (int64, error) {
	if math.IsNaN(amount) || amount <= 0 {
		return 0, errs.Validation("amount must be positive")
	}
	if amount > MaxAmount {
		return 0, errs.Validation("amount must not exceed %d", MaxAmount)
	}
	cents := math.Round(amount * 100)
	if math.Abs(cents-amount*100) > 1e-6 {
		return 0, errs.Validation("amount has more than two decimal places")
	}
	return int64(cents), nil
}

// FromMinor converts minor units back to an amount.
func FromMinor(cents int64) float64 { return float64(cents) / 100 }
