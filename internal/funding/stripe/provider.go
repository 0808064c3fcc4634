// Package stripe adapts Stripe Checkout to the funding ledger.
package stripe

import (
	"context"
	"strings"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/bloodlink/bloodlink-backend/config"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/funding/domain"
)

const sessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// Provider creates and inspects Stripe Checkout sessions.
type Provider struct {
	api        *client.API
	successURL string
	cancelURL  string
	product    string
}

// NewProvider builds a provider. A nil backends value uses Stripe's defaults;
// tests pass backends pointed at a local server.
func NewProvider(cfg config.PaymentConfig, backends *stripego.Backends) *Provider {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, backends)
	return &Provider{
		api:        api,
		successURL: withSessionID(cfg.SuccessURL),
		cancelURL:  cfg.CancelURL,
		product:    "Blood donation fund contribution",
	}
}

// withSessionID makes Stripe append the session id on redirect-back.
func withSessionID(u string) string {
	if strings.Contains(u, sessionPlaceholder) {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "session_id=" + sessionPlaceholder
}

func (p *Provider) CreateSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{
		Mode:          stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:    stripego.String(p.successURL),
		CancelURL:     stripego.String(p.cancelURL),
		CustomerEmail: stripego.String(req.SenderEmail),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency: stripego.String(req.Currency),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(p.product),
				},
				UnitAmount: stripego.Int64(req.AmountMinor),
			},
			Quantity: stripego.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("sender_name", req.SenderName)
	params.AddMetadata("sender_email", req.SenderEmail)

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, errs.External(err, "create checkout session")
	}
	return toDomain(s), nil
}

func (p *Provider) GetSession(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		if se, ok := err.(*stripego.Error); ok && se.HTTPStatusCode == 404 {
			return nil, errs.NotFound("checkout session %s not found", id)
		}
		return nil, errs.External(err, "get checkout session")
	}
	return toDomain(s), nil
}

func toDomain(s *stripego.CheckoutSession) *domain.CheckoutSession {
	return &domain.CheckoutSession{
		ID:          s.ID,
		URL:         s.URL,
		Paid:        s.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid,
		Expired:     s.Status == stripego.CheckoutSessionStatusExpired,
		AmountMinor: s.AmountTotal,
		Currency:    string(s.Currency),
		Metadata:    s.Metadata,
	}
}
