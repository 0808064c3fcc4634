package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/funding/domain"
)

// CheckoutProvider is the hosted payment page.
type CheckoutProvider interface {
	CreateSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*domain.CheckoutSession, error)
}

// Ledger is the durable contribution store.
type Ledger interface {
	Record(ctx context.Context, c *domain.Contribution) (bool, error)
	GetBySession(ctx context.Context, sessionID string) (*domain.Contribution, error)
	List(ctx context.Context, limit, offset int) ([]domain.Contribution, int, error)
	Summary(ctx context.Context) (*domain.Summary, error)
}

// PendingStore remembers started checkouts until they are settled.
type PendingStore interface {
	Save(ctx context.Context, p *domain.PendingCheckout) error
	Get(ctx context.Context, sessionID string) (*domain.PendingCheckout, error)
	Remove(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]domain.PendingCheckout, error)
}

// Recorder counts confirmation outcomes.
type Recorder interface {
	RecordConfirmation(outcome string)
}

// Checkout is what the client needs to redirect to the provider.
type Checkout struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Confirmation is the result of confirming a session.
type Confirmation struct {
	Contribution *domain.Contribution `json:"contribution"`
	Created      bool                 `json:"created"`
}

type Page struct {
	Items []domain.Contribution `json:"items"`
	Total int                   `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

// FundingService runs the checkout flow and the ledger.
type FundingService struct {
	provider CheckoutProvider
	ledger   Ledger
	pending  PendingStore
	metrics  Recorder
	currency string
	log      *zap.Logger
	now      func() time.Time
}

func NewFundingService(provider CheckoutProvider, ledger Ledger, pending PendingStore, metrics Recorder, currency string, log *zap.Logger) *FundingService {
	return &FundingService{
		provider: provider,
		ledger:   ledger,
		pending:  pending,
		metrics:  metrics,
		currency: strings.ToLower(currency),
		log:      log,
		now:      time.Now,
	}
}

// Initiate opens a checkout session for the caller. Nothing reaches the
// ledger until the session is confirmed.
func (s *FundingService) Initiate(ctx context.Context, sess access.Session, senderName string, amount float64) (*Checkout, error) {
	minor, err := domain.ValidateAmount(amount)
	if err != nil {
		return nil, err
	}
	senderName = strings.TrimSpace(senderName)
	if senderName == "" {
		senderName = sess.Identity.Name
	}
	if senderName == "" {
		return nil, errs.Validation("senderName is required")
	}

	cs, err := s.provider.CreateSession(ctx, domain.CheckoutRequest{
		SenderName:  senderName,
		SenderEmail: sess.Email(),
		AmountMinor: minor,
		Currency:    s.currency,
	})
	if err != nil {
		return nil, err
	}

	p := &domain.PendingCheckout{
		SessionID:   cs.ID,
		SenderName:  senderName,
		SenderEmail: sess.Email(),
		Amount:      domain.FromMinor(minor),
		Currency:    s.currency,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.pending.Save(ctx, p); err != nil {
		// The provider metadata still carries the sender, so confirm works without it.
		s.log.Warn("pending checkout not tracked", zap.String("session_id", cs.ID), zap.Error(err))
	}
	s.log.Info("checkout initiated", zap.String("session_id", cs.ID), zap.String("sender", sess.Email()), zap.Float64("amount", p.Amount))
	return &Checkout{ID: cs.ID, URL: cs.URL}, nil
}

// Confirm records the contribution for a paid session. Repeated calls for
// the same session return the original record with Created=false.
func (s *FundingService) Confirm(ctx context.Context, sessionID string) (conf *Confirmation, err error) {
	defer func() { s.record(conf, err) }()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errs.Validation("session_id is required")
	}
	if existing, err := s.ledger.GetBySession(ctx, sessionID); err == nil {
		return &Confirmation{Contribution: existing}, nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	cs, err := s.provider.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !cs.Paid {
		return nil, errs.Conflict("checkout session %s is not paid", sessionID)
	}

	c := &domain.Contribution{
		SessionID: sessionID,
		Amount:    domain.FromMinor(cs.AmountMinor),
		Currency:  strings.ToLower(cs.Currency),
		GiveAt:    s.now().UTC(),
	}
	if p, err := s.pending.Get(ctx, sessionID); err == nil {
		c.SenderName, c.SenderEmail = p.SenderName, p.SenderEmail
	} else {
		c.SenderName, c.SenderEmail = cs.Metadata["sender_name"], cs.Metadata["sender_email"]
	}
	if c.Currency == "" {
		c.Currency = s.currency
	}

	created, err := s.ledger.Record(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.pending.Remove(ctx, sessionID); err != nil {
		s.log.Warn("pending checkout not cleared", zap.String("session_id", sessionID), zap.Error(err))
	}
	if created {
		s.log.Info("contribution recorded",
			zap.String("session_id", sessionID), zap.String("sender", c.SenderEmail), zap.Float64("amount", c.Amount))
	}
	return &Confirmation{Contribution: c, Created: created}, nil
}

func (s *FundingService) record(conf *Confirmation, err error) {
	switch {
	case err != nil:
		s.metrics.RecordConfirmation(string(errs.KindOf(err)))
	case conf.Created:
		s.metrics.RecordConfirmation("recorded")
	default:
		s.metrics.RecordConfirmation("duplicate")
	}
}

// List returns a page of the ledger, newest first.
func (s *FundingService) List(ctx context.Context, page, limit int) (*Page, error) {
	items, total, err := s.ledger.List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *FundingService) Summary(ctx context.Context) (*domain.Summary, error) {
	return s.ledger.Summary(ctx)
}

// ReconcileResult counts what one reconciliation pass did.
type ReconcileResult struct {
	Confirmed int
	Dropped   int
	Waiting   int
}

// Reconcile settles pending sessions whose payer never came back: paid ones
// are confirmed, expired ones are dropped, open ones are left alone.
func (s *FundingService) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	list, err := s.pending.List(ctx)
	if err != nil {
		return res, err
	}

	for _, p := range list {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		cs, err := s.provider.GetSession(ctx, p.SessionID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			s.drop(ctx, p.SessionID)
			res.Dropped++
			continue
		case err != nil:
			s.log.Warn("reconcile: session lookup failed", zap.String("session_id", p.SessionID), zap.Error(err))
			res.Waiting++
			continue
		}

		switch {
		case cs.Paid:
			if _, err := s.Confirm(ctx, p.SessionID); err != nil {
				s.log.Warn("reconcile: confirm failed", zap.String("session_id", p.SessionID), zap.Error(err))
				res.Waiting++
				continue
			}
			res.Confirmed++
		case cs.Expired:
			s.drop(ctx, p.SessionID)
			res.Dropped++
		default:
			res.Waiting++
		}
	}
	return res, nil
}

func (s *FundingService) drop(ctx context.Context, sessionID string) {
	if err := s.pending.Remove(ctx, sessionID); err != nil {
		s.log.Warn("reconcile: drop failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
