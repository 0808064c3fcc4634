package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	donordomain "github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/requests/domain"
	"github.com/bloodlink/bloodlink-backend/internal/requests/events"
)

// Repository is the request registry storage.
type Repository interface {
	Create(ctx context.Context, req *domain.Request) error
	Get(ctx context.Context, id string) (*domain.Request, error)
	List(ctx context.Context, f domain.Filter) ([]domain.Request, int, error)
	Latest(ctx context.Context, requesterEmail string) ([]domain.Request, error)
	Pending(ctx context.Context) ([]domain.Request, error)
	UpdateDetails(ctx context.Context, id string, d domain.Details) (*domain.Request, error)
	Transition(ctx context.Context, id string, from, to domain.Status, assignee *domain.Assignee) (*domain.Request, error)
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
}

// DonorLookup reads the donor record behind a session.
type DonorLookup interface {
	GetByEmail(ctx context.Context, email string) (*donordomain.Donor, error)
}

type Locations interface {
	Canonical(district, upazila string) (string, string, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// Recorder counts transition attempts by action and outcome.
type Recorder interface {
	RecordTransition(action, outcome string)
}

// Page is one page of a request listing.
type Page struct {
	Items []domain.Request `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// RequestService enforces the request lifecycle and who may drive it.
type RequestService struct {
	repo      Repository
	donors    DonorLookup
	locations Locations
	events    Publisher
	metrics   Recorder
	log       *zap.Logger
	now       func() time.Time
}

func NewRequestService(repo Repository, donors DonorLookup, locations Locations, pub Publisher, metrics Recorder, log *zap.Logger) *RequestService {
	return &RequestService{
		repo:      repo,
		donors:    donors,
		locations: locations,
		events:    pub,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Create posts a new pending request on behalf of the caller. The blocked
// check reads the donor record directly rather than the cached session.
func (s *RequestService) Create(ctx context.Context, sess access.Session, d domain.Details) (*domain.Request, error) {
	if err := sess.Require(access.CreateRequest); err != nil {
		return nil, err
	}
	if sess.Blocked() {
		return nil, errs.Forbidden("blocked donors cannot create donation requests")
	}
	donor, err := s.donors.GetByEmail(ctx, sess.Email())
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Forbidden("register as a donor before posting requests")
	}
	if err != nil {
		return nil, err
	}
	if donor.Status == donordomain.StatusBlocked {
		return nil, errs.Forbidden("blocked donors cannot create donation requests")
	}

	d, err = s.validate(d)
	if err != nil {
		return nil, err
	}
	req := &domain.Request{RequesterName: donor.Name, RequesterEmail: donor.Email}
	req.SetDetails(d)
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeCreated, sess, req)
	s.log.Info("donation request created",
		zap.String("request_id", req.ID), zap.String("requester", req.RequesterEmail), zap.String("blood_group", req.BloodGroup))
	return req, nil
}

func (s *RequestService) validate(d domain.Details) (domain.Details, error) {
	trim := func(v *string) { *v = strings.TrimSpace(*v) }
	trim(&d.RecipientName)
	trim(&d.FullAddress)
	trim(&d.HospitalName)
	trim(&d.DonationDate)
	trim(&d.DonationTime)
	trim(&d.RequestMessage)

	switch {
	case d.RecipientName == "":
		return d, errs.Validation("recipientName is required")
	case d.HospitalName == "":
		return d, errs.Validation("hospitalName is required")
	case d.FullAddress == "":
		return d, errs.Validation("fullAddress is required")
	}
	bg, err := donordomain.NormalizeBloodGroup(d.BloodGroup)
	if err != nil {
		return d, err
	}
	d.BloodGroup = bg
	if d.RecipientDistrict, d.RecipientUpazila, err = s.locations.Canonical(d.RecipientDistrict, d.RecipientUpazila); err != nil {
		return d, err
	}
	if _, err := time.Parse(time.DateOnly, d.DonationDate); err != nil {
		return d, errs.Validation("donationDate must be YYYY-MM-DD")
	}
	if _, err := time.Parse("15:04", d.DonationTime); err != nil {
		return d, errs.Validation("donationTime must be HH:MM")
	}
	return d, nil
}

// Get returns any request to an authenticated caller.
func (s *RequestService) Get(ctx context.Context, _ access.Session, id string) (*domain.Request, error) {
	return s.repo.Get(ctx, id)
}

// ListByRequester lists one requester's requests. Callers other than the
// requester need ViewAllRequests.
func (s *RequestService) ListByRequester(ctx context.Context, sess access.Session, email string, status domain.Status, page, limit int) (*Page, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		email = sess.Email()
	}
	if !sess.Owns(email) {
		if err := sess.Require(access.ViewAllRequests); err != nil {
			return nil, err
		}
	}
	return s.list(ctx, domain.Filter{RequesterEmail: email, Status: status}, page, limit)
}

// ListAll lists every request, optionally by status.
func (s *RequestService) ListAll(ctx context.Context, sess access.Session, status domain.Status, page, limit int) (*Page, error) {
	if err := sess.Require(access.ViewAllRequests); err != nil {
		return nil, err
	}
	return s.list(ctx, domain.Filter{Status: status}, page, limit)
}

func (s *RequestService) list(ctx context.Context, f domain.Filter, page, limit int) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.Validation("invalid donationStatus %q", f.Status)
	}
	f.Limit = limit
	f.Offset = (page - 1) * limit
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Request{}
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Latest returns the requester's three most recent requests.
func (s *RequestService) Latest(ctx context.Context, sess access.Session, email string) ([]domain.Request, error) {
	email = auth.NormalizeEmail(email)
	if email == "" {
		email = sess.Email()
	}
	if !sess.Owns(email) {
		if err := sess.Require(access.ViewAllRequests); err != nil {
			return nil, err
		}
	}
	return s.repo.Latest(ctx, email)
}

// Pending is the public board of requests waiting for a donor.
func (s *RequestService) Pending(ctx context.Context) ([]domain.Request, error) {
	return s.repo.Pending(ctx)
}

// Update edits recipient details. The owner or a caller holding
// EditAnyRequest may edit while the request is pending or in progress.
func (s *RequestService) Update(ctx context.Context, sess access.Session, id string, p domain.Patch) (*domain.Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayManage(sess, req, access.EditAnyRequest) {
		return nil, errs.Forbidden("cannot edit request %s", id)
	}
	if !req.DonationStatus.Editable() {
		return nil, errs.Conflict("cannot edit a request that is %s", req.DonationStatus)
	}

	d, err := s.validate(p.Apply(req.Details()))
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateDetails(ctx, id, d)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeUpdated, sess, updated)
	return updated, nil
}

// Accept assigns the caller as donor: pending -> inprogress. Exactly one of
// several concurrent acceptors wins; the rest get a conflict.
func (s *RequestService) Accept(ctx context.Context, sess access.Session, id, claimedEmail string) (req *domain.Request, err error) {
	defer func() { s.record(domain.ActionAccept, err) }()

	if claimedEmail != "" && !sess.Owns(claimedEmail) {
		return nil, errs.Validation("donorEmail must be the caller's own email")
	}
	if sess.Blocked() {
		return nil, errs.Forbidden("blocked donors cannot accept requests")
	}
	donor, err := s.donors.GetByEmail(ctx, sess.Email())
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Forbidden("register as a donor before accepting requests")
	}
	if err != nil {
		return nil, err
	}
	if donor.Status == donordomain.StatusBlocked {
		return nil, errs.Forbidden("blocked donors cannot accept requests")
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Owns(current.RequesterEmail) {
		return nil, errs.Forbidden("requesters cannot accept their own request")
	}
	to, err := domain.Next(current.DonationStatus, domain.ActionAccept)
	if err != nil {
		return nil, err
	}

	req, err = s.repo.Transition(ctx, id, current.DonationStatus, to, &domain.Assignee{Name: donor.Name, Email: donor.Email})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeTransition, sess, req)
	s.log.Info("donation request accepted", zap.String("request_id", id), zap.String("donor", donor.Email))
	return req, nil
}

// Transition moves an in-progress request to done or canceled. The owner, a
// volunteer or an admin may do so. Donor fields are kept on cancel.
func (s *RequestService) Transition(ctx context.Context, sess access.Session, id string, target domain.Status) (*domain.Request, error) {
	action, err := domain.ActionFor(target)
	if err != nil {
		return nil, err
	}
	if action == domain.ActionAccept {
		return s.Accept(ctx, sess, id, "")
	}

	req, err := s.transition(ctx, sess, id, action)
	s.record(action, err)
	return req, err
}

func (s *RequestService) transition(ctx context.Context, sess access.Session, id string, action domain.Action) (*domain.Request, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayManage(sess, current, access.TransitionAnyRequest) {
		return nil, errs.Forbidden("cannot %s request %s", action, id)
	}
	to, err := domain.Next(current.DonationStatus, action)
	if err != nil {
		return nil, err
	}

	req, err := s.repo.Transition(ctx, id, current.DonationStatus, to, nil)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TypeTransition, sess, req)
	s.log.Info("donation request transitioned",
		zap.String("request_id", id), zap.String("status", string(to)), zap.String("by", sess.Email()))
	return req, nil
}

// Delete removes a request in any state. Only the owner or an admin may.
func (s *RequestService) Delete(ctx context.Context, sess access.Session, id string) error {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.mayManage(sess, req, access.DeleteAnyRequest) {
		return errs.Forbidden("cannot delete request %s", id)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.events.Publish(ctx, events.Event{Type: events.TypeDeleted, RequestID: id, Actor: sess.Email(), At: s.now()})
	s.log.Info("donation request deleted", zap.String("request_id", id), zap.String("by", sess.Email()))
	return nil
}

// CountByStatus feeds the dashboard counters.
func (s *RequestService) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

// mayManage: owners holding ManageOwnRequest, or anyone holding the
// capability for requests they do not own.
func (s *RequestService) mayManage(sess access.Session, req *domain.Request, anyCap access.Capability) bool {
	if sess.Owns(req.RequesterEmail) && sess.Can(access.ManageOwnRequest) {
		return true
	}
	return sess.Can(anyCap)
}

func (s *RequestService) publish(ctx context.Context, t events.Type, sess access.Session, req *domain.Request) {
	s.events.Publish(ctx, events.Event{
		Type:      t,
		RequestID: req.ID,
		Status:    req.DonationStatus,
		Actor:     sess.Email(),
		At:        s.now(),
		Request:   req,
	})
}

func (s *RequestService) record(action domain.Action, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	s.metrics.RecordTransition(string(action), outcome)
}
