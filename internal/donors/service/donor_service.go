package service

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	"github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

// Repository is the persistence the donor service needs.
type Repository interface {
	Create(ctx context.Context, d *domain.Donor) error
	GetByEmail(ctx context.Context, email string) (*domain.Donor, error)
	GetByID(ctx context.Context, id string) (*domain.Donor, error)
	UpdateProfile(ctx context.Context, d *domain.Donor) error
	SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Donor, error)
	SetRole(ctx context.Context, id string, role domain.Role) (*domain.Donor, error)
	Search(ctx context.Context, f domain.SearchFilter) ([]domain.Donor, error)
	List(ctx context.Context, f domain.ListFilter) ([]domain.Donor, int, error)
	Count(ctx context.Context) (map[domain.Status]int, error)
}

// Locations validates district/upazila pairs against the reference data.
type Locations interface {
	Canonical(district, upazila string) (string, string, error)
}

type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

type RoleCache interface {
	Invalidate(ctx context.Context, email string)
}

// Upload is an avatar file sent with a registration or profile update.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Page is one page of the admin donor listing.
type Page struct {
	Items []domain.Donor `json:"items"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// DonorService implements the donor directory.
type DonorService struct {
	repo       Repository
	locations  Locations
	images     Uploader
	identities auth.IdentityDeleter
	roles      RoleCache
	log        *zap.Logger
}

func NewDonorService(repo Repository, locations Locations, images Uploader, identities auth.IdentityDeleter, roles RoleCache, log *zap.Logger) *DonorService {
	return &DonorService{
		repo:       repo,
		locations:  locations,
		images:     images,
		identities: identities,
		roles:      roles,
		log:        log,
	}
}

// Register creates the caller's donor record. When the avatar upload or the
// insert fails the identity-provider account is deleted so no identity is left
// without a donor record.
func (s *DonorService) Register(ctx context.Context, id auth.Identity, in domain.RegisterInput, avatar *Upload) (*domain.Donor, error) {
	if id.Email == "" {
		return nil, errs.Unauthenticated("identity has no email")
	}
	d := &domain.Donor{Email: auth.NormalizeEmail(id.Email)}
	if err := s.applyProfile(d, in.Name, in.BloodGroup, in.District, in.Upazila); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByEmail(ctx, d.Email); err == nil {
		return nil, errs.Conflict("donor %s is already registered", d.Email)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	d.Image = strings.TrimSpace(in.Image)
	if avatar != nil {
		url, err := s.images.Upload(ctx, avatar.Filename, avatar.Body)
		if err != nil {
			s.rollbackIdentity(ctx, id)
			if errors.Is(err, errs.ErrValidation) {
				return nil, err
			}
			return nil, errs.External(err, "avatar upload failed")
		}
		d.Image = url
	}
	if d.Image == "" {
		d.Image = id.Picture
	}

	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, err
		}
		s.rollbackIdentity(ctx, id)
		return nil, errs.Internal(err, "register donor")
	}
	s.roles.Invalidate(ctx, d.Email)
	s.log.Info("donor registered", zap.String("donor_id", d.ID), zap.String("email", d.Email))
	return d, nil
}

func (s *DonorService) rollbackIdentity(ctx context.Context, id auth.Identity) {
	if id.UID == "" {
		return
	}
	if err := s.identities.DeleteUser(context.WithoutCancel(ctx), id.UID); err != nil {
		s.log.Error("identity rollback failed", zap.String("uid", id.UID), zap.Error(err))
		return
	}
	s.log.Warn("identity rolled back after failed registration", zap.String("uid", id.UID))
}

func (s *DonorService) applyProfile(d *domain.Donor, name, bloodGroup, district, upazila string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errs.Validation("name is required")
	}
	bg, err := domain.NormalizeBloodGroup(bloodGroup)
	if err != nil {
		return err
	}
	dist, upa, err := s.locations.Canonical(district, upazila)
	if err != nil {
		return err
	}
	d.Name, d.BloodGroup, d.District, d.Upazila = name, bg, dist, upa
	return nil
}

// GetByEmail returns a donor record to its owner or to an admin.
func (s *DonorService) GetByEmail(ctx context.Context, sess access.Session, email string) (*domain.Donor, error) {
	email = auth.NormalizeEmail(email)
	if !mayView(sess, email) {
		return nil, errs.Forbidden("cannot view donor %s", email)
	}
	return s.repo.GetByEmail(ctx, email)
}

// GetByID returns a donor record to its owner or to an admin.
func (s *DonorService) GetByID(ctx context.Context, sess access.Session, id string) (*domain.Donor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mayView(sess, d.Email) {
		return nil, errs.Forbidden("cannot view donor %s", id)
	}
	return d, nil
}

func mayView(sess access.Session, email string) bool {
	return (sess.Owns(email) && sess.Can(access.ViewOwn)) || sess.Can(access.ViewAllDonors)
}

// UpdateProfile changes the owner-editable fields of the caller's own record.
func (s *DonorService) UpdateProfile(ctx context.Context, sess access.Session, id string, upd domain.ProfileUpdate, avatar *Upload) (*domain.Donor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Owns(d.Email) {
		return nil, errs.Forbidden("only the owner may edit this profile")
	}
	if upd.Email != nil && auth.NormalizeEmail(*upd.Email) != d.Email {
		return nil, errs.Validation("email cannot be changed")
	}

	name, bg, dist, upa := d.Name, d.BloodGroup, d.District, d.Upazila
	if upd.Name != nil {
		name = *upd.Name
	}
	if upd.BloodGroup != nil {
		bg = *upd.BloodGroup
	}
	if upd.District != nil {
		dist = *upd.District
		if upd.Upazila == nil {
			return nil, errs.Validation("upazila is required when district changes")
		}
	}
	if upd.Upazila != nil {
		upa = *upd.Upazila
	}
	if err := s.applyProfile(d, name, bg, dist, upa); err != nil {
		return nil, err
	}

	if upd.Image != nil {
		d.Image = strings.TrimSpace(*upd.Image)
	}
	if avatar != nil {
		url, err := s.images.Upload(ctx, avatar.Filename, avatar.Body)
		if err != nil {
			if errors.Is(err, errs.ErrValidation) {
				return nil, err
			}
			return nil, errs.External(err, "avatar upload failed")
		}
		d.Image = url
	}

	if err := s.repo.UpdateProfile(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SetStatus blocks or unblocks a donor. Setting the current value succeeds
// without changing the record.
func (s *DonorService) SetStatus(ctx context.Context, sess access.Session, id string, status domain.Status) (*domain.Donor, error) {
	if err := sess.Require(access.ManageDonors); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, errs.Validation("invalid status %q", status)
	}
	d, err := s.repo.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.roles.Invalidate(ctx, d.Email)
	s.log.Info("donor status set",
		zap.String("donor_id", d.ID), zap.String("status", string(status)), zap.String("by", sess.Email()))
	return d, nil
}

// SetRole assigns a role. Setting the current value succeeds without changing
// the record.
func (s *DonorService) SetRole(ctx context.Context, sess access.Session, id string, role domain.Role) (*domain.Donor, error) {
	if err := sess.Require(access.ManageDonors); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, errs.Validation("invalid role %q", role)
	}
	d, err := s.repo.SetRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	s.roles.Invalidate(ctx, d.Email)
	s.log.Info("donor role set",
		zap.String("donor_id", d.ID), zap.String("role", string(role)), zap.String("by", sess.Email()))
	return d, nil
}

// Search is public. Blocked donors are only included for callers holding
// SearchIncludesBlocked who ask for them.
func (s *DonorService) Search(ctx context.Context, sess *access.Session, f domain.SearchFilter) ([]domain.Donor, error) {
	if f.IncludeBlocked && (sess == nil || !sess.Can(access.SearchIncludesBlocked)) {
		f.IncludeBlocked = false
	}
	if f.BloodGroup != "" {
		bg, err := domain.NormalizeBloodGroup(f.BloodGroup)
		if err != nil {
			return nil, err
		}
		f.BloodGroup = bg
	}
	f.District = strings.TrimSpace(f.District)
	f.Upazila = strings.TrimSpace(f.Upazila)
	out, err := s.repo.Search(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Donor{}
	}
	return out, nil
}

// List is the admin donor listing.
func (s *DonorService) List(ctx context.Context, sess access.Session, f domain.ListFilter, page, limit int) (*Page, error) {
	if err := sess.Require(access.ViewAllDonors); err != nil {
		return nil, err
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, errs.Validation("invalid role %q", f.Role)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.Validation("invalid status %q", f.Status)
	}
	if f.BloodGroup != "" {
		bg, err := domain.NormalizeBloodGroup(f.BloodGroup)
		if err != nil {
			return nil, err
		}
		f.BloodGroup = bg
	}
	f.Email = auth.NormalizeEmail(f.Email)
	f.Limit = limit
	f.Offset = (page - 1) * limit

	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Donor{}
	}
	return &Page{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// Count returns donor totals per status.
func (s *DonorService) Count(ctx context.Context) (map[domain.Status]int, error) {
	return s.repo.Count(ctx)
}
