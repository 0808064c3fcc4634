package http

import (
	"context"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/api/http/respond"
	"github.com/bloodlink/bloodlink-backend/internal/auth"
	"github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/donors/service"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

// DonorService is the directory as seen by the transport layer.
type DonorService interface {
	Register(ctx context.Context, id auth.Identity, in domain.RegisterInput, avatar *service.Upload) (*domain.Donor, error)
	GetByEmail(ctx context.Context, sess access.Session, email string) (*domain.Donor, error)
	GetByID(ctx context.Context, sess access.Session, id string) (*domain.Donor, error)
	UpdateProfile(ctx context.Context, sess access.Session, id string, upd domain.ProfileUpdate, avatar *service.Upload) (*domain.Donor, error)
	SetStatus(ctx context.Context, sess access.Session, id string, status domain.Status) (*domain.Donor, error)
	SetRole(ctx context.Context, sess access.Session, id string, role domain.Role) (*domain.Donor, error)
	Search(ctx context.Context, sess *access.Session, f domain.SearchFilter) ([]domain.Donor, error)
	List(ctx context.Context, sess access.Session, f domain.ListFilter, page, limit int) (*service.Page, error)
}

type Handler struct {
	svc DonorService
}

func NewHandler(svc DonorService) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublic attaches unauthenticated donor routes.
func (h *Handler) RegisterPublic(rg gin.IRouter) {
	rg.GET("/donors/search", h.search)
}

// Register attaches routes that need an access.Session.
func (h *Handler) Register(rg gin.IRouter) {
	rg.POST("/donors", h.create)
	rg.GET("/donors", h.list)
	rg.GET("/donors/:id", h.get)
	rg.GET("/donors/:id/role", h.role)
	rg.PUT("/donors/:id", h.update)
	rg.PATCH("/donors/:id/status", h.setStatus)
	rg.PATCH("/donors/:id/role", h.setRole)
}

type registerReq struct {
	Name       string `json:"name" form:"name"`
	Image      string `json:"image" form:"image"`
	BloodGroup string `json:"bloodGroup" form:"bloodGroup"`
	District   string `json:"district" form:"district"`
	Upazila    string `json:"upazila" form:"upazila"`
}

func (h *Handler) create(c *gin.Context) {
	id, _ := auth.IdentityFrom(c)

	var req registerReq
	if err := c.ShouldBind(&req); err != nil {
		respond.Error(c, errs.Validation("invalid body"))
		return
	}
	avatar, closeFn, err := formImage(c)
	if err != nil {
		respond.Error(c, err)
		return
	}
	defer closeFn()

	if req.Name == "" {
		req.Name = id.Name
	}
	d, err := h.svc.Register(c.Request.Context(), id, domain.RegisterInput{
		Name:       req.Name,
		Image:      req.Image,
		BloodGroup: req.BloodGroup,
		District:   req.District,
		Upazila:    req.Upazila,
	}, avatar)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// formImage returns the optional multipart "image" file.
func formImage(c *gin.Context) (*service.Upload, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, noop, nil
	}
	fh, err := c.FormFile("image")
	if err == http.ErrMissingFile {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, errs.Validation("invalid image upload")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, noop, errs.Validation("invalid image upload")
	}
	return &service.Upload{Filename: fh.Filename, Body: f}, func() { closeFile(f) }, nil
}

func closeFile(f multipart.File) { _ = f.Close() }

func (h *Handler) list(c *gin.Context) {
	sess := access.SessionFrom(c)
	if email := c.Query("email"); email != "" {
		d, err := h.svc.GetByEmail(c.Request.Context(), sess, email)
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, []domain.Donor{*d})
		return
	}

	page, limit := respond.Page(c)
	out, err := h.svc.List(c.Request.Context(), sess, domain.ListFilter{
		Role:       domain.Role(c.Query("role")),
		Status:     domain.Status(c.Query("status")),
		BloodGroup: c.Query("bloodGroup"),
		District:   c.Query("district"),
		Upazila:    c.Query("upazila"),
	}, page, limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) search(c *gin.Context) {
	out, err := h.svc.Search(c.Request.Context(), access.OptionalSessionFrom(c), domain.SearchFilter{
		BloodGroup:     c.Query("bloodGroup"),
		District:       c.Query("district"),
		Upazila:        c.Query("upazila"),
		IncludeBlocked: c.Query("includeBlocked") == "true",
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) get(c *gin.Context) {
	d, err := h.svc.GetByID(c.Request.Context(), access.SessionFrom(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// role answers GET /donors/:email/role. The caller's own role comes straight
// from the session so unregistered identities still resolve to donor.
func (h *Handler) role(c *gin.Context) {
	sess := access.SessionFrom(c)
	email := auth.NormalizeEmail(c.Param("id"))
	if sess.Owns(email) {
		c.JSON(http.StatusOK, gin.H{"email": email, "role": sess.Role, "status": sess.Status, "registered": sess.Registered})
		return
	}
	d, err := h.svc.GetByEmail(c.Request.Context(), sess, email)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": d.Email, "role": d.Role, "status": d.Status, "registered": true})
}

type updateReq struct {
	Email      *string `json:"email" form:"email"`
	Name       *string `json:"name" form:"name"`
	Image      *string `json:"image" form:"image"`
	BloodGroup *string `json:"bloodGroup" form:"bloodGroup"`
	District   *string `json:"district" form:"district"`
	Upazila    *string `json:"upazila" form:"upazila"`
}

func (h *Handler) update(c *gin.Context) {
	var req updateReq
	if err := c.ShouldBind(&req); err != nil {
		respond.Error(c, errs.Validation("invalid body"))
		return
	}
	avatar, closeFn, err := formImage(c)
	if err != nil {
		respond.Error(c, err)
		return
	}
	defer closeFn()

	d, err := h.svc.UpdateProfile(c.Request.Context(), access.SessionFrom(c), c.Param("id"), domain.ProfileUpdate{
		Email:      req.Email,
		Name:       req.Name,
		Image:      req.Image,
		BloodGroup: req.BloodGroup,
		District:   req.District,
		Upazila:    req.Upazila,
	}, avatar)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) setStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Validation("status is required"))
		return
	}
	d, err := h.svc.SetStatus(c.Request.Context(), access.SessionFrom(c), c.Param("id"), domain.Status(req.Status))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type roleReq struct {
	Role string `json:"role" binding:"required"`
}

func (h *Handler) setRole(c *gin.Context) {
	var req roleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Validation("role is required"))
		return
	}
	d, err := h.svc.SetRole(c.Request.Context(), access.SessionFrom(c), c.Param("id"), domain.Role(req.Role))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
