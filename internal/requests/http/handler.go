package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/api/http/respond"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/requests/domain"
	"github.com/bloodlink/bloodlink-backend/internal/requests/events"
	"github.com/bloodlink/bloodlink-backend/internal/requests/service"
)

// RequestService is the registry as seen by the transport layer.
type RequestService interface {
	Create(ctx context.Context, sess access.Session, d domain.Details) (*domain.Request, error)
	Get(ctx context.Context, sess access.Session, id string) (*domain.Request, error)
	ListByRequester(ctx context.Context, sess access.Session, email string, status domain.Status, page, limit int) (*service.Page, error)
	ListAll(ctx context.Context, sess access.Session, status domain.Status, page, limit int) (*service.Page, error)
	Latest(ctx context.Context, sess access.Session, email string) ([]domain.Request, error)
	Pending(ctx context.Context) ([]domain.Request, error)
	Update(ctx context.Context, sess access.Session, id string, p domain.Patch) (*domain.Request, error)
	Accept(ctx context.Context, sess access.Session, id, claimedEmail string) (*domain.Request, error)
	Transition(ctx context.Context, sess access.Session, id string, target domain.Status) (*domain.Request, error)
	Delete(ctx context.Context, sess access.Session, id string) error
}

// Subscriber opens a live feed of one request's events.
type Subscriber interface {
	Subscribe(ctx context.Context, requestID string) (*events.Subscription, error)
}

type Handler struct {
	svc  RequestService
	subs Subscriber
}

func NewHandler(svc RequestService, subs Subscriber) *Handler {
	return &Handler{svc: svc, subs: subs}
}

// RegisterPublic attaches unauthenticated request routes.
func (h *Handler) RegisterPublic(rg gin.IRouter) {
	rg.GET("/requests/pending", h.pending)
}

// Register attaches routes that need an access.Session.
func (h *Handler) Register(rg gin.IRouter) {
	rg.GET("/requests", h.listMine)
	rg.POST("/requests", access.Require(access.CreateRequest), h.create)
	rg.GET("/requests/all", access.Require(access.ViewAllRequests), h.listAll)
	rg.GET("/requests/latest", h.latest)
	rg.GET("/requests/:id", h.get)
	rg.PUT("/requests/:id", h.update)
	rg.PATCH("/requests/:id", h.patch)
	rg.DELETE("/requests/:id", h.delete)
	rg.PATCH("/requests/:id/status", h.setStatus)
	rg.GET("/requests/:id/events", h.stream)
}

type detailsReq struct {
	RecipientName     *string `json:"recipientName"`
	RecipientDistrict *string `json:"recipientDistrict"`
	RecipientUpazila  *string `json:"recipientUpazila"`
	FullAddress       *string `json:"fullAddress"`
	HospitalName      *string `json:"hospitalName"`
	BloodGroup        *string `json:"bloodGroup"`
	DonationDate      *string `json:"donationDate"`
	DonationTime      *string `json:"donationTime"`
	RequestMessage    *string `json:"requestMessage"`

	// Only honoured by PATCH /requests/:id, where inprogress means accept.
	DonationStatus *string `json:"donationStatus"`
	DonorEmail     *string `json:"donorEmail"`
}

func (r detailsReq) patch() domain.Patch {
	return domain.Patch{
		RecipientName:     r.RecipientName,
		RecipientDistrict: r.RecipientDistrict,
		RecipientUpazila:  r.RecipientUpazila,
		FullAddress:       r.FullAddress,
		HospitalName:      r.HospitalName,
		BloodGroup:        r.BloodGroup,
		DonationDate:      r.DonationDate,
		DonationTime:      r.DonationTime,
		RequestMessage:    r.RequestMessage,
	}
}

func (h *Handler) create(c *gin.Context) {
	var req detailsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Validation("invalid body"))
		return
	}
	if req.DonationStatus != nil && *req.DonationStatus != string(domain.StatusPending) {
		respond.Error(c, errs.Validation("new requests are always pending"))
		return
	}
	out, err := h.svc.Create(c.Request.Context(), access.SessionFrom(c), req.patch().Apply(domain.Details{}))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) listMine(c *gin.Context) {
	page, limit := respond.Page(c)
	out, err := h.svc.ListByRequester(c.Request.Context(), access.SessionFrom(c),
		c.Query("email"), domain.Status(c.Query("donationStatus")), page, limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) listAll(c *gin.Context) {
	page, limit := respond.Page(c)
	out, err := h.svc.ListAll(c.Request.Context(), access.SessionFrom(c), domain.Status(c.Query("donationStatus")), page, limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) latest(c *gin.Context) {
	out, err := h.svc.Latest(c.Request.Context(), access.SessionFrom(c), c.Query("email"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) pending(c *gin.Context) {
	if s := c.Query("donationStatus"); s != "" && s != string(domain.StatusPending) {
		respond.Error(c, errs.Validation("only pending requests are public"))
		return
	}
	out, err := h.svc.Pending(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) get(c *gin.Context) {
	out, err := h.svc.Get(c.Request.Context(), access.SessionFrom(c), c.Param("id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) update(c *gin.Context) {
	var req detailsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Validation("invalid body"))
		return
	}
	if req.DonationStatus != nil {
		respond.Error(c, errs.Validation("use PATCH /requests/:id/status to change status"))
		return
	}
	out, err := h.svc.Update(c.Request.Context(), access.SessionFrom(c), c.Param("id"), req.patch())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// patch is either a detail edit or, with donationStatus=inprogress, the
// caller accepting the request.
func (h *Handler) patch(c *gin.Context) {
	var req detailsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Validation("invalid body"))
		return
	}
	sess := access.SessionFrom(c)

	if req.DonationStatus == nil {
		out, err := h.svc.Update(c.Request.Context(), sess, c.Param("id"), req.patch())
		if err != nil {
			respond.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
		return
	}

	if domain.Status(*req.DonationStatus) != domain.StatusInProgress {
		respond.Error(c, errs.Validation("use PATCH /requests/:id/status for done or canceled"))
		return
	}
	claimed := ""
	if req.DonorEmail != nil {
		claimed = *req.DonorEmail
	}
	out, err := h.svc.Accept(c.Request.Context(), sess, c.Param("id"), claimed)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type statusReq struct {
	Status         string `json:"status"`
	DonationStatus string `json:"donationStatus"`
}

func (h *Handler) setStatus(c *gin.Context) {
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Validation("invalid body"))
		return
	}
	target := req.DonationStatus
	if target == "" {
		target = req.Status
	}
	if target == "" {
		respond.Error(c, errs.Validation("donationStatus is required"))
		return
	}
	out, err := h.svc.Transition(c.Request.Context(), access.SessionFrom(c), c.Param("id"), domain.Status(target))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), access.SessionFrom(c), c.Param("id")); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": c.Param("id")})
}
