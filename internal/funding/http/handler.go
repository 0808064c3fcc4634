package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/api/http/respond"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/funding/domain"
	"github.com/bloodlink/bloodlink-backend/internal/funding/service"
)

type FundingService interface {
	Initiate(ctx context.Context, sess access.Session, senderName string, amount float64) (*service.Checkout, error)
	Confirm(ctx context.Context, sessionID string) (*service.Confirmation, error)
	List(ctx context.Context, page, limit int) (*service.Page, error)
	Summary(ctx context.Context) (*domain.Summary, error)
}

type Handler struct {
	svc FundingService
}

func NewHandler(svc FundingService) *Handler {
	return &Handler{svc: svc}
}

// Register attaches funding routes; all of them need an access.Session.
func (h *Handler) Register(rg gin.IRouter) {
	rg.GET("/funds", h.list)
	rg.GET("/funds/summary", h.summary)
	rg.POST("/create-checkout-session", h.createCheckout)
	rg.POST("/fund-successful", h.confirm)
}

type checkoutReq struct {
	SenderName string  `json:"senderName"`
	Amount     float64 `json:"amount" binding:"required"`
}

func (h *Handler) createCheckout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Validation("amount is required"))
		return
	}
	out, err := h.svc.Initiate(c.Request.Context(), access.SessionFrom(c), req.SenderName, req.Amount)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) confirm(c *gin.Context) {
	out, err := h.svc.Confirm(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	c.JSON(status, out)
}

func (h *Handler) list(c *gin.Context) {
	page, limit := respond.Page(c)
	out, err := h.svc.List(c.Request.Context(), page, limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) summary(c *gin.Context) {
	out, err := h.svc.Summary(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
