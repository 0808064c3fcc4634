// Package stats serves the dashboard counters for volunteers and admins.
package stats

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	"github.com/bloodlink/bloodlink-backend/internal/api/http/respond"
	donordomain "github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	fundingdomain "github.com/bloodlink/bloodlink-backend/internal/funding/domain"
	requestdomain "github.com/bloodlink/bloodlink-backend/internal/requests/domain"
)

type DonorCounter interface {
	Count(ctx context.Context) (map[donordomain.Status]int, error)
}

type RequestCounter interface {
	CountByStatus(ctx context.Context) (map[requestdomain.Status]int, error)
}

type FundingSummarizer interface {
	Summary(ctx context.Context) (*fundingdomain.Summary, error)
}

type Stats struct {
	Donors   DonorStats                   `json:"donors"`
	Requests map[requestdomain.Status]int `json:"requests"`
	Funding  fundingdomain.Summary        `json:"funding"`
}

type DonorStats struct {
	Total    int                        `json:"total"`
	ByStatus map[donordomain.Status]int `json:"byStatus"`
}

type Handler struct {
	donors   DonorCounter
	requests RequestCounter
	funding  FundingSummarizer
}

func NewHandler(donors DonorCounter, requests RequestCounter, funding FundingSummarizer) *Handler {
	return &Handler{donors: donors, requests: requests, funding: funding}
}

func (h *Handler) Register(rg gin.IRouter) {
	rg.GET("/stats", access.Require(access.ViewStats), h.get)
}

func (h *Handler) Collect(ctx context.Context) (*Stats, error) {
	byStatus, err := h.donors.Count(ctx)
	if err != nil {
		return nil, err
	}
	requests, err := h.requests.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	funding, err := h.funding.Summary(ctx)
	if err != nil {
		return nil, err
	}

	out := &Stats{
		Donors:   DonorStats{ByStatus: byStatus},
		Requests: requests,
		Funding:  *funding,
	}
	for _, n := range byStatus {
		out.Donors.Total += n
	}
	return out, nil
}

func (h *Handler) get(c *gin.Context) {
	out, err := h.Collect(c.Request.Context())
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
