package geo

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/api/http/respond"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) Register(rg gin.IRouter) {
	rg.GET("/districts", h.districts)
	rg.GET("/upazilas", h.upazilas)
}

func (h *Handler) districts(c *gin.Context) {
	c.JSON(http.StatusOK, h.catalog.Districts())
}

func (h *Handler) upazilas(c *gin.Context) {
	list, err := h.catalog.Upazilas(c.Query("district"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
