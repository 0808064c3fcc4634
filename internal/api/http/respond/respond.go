// Package respond writes the JSON error envelope and parses shared query
// parameters for the feature handlers.
package respond

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxPage keeps (page-1)*limit far from overflowing into a negative OFFSET.
	MaxPage = math.MaxInt32 / MaxLimit
)

// Error writes {"error": {"kind": ..., "message": ...}} with the status mapped
// from the error kind. Internal errors are recorded on the context for logging.
func Error(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	if kind == errs.KindInternal || kind == errs.KindExternal {
		_ = c.Error(err)
	}
	c.JSON(errs.HTTPStatus(err), gin.H{
		"error": gin.H{"kind": kind, "message": errs.Message(err)},
	})
}

// Abort is Error followed by aborting the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// Page reads 1-based page and limit query parameters, clamped to sane bounds.
func Page(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}
