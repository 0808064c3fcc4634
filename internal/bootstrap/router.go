package bootstrap

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/access"
	httpapi "github.com/bloodlink/bloodlink-backend/internal/api/http"
	"github.com/bloodlink/bloodlink-backend/internal/api/http/middleware"
	authmw "github.com/bloodlink/bloodlink-backend/internal/auth/middleware"
	donorhttp "github.com/bloodlink/bloodlink-backend/internal/donors/http"
	fundinghttp "github.com/bloodlink/bloodlink-backend/internal/funding/http"
	"github.com/bloodlink/bloodlink-backend/internal/geo"
	"github.com/bloodlink/bloodlink-backend/internal/metrics"
	requesthttp "github.com/bloodlink/bloodlink-backend/internal/requests/http"
	"github.com/bloodlink/bloodlink-backend/internal/stats"
)

type RouterDeps struct {
	ServiceName    string
	Version        string
	Log            *zap.Logger
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	DB    httpapi.Pinger
	Redis httpapi.Pinger

	// Authenticate stores an auth.Identity or aborts with 401.
	Authenticate gin.HandlerFunc
	// CredentialHeader is the header Authenticate reads; its presence makes
	// public routes authenticate too.
	CredentialHeader string
	Resolver         *access.Resolver
	Metrics          *metrics.Metrics

	Geo      *geo.Catalog
	Donors   donorhttp.DonorService
	Requests requesthttp.RequestService
	Events   requesthttp.Subscriber
	Funding  fundinghttp.FundingService
	Stats    *stats.Handler
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestIDMiddleware(),
		middleware.Logger(dep.Log),
		middleware.Recovery(dep.Log),
		dep.Metrics.Middleware(),
		cors.New(cors.Config{
			AllowOrigins:     dep.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID, "X-User-Email", "X-User-Id", "X-User-Name", "X-User-Photo"},
			ExposeHeaders:    []string{middleware.HeaderRequestID, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	)

	httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB, dep.Redis).RegisterRoutes(r)
	r.GET("/metrics", gin.WrapH(dep.Metrics.Handler()))

	api := r.Group("/api/v1")

	donors := donorhttp.NewHandler(dep.Donors)
	requests := requesthttp.NewHandler(dep.Requests, dep.Events)

	public := api.Group("")
	public.Use(
		middleware.NewIPLimiter(dep.RateLimitRPS, dep.RateLimitBurst).Middleware(),
		authmw.Optional(dep.Authenticate, dep.CredentialHeader),
		access.OptionalSession(dep.Resolver),
	)
	geo.NewHandler(dep.Geo).Register(public)
	donors.RegisterPublic(public)
	requests.RegisterPublic(public)

	authed := api.Group("")
	authed.Use(dep.Authenticate, access.WithSession(dep.Resolver))
	donors.Register(authed)
	requests.Register(authed)
	fundinghttp.NewHandler(dep.Funding).Register(authed)
	dep.Stats.Register(authed)

	return r
}
