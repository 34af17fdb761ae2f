// Package api exposes the attendance desk over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendancedesk/internal/attendance"
	"attendancedesk/internal/auth"
	"attendancedesk/internal/config"
	"attendancedesk/internal/httpmiddleware"
	"attendancedesk/internal/journal"
)

// Upstream is the academy login endpoint.
type Upstream interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// Journal is the scan journal and device registry.
type Journal interface {
	RegisterDevice(ctx context.Context, deviceID, role string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	RedeemRefreshToken(ctx context.Context, deviceID, token string) error
	Get(ctx context.Context, id string) (journal.ScanEvent, error)
	List(ctx context.Context, f journal.Filter) ([]journal.ScanEvent, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps wires the server.
type Deps struct {
	Config      config.App
	Desk        *attendance.Desk
	Upstream    Upstream
	Credentials *auth.Credentials
	// Journal may be nil when Postgres is unreachable.
	Journal Journal
	Health  map[string]HealthCheck
	Log     *zap.Logger
}

// Server holds the handlers.
type Server struct {
	cfg     config.App
	desk    *attendance.Desk
	up      Upstream
	creds   *auth.Credentials
	journal Journal
	health  map[string]HealthCheck
	log     *zap.Logger
}

// New builds a server from deps.
func New(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     d.Config,
		desk:    d.Desk,
		up:      d.Upstream,
		creds:   d.Credentials,
		journal: d.Journal,
		health:  d.Health,
		log:     log.Named("api"),
	}
}

// Router returns the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(s.log, "/healthz", "/metrics"))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.CORS(s.cfg.CORSAllowedOrigins))
	r.Use(httpmiddleware.NewSimpleTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin).GinMiddleware(nil))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)
	r.POST("/v1/devices/register", s.registerDevice)
	r.POST("/v1/devices/refresh", s.refreshDevice)

	v1 := r.Group("/v1", auth.DeviceAuth(s.cfg.JWTSigningKey, s.cfg.JWTIssuer, s.log))
	console := auth.RequireRole(auth.RoleConsole)
	v1.POST("/upstream/login", console, s.upstreamLogin)
	v1.POST("/upstream/logout", console, s.upstreamLogout)

	v1.GET("/lessons/pending", s.pendingLessons)

	v1.PUT("/roster/lesson", console, s.selectLesson)
	v1.POST("/roster/lessons/:id/session", console, s.createSession)
	v1.GET("/roster", s.roster)
	v1.GET("/roster/export", s.exportRoster)
	v1.POST("/roster/scanner", s.openScanner)
	v1.DELETE("/roster/scanner", s.closeScanner)
	v1.POST("/roster/scan", s.scan)
	v1.POST("/roster/mark", s.mark)

	v1.POST("/qr/validate", s.validateQR)
	v1.GET("/scans", s.listScans)
	v1.GET("/scans/:id", s.getScan)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range s.health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
