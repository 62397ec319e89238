package handler

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zynqcloud/go-attachments/internal/compress"
	"github.com/zynqcloud/go-attachments/internal/config"
	"github.com/zynqcloud/go-attachments/internal/middleware"
	"github.com/zynqcloud/go-attachments/internal/store"
)

// Compressor shrinks a stored file after upload.
type Compressor interface {
	Process(path string) compress.Result
}

// Handler holds shared dependencies for all HTTP handlers.
type Handler struct {
	cfg      *config.Config
	store    store.Backend
	pipeline Compressor // nil when compression is disabled
	logger   *zap.Logger
	metrics  *Metrics
}

// New registers all routes and returns the gin engine.
//
// Middleware stack (outer → inner):
//
//	Recovery → RequestLog → ServiceToken auth → UploadLimiter → handler
func New(cfg *config.Config, backend store.Backend, pipeline Compressor, logger *zap.Logger, reg *prometheus.Registry) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	h := &Handler{
		cfg:      cfg,
		store:    backend,
		pipeline: pipeline,
		logger:   logger,
		metrics:  MustNewMetrics(reg),
	}

	limiter := middleware.NewUploadLimiter(cfg.MaxConcurrentUploads)
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "uploads",
		Name:      "active",
		Help:      "Uploads currently holding a limiter slot.",
	}, func() float64 { return float64(limiter.Active()) })

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLog(logger))

	// GET /health is the liveness probe and stays unauthenticated.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := r.Group("/", middleware.ServiceToken(cfg.ServiceToken))
	authed.GET("/healthz/ready", h.Readiness)
	authed.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// POST /v1/operations/{operationId}/attachments
	//   multipart/form-data: file (required), entity (required)
	authed.POST("/v1/operations/:operationId/attachments", limiter.Limit(), h.Upload)

	// The coordinate tuple (entity, year, month, filename) addresses a file.
	authed.GET("/v1/attachments/:entity/:year/:month/:filename", h.Download)
	authed.DELETE("/v1/attachments/:entity/:year/:month/:filename", h.Delete)

	return r
}

// Readiness is the readiness probe handler.
// Returns 200 when the service can accept uploads; 503 when it cannot.
// Checks performed:
//  1. Storage directory is accessible (os.Stat)
//  2. Free disk space ≥ cfg.MinFreeBytes (Linux only)
func (h *Handler) Readiness(c *gin.Context) {
	type check struct {
		Name string `json:"name"`
		OK   bool   `json:"ok"`
		Msg  string `json:"msg,omitempty"`
	}
	var checks []check
	allOK := true

	if _, err := os.Stat(h.cfg.StoragePath); err != nil {
		checks = append(checks, check{"storage_accessible", false, "stat failed"})
		allOK = false
	} else {
		checks = append(checks, check{"storage_accessible", true, ""})
	}

	// (0, 0) means "unavailable"; skip the check rather than false-alarm.
	if ds, ok := h.store.(interface{ DiskStats() (uint64, uint64) }); ok {
		avail, total := ds.DiskStats()
		if total > 0 {
			if avail < uint64(h.cfg.MinFreeBytes) {
				checks = append(checks, check{
					"disk_space", false,
					fmt.Sprintf("%d MB free, need %d MB", avail>>20, h.cfg.MinFreeBytes>>20),
				})
				allOK = false
			} else {
				checks = append(checks, check{
					"disk_space", true,
					fmt.Sprintf("%d MB free of %d MB", avail>>20, total>>20),
				})
			}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": allOK, "checks": checks})
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
