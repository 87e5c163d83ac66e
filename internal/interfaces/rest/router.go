package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovsrestd/backend/internal/interfaces/middleware"
)

// RouterConfig carries what the HTTP surface needs from the service layer
type RouterConfig struct {
	Prefix    string
	Resources ResourceService
	// Ready reports whether the replica session is usable; /health mirrors it
	Ready    func() bool
	Gatherer prometheus.Gatherer
	Logger   *zap.SugaredLogger
}

// NewRouter builds the gin engine serving the resource tree, /health and /metrics
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Logger))
	router.Use(middleware.Cors())
	router.HandleMethodNotAllowed = true

	router.GET("/health", func(c *gin.Context) {
		if cfg.Ready != nil && !cfg.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	resources := NewResourceHandler(cfg.Resources, cfg.Prefix, cfg.Logger)
	router.Any(resources.prefix+"/*path", resources.Handle)

	return router
}
