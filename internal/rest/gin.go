package rest

import (
	"net/http"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether the process is healthy, with details for the
// response body. A nil check always reports ok.
type HealthCheck func() (bool, gin.H)

func NewServer(cfg config.Config, check HealthCheck) (*gin.Engine, *http.Server) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if check == nil {
			c.JSON(http.StatusOK, body)
			return
		}
		ok, details := check()
		for k, v := range details {
			body[k] = v
		}
		if !ok {
			body["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
	return r, srv
}
