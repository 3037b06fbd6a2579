package routes

import (
	"net/http"
	"path/filepath"
	"strings"

	"teamspace/metrics"

	"github.com/gin-gonic/gin"
)

// SetupRegularRoutes registers health, metrics and, when staticDir is set,
// the single page app with an index.html fallback for client-side routes.
func SetupRegularRoutes(r *gin.Engine, staticDir string) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	if staticDir == "" {
		return
	}
	r.Static("/assets", filepath.Join(staticDir, "assets"))
	r.StaticFile("/favicon.ico", filepath.Join(staticDir, "favicon.ico"))
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || !strings.Contains(c.GetHeader("Accept"), "text/html") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.File(filepath.Join(staticDir, "index.html"))
	})
}
