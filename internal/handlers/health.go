package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db      *gorm.DB
	appName string
	version string
}

func NewHealthHandler(db *gorm.DB, appName, version string) *HealthHandler {
	return &HealthHandler{db: db, appName: appName, version: version}
}

func (hh *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": hh.appName, "version": hh.version, "docs": "/health"})
}

// Health pings the database; it answers 503 when the ping fails.
func (hh *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if sqlDB, err := hh.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "version": hh.version})
}

// MovedTo answers a legacy path with a 301 to its new location. Path params
// named in the new location are copied over.
func MovedTo(location string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target := location
		if id := c.Param("room_id"); id != "" {
			target = location + "/" + id
		}
		if c.Request.URL.RawQuery != "" {
			target += "?" + c.Request.URL.RawQuery
		}
		c.Redirect(http.StatusMovedPermanently, target)
	}
}
