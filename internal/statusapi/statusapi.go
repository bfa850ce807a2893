// Package statusapi serves a local JSON status endpoint for one Trunkline
// process: health, gateway metrics, lease holder, and channel cursors.
package statusapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/trunkline/internal/lease"
	"github.com/zulandar/trunkline/internal/models"
	"github.com/zulandar/trunkline/internal/operator"
)

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Service *operator.Service
	Listen  string // e.g. "127.0.0.1:7171"
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Service == nil {
		return fmt.Errorf("statusapi: service is required")
	}
	if opts.Listen == "" {
		return fmt.Errorf("statusapi: listen address is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Service)

	srv := &http.Server{
		Addr:    opts.Listen,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusapi: %w", err)
	}
	return nil
}

// registerRoutes sets up the status routes on the Gin router.
func registerRoutes(router *gin.Engine, svc *operator.Service) {
	router.GET("/healthz", handleHealthz(svc))
	router.GET("/metrics/gateway", handleGatewayMetrics(svc))
	router.GET("/lease", handleLease(svc))
	router.GET("/cursors", handleCursors(svc))
}

func handleHealthz(svc *operator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := svc.DB().DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"store":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"identity": svc.Self(),
			"platform": svc.Config().Platform.Kind,
		})
	}
}

func handleGatewayMetrics(svc *operator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Gateway().Metrics())
	}
}

func handleLease(svc *operator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		holder, renewedAt, held := lease.Holder(svc.DB())
		if !held {
			c.JSON(http.StatusOK, gin.H{"held": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"held":       true,
			"holder":     holder,
			"renewed_at": renewedAt.Format(time.RFC3339),
			"age_ms":     time.Since(renewedAt).Milliseconds(),
			"self":       holder == svc.Self(),
		})
	}
}

func handleCursors(svc *operator.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cursors []models.ChannelCursor
		if err := svc.DB().Order("channel_id").Find(&cursors).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, 0, len(cursors))
		for _, cur := range cursors {
			out = append(out, gin.H{
				"channel_id": cur.ChannelID,
				"last_seq":   cur.LastSeq,
				"updated_at": cur.UpdatedAt.Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, gin.H{"cursors": out})
	}
}
