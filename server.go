package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/properties_backend/config"
	"bitbucket.org/mmdatafocus/properties_backend/models"
	"bitbucket.org/mmdatafocus/properties_backend/utils"
	"bitbucket.org/mmdatafocus/properties_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ready flips once the database and redis are connected. Until then every
// route except /healthz answers 503 so Cloud Run does not send traffic to an
// instance that cannot serve it.
var ready atomic.Bool

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		c.Header("X-Correlation-Id", correlationId)
		c.Request = c.Request.WithContext(
			utils.SetCorrelationIdInContext(c.Request.Context(), correlationId))
		c.Next()
	}
}

func readinessMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		if !ready.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "starting up"})
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Correlation-Id")
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		corsCfg.AllowOrigins = strings.Split(origins, ",")
	} else if os.Getenv("GO_ENV") == "production" {
		corsCfg.AllowOrigins = []string{"https://app.mmdatafocus.com"}
	} else {
		corsCfg.AllowAllOrigins = true
	}
	return corsCfg
}

func registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	api.POST("/properties/:propertyId/periods/:periodId/reconciliations", createSessionHandler)
	api.POST("/reconciliations/:id/run", runSessionHandler)
	api.POST("/reconciliations/:id/cancel", cancelSessionHandler)
	api.POST("/reconciliations/:id/validate", validateSessionHandler)
	api.GET("/reconciliations/:id", getSessionHandler)
	api.GET("/reconciliations/:id/matches", getMatchesHandler)
	api.GET("/reconciliations/:id/discrepancies", getDiscrepanciesHandler)
	api.GET("/reconciliations/:id/rule-results", getRuleResultsHandler)
	api.GET("/reconciliations/:id/anomalies", getSessionAnomaliesHandler)

	api.GET("/rules", listRulesHandler)
	api.POST("/rules", createRuleHandler)
	api.PATCH("/rules/:id", updateRuleHandler)

	api.PATCH("/matches/:id", reviewMatchHandler)

	api.GET("/properties/:propertyId/periods/:periodId/anomalies", getAnomaliesHandler)
	api.POST("/properties/:propertyId/anomaly-scan", anomalyScanHandler)
	api.GET("/properties/:propertyId/periods/:periodId/health-trend", getHealthTrendHandler)
}

func main() {
	logger := config.GetLogger()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(correlationIdMiddleware())
	router.Use(readinessMiddleware())
	router.Use(cors.New(corsConfig()))
	registerRoutes(router)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Listen first so the platform health check gets an answer immediately,
	// then bring up dependencies behind the readiness gate.
	serverErrCh := make(chan error, 1)
	go func() {
		logger.WithField("port", port).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if os.Getenv("SKIP_MIGRATIONS") != "true" {
		models.MigrateTable()
	}
	setTransactionIsolationLevel(logger)
	ready.Store(true)
	logger.Info("instance ready")

	// Sweep orphans left by a previous instance, then keep sweeping on a
	// schedule for the life of this one.
	startOrphanCleanup(ctx, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErrCh:
		config.LogError(logger, "server.go", "main", "http server failed", nil, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		config.LogError(logger, "server.go", "main", "graceful shutdown", nil, err)
	}
	logger.Info("server stopped")
}

// setTransactionIsolationLevel drops the session default to READ COMMITTED.
// The guarded UPDATEs and advisory locks provide the ordering we need, and
// REPEATABLE READ gap locks only add deadlocks on the result-swap deletes.
func setTransactionIsolationLevel(logger *logrus.Logger) {
	db := config.GetDB()
	for attempt := 1; attempt <= 3; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			return
		}
		config.LogError(logger, "server.go", "setTransactionIsolationLevel", "attempt", attempt, err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
}

func startOrphanCleanup(ctx context.Context, logger *logrus.Logger) {
	timeout := config.ReconcileSettings().OrphanTimeout

	go func() {
		if cleaned, err := workflow.CleanupOrphanedSessions(ctx, timeout); err != nil {
			config.LogError(logger, "server.go", "startOrphanCleanup", "startup sweep", nil, err)
		} else if cleaned > 0 {
			logger.WithField("cleaned", cleaned).Warn("startup orphan sweep repaired sessions")
		}
	}()

	scheduler := cron.New()
	_, err := scheduler.AddFunc("*/5 * * * *", func() {
		if cleaned, err := workflow.CleanupOrphanedSessions(ctx, timeout); err != nil {
			config.LogError(logger, "server.go", "startOrphanCleanup", "scheduled sweep", nil, err)
		} else if cleaned > 0 {
			logger.WithField("cleaned", cleaned).Warn("orphan sweep repaired sessions")
		}
	})
	if err != nil {
		config.LogError(logger, "server.go", "startOrphanCleanup", "registering cron", nil, err)
		return
	}
	scheduler.Start()

	go func() {
		<-ctx.Done()
		scheduler.Stop()
	}()
}
