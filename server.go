package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/ebooks_backend/catalog"
	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/mozello"
	"github.com/mmdatafocus/ebooks_backend/mozellosync"
	"github.com/mmdatafocus/ebooks_backend/utils"
)

const defaultPort = "8080"

func main() {
	_ = godotenv.Load()

	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Connect dependencies before wiring routes. The database is mandatory;
	// redis backs caching and advisory locks only and may be absent.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisBestEffort()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	library, err := catalog.OpenLibrary(config.CalibreLibraryPath())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "catalog"}).Panic("cannot open library metadata: " + err.Error())
	}
	userDir, err := catalog.OpenUserDirectory(config.CalibreAppDBPath())
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "catalog"}).Panic("cannot open user directory: " + err.Error())
	}

	// Without an API key the webhook and import surfaces stay disabled but the
	// admin listing still works against local records.
	var client *mozello.Client
	if key := config.MozelloAPIKey(); key != "" {
		client, err = mozello.NewClient(key, config.MozelloAPIBase(),
			mozello.WithMinInterval(config.MozelloMinCallInterval()))
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "mozello"}).Panic("cannot build api client: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "mozello"}).Warn("MOZELLO_API_KEY not set; webhook verification and imports disabled")
	}

	var orderLister mozellosync.OrderLister
	var notifier mozellosync.NotificationPusher
	if client != nil {
		orderLister = client
		notifier = client
	}
	svc := mozellosync.NewService(db,
		mozellosync.CalibreBooks{Library: library},
		mozellosync.CalibreUsers{Directory: userDir},
		orderLister,
		config.MozelloAPIKey(),
	)
	handlers := mozellosync.NewHandlers(svc, db, notifier)

	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated); in non-production allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Admin-Token", "X-Mozello-Hash")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(adminTokenMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	handlers.Register(r)
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{"port": port}).Info("mozello sync backend listening")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// adminTokenMiddleware turns a valid X-Admin-Token header into the is-admin
// capability. Handlers gate on the capability; with no token configured the
// admin surface stays closed.
func adminTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		configured := config.AdminAPIToken()
		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if configured != "" && provided != "" &&
			subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) == 1 {
			c.Request = c.Request.WithContext(utils.SetIsAdminInContext(c.Request.Context(), true))
		}
		c.Next()
	}
}

// customErrorLogger logs only requests that collected errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.Request.URL.Path,
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
