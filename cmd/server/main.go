// Package main runs the local recording agent: the control API for the recorder UI, the capture
// ingest endpoints, and the session event stream, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/screenrec/config"
	"github.com/aura-webinar/screenrec/internal/auth"
	"github.com/aura-webinar/screenrec/internal/capture"
	"github.com/aura-webinar/screenrec/internal/export"
	"github.com/aura-webinar/screenrec/internal/library"
	"github.com/aura-webinar/screenrec/internal/middleware"
	"github.com/aura-webinar/screenrec/internal/models"
	"github.com/aura-webinar/screenrec/internal/realtime"
	"github.com/aura-webinar/screenrec/internal/recorder"
	"github.com/aura-webinar/screenrec/internal/recordings"
	"github.com/aura-webinar/screenrec/pkg/redis"
	"github.com/aura-webinar/screenrec/pkg/response"
	"github.com/aura-webinar/screenrec/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	store, err := auth.OpenStore(cfg.Session.File, cfg.Session.Passphrase)
	if err != nil {
		logger.Fatal("session store", zap.Error(err), zap.String("file", cfg.Session.File))
	}

	// Session events: local /events clients, optionally mirrored to Redis
	var mirror realtime.Mirror
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis mirror disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			mirror = realtime.NewRedisPubSub(rdb.Client, logger)
		}
	}
	hub := realtime.NewHub(logger, mirror)
	defer hub.Close()
	preview := realtime.NewPreview(logger)

	// Capture ingest: the recorder page attaches over WebSocket or WebRTC
	allowOrigin := middleware.OriginAllowed(cfg.Server.CORSAllowedOrigins)
	broker := capture.NewBroker(logger)
	wsSource := capture.NewWebSocketSource(broker, logger, allowOrigin)
	rtcSource := capture.NewWebRTCSource(broker, cfg.WebRTC.ICEUrls, logger)

	// Remote store
	authClient := auth.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, logger)
	libraryClient := library.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, logger)

	session := recorder.NewSession(recorder.Options{
		Source:       broker,
		Library:      libraryClient,
		Tokens:       store,
		Preview:      preview,
		Events:       hub,
		CaptureAudio: cfg.Recording.CaptureAudio,
		Logger:       logger,
	})

	// Export targets
	fileExporter := export.NewFileExporter(cfg.Recording.ExportDir, logger)
	sessionHandler := recordings.NewHandler(session, broker.Ready, cfg.Recording.CaptureWaitTimeout, logger)
	sessionHandler.SetExporter(recordings.TargetFile, fileExporter)
	if cfg.Recording.UploadFallbackExport {
		sessionHandler.SetUploadFallback(fileExporter)
	}
	if cfg.AWS.ExportBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Endpoint:             cfg.AWS.Endpoint,
			Bucket:               cfg.AWS.ExportBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 export disabled", zap.Error(err))
		} else {
			sessionHandler.SetExporter(recordings.TargetS3, export.NewS3Exporter(s3Client, store.UserID, logger))
		}
	}

	authHandler := auth.NewHandler(authClient, store, logger)
	libraryHandler := library.NewHandler(libraryClient, store, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/signup", authHandler.Signup)
		authGroup.POST("/demo", authHandler.Demo)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/me", authHandler.Me)
		authGroup.POST("/password-strength", authHandler.Strength)
	}

	// Capture ingest and live views (WebSocket; origin checked on upgrade)
	router.GET("/capture/ws", wsSource.Handler())
	router.POST("/capture/webrtc/offer", rtcSource.OfferHandler())
	router.GET("/events", realtime.ServeWs(hub, logger, allowOrigin))
	router.GET("/session/preview", realtime.ServePreview(preview, logger, allowOrigin))

	// Session control (capture works without login; store calls need a session)
	requireSession := middleware.RequireSession(store)
	sessionGroup := router.Group("/session")
	{
		sessionGroup.GET("", sessionHandler.Get)
		sessionGroup.POST("/start", sessionHandler.Start)
		sessionGroup.POST("/stop", sessionHandler.Stop)
		sessionGroup.POST("/rename", sessionHandler.Rename)
		sessionGroup.POST("/export", sessionHandler.Export)
		sessionGroup.GET("/download", sessionHandler.Download)
		sessionGroup.POST("/upload", requireSession, sessionHandler.Upload)
		sessionGroup.GET("/share-link", requireSession, sessionHandler.ShareLink)
	}

	// Library (session required)
	lib := router.Group("/library")
	lib.Use(requireSession)
	{
		lib.GET("", libraryHandler.List)
		lib.GET("/search", libraryHandler.Search)
		lib.PATCH("/:id", libraryHandler.Rename)
		lib.DELETE("/:id", libraryHandler.Delete)
		lib.GET("/:id/share-link", libraryHandler.ShareLink)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("agent listening", zap.String("addr", cfg.Server.Addr), zap.String("api", cfg.API.BaseURL))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Finalize a running capture so its chunks are not lost
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if snap := session.Snapshot(); snap.State == models.SessionStateCapturing {
		if _, err := session.Stop(stopCtx); err != nil {
			logger.Warn("stop on shutdown", zap.Error(err))
		} else if cfg.Recording.UploadFallbackExport {
			if loc, err := session.Export(stopCtx, fileExporter); err == nil {
				logger.Info("recording saved on shutdown", zap.String("location", loc))
			}
		}
	}
	stopCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("agent stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if os.Getenv("LOG_LEVEL") == "debug" {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, _ := config.Build()
	return logger
}
