package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seplag/regional_sync/config"
	"github.com/seplag/regional_sync/middlewares"
	"github.com/seplag/regional_sync/models"
	"github.com/seplag/regional_sync/regionalsync"
	"github.com/seplag/regional_sync/utils"
	"github.com/sirupsen/logrus"
)

// handlerSwitch serves a bootstrap router until the real one is ready.
type handlerSwitch struct {
	current atomic.Value
}

func (h *handlerSwitch) set(next http.Handler) {
	h.current.Store(next)
}

func (h *handlerSwitch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.current.Load().(http.Handler).ServeHTTP(w, r)
}

type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	scheduler *regionalsync.Scheduler
	publisher *regionalsync.PubSubPublisher
}

func main() {
	logger := config.GetLogger()
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err)
	}
	config.SetLogLevel(cfg.LogLevel)
	utils.SetJwtSecret(cfg.APISecret)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	handler := &handlerSwitch{}
	handler.set(bootstrapRouter())
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"field": "server", "port": cfg.Port}).Info("listening")

	a := &app{cfg: cfg, logger: logger}
	router, err := a.bootstrap(sigCtx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "bootstrap"}).Error(err)
		shutdown(srv, a, logger)
		os.Exit(1)
	}
	handler.set(router)
	if a.scheduler != nil {
		if err := a.scheduler.Start(sigCtx); err != nil {
			logger.WithFields(logrus.Fields{"field": "scheduler"}).Error(err)
		}
	}

	select {
	case <-sigCtx.Done():
		logger.WithFields(logrus.Fields{"field": "server"}).Info("shutting down")
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
	shutdown(srv, a, logger)
}

// bootstrap connects the stores and builds the full router.
func (a *app) bootstrap(ctx context.Context) (http.Handler, error) {
	db, err := config.ConnectDatabaseWithRetry(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	if !a.cfg.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			return nil, err
		}
	} else {
		a.logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	regionalStore := models.NewRegionalStore(db)
	runStore := models.NewSyncRunStore(db)

	var cache regionalsync.ActiveCache
	rdb, err := config.ConnectRedisWithRetry(ctx, a.cfg.RedisAddress, a.cfg.RedisConnectAttempts)
	if err != nil {
		a.logger.WithFields(logrus.Fields{"field": "redis"}).Warn("running without redis cache and distributed lock: " + err.Error())
	} else {
		cache = regionalsync.NewRedisActiveCache(rdb, a.cfg.CacheTTL)
	}

	routes := regionalsync.Routes{
		Reader: regionalsync.NewReader(regionalStore, cache, a.logger),
		Runs:   runStore,
	}
	if a.cfg.APISecret != "" {
		routes.Auth = middlewares.RequireAuth(a.cfg.AdminRoles...)
	} else {
		a.logger.WithFields(logrus.Fields{"field": "auth"}).Warn("API_SECRET not set; admin endpoints are unauthenticated")
	}

	if a.cfg.Sync.Enabled {
		source, err := regionalsync.NewClient(regionalsync.ClientConfig{
			URL:          a.cfg.Sync.SourceURL,
			APIKey:       a.cfg.Sync.APIKey,
			APIKeyHeader: a.cfg.Sync.APIKeyHeader,
			Timeout:      a.cfg.Sync.FetchTimeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		opts := []regionalsync.Option{
			regionalsync.WithRunRecorder(runStore),
			regionalsync.WithCycleLock(regionalsync.NewCycleLock(config.GetRedisLock(), a.cfg.Sync.LockTTL, a.logger)),
			regionalsync.WithAllowEmpty(a.cfg.Sync.AllowEmpty),
			regionalsync.WithLogger(a.logger),
		}
		if cache != nil {
			opts = append(opts, regionalsync.WithCache(cache))
		}
		if a.cfg.Sync.Topic != "" {
			if p := a.openPublisher(ctx); p != nil {
				a.publisher = p
				opts = append(opts, regionalsync.WithPublisher(p))
			}
		}
		synchronizer := regionalsync.NewSynchronizer(source, regionalStore, opts...)
		a.scheduler = regionalsync.NewScheduler(synchronizer, a.cfg.Sync.Interval, a.cfg.Sync.OnStartup, a.logger)
		routes.Trigger = a.scheduler
		routes.EnablePush = a.cfg.Sync.PushEnabled
	} else {
		routes.Trigger = regionalsync.DisabledTrigger{}
		a.logger.WithFields(logrus.Fields{"field": "regionalsync"}).Warn("REGIONAL_SYNC_ENABLED=false; scheduler not started")
	}

	return newRouter(a.cfg, a.logger, routes), nil
}

func (a *app) openPublisher(ctx context.Context) *regionalsync.PubSubPublisher {
	client, err := config.GetPubSubClient(ctx, a.cfg.PubSubProjectID)
	if err != nil {
		config.LogError(a.logger, "server.go", "openPublisher", "pubsub client", nil, err)
		return nil
	}
	p, err := regionalsync.NewPubSubPublisher(ctx, client, a.cfg.Sync.Topic)
	if err != nil {
		config.LogError(a.logger, "server.go", "openPublisher", "pubsub topic", a.cfg.Sync.Topic, err)
		return nil
	}
	return p
}

func bootstrapRouter() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service starting"})
	})
	return r
}

func newRouter(cfg *config.Config, logger *logrus.Logger, routes regionalsync.Routes) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.Use(cors.New(corsConfig(cfg)))
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	regionalsync.RegisterRoutes(r, routes)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func corsConfig(cfg *config.Config) cors.Config {
	corsConfig := cors.DefaultConfig()
	if cfg.IsProduction() {
		corsConfig.AllowOrigins = cfg.CORSOrigins
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationIdHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

func shutdown(srv *http.Server, a *app, logger *logrus.Logger) {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "server"}).Warn("shutdown: " + err.Error())
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if err := config.ClosePubSubClient(); err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("close pubsub client: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	if db := config.GetDB(); db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
