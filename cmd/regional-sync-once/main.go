// regional-sync-once runs a single regional reconciliation cycle and exits.
//
// Usage:
//
//	REGIONAL_SYNC_URL=... DB_USER=... DB_HOST=... DB_NAME=... go run ./cmd/regional-sync-once [-dry-run]
//
// With -dry-run it prints the planned changes without writing.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seplag/regional_sync/config"
	"github.com/seplag/regional_sync/models"
	"github.com/seplag/regional_sync/regionalsync"
	"github.com/sirupsen/logrus"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Print the plan without changing the database")
	connectTimeout := flag.Duration("connect-timeout", 2*time.Minute, "Give up connecting to the database after this long")
	skipMigrations := flag.Bool("skip-migrations", false, "Do not AutoMigrate before the cycle")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	config.SetLogLevel(cfg.LogLevel)
	logger := config.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, *connectTimeout)
	db, err := config.ConnectDatabaseWithRetry(connectCtx, cfg.Database)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not initialized: %v\n", err)
		os.Exit(1)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if !*skipMigrations && !cfg.SkipMigrations && !*dryRun {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
	}

	source, err := regionalsync.NewClient(regionalsync.ClientConfig{
		URL:          cfg.Sync.SourceURL,
		APIKey:       cfg.Sync.APIKey,
		APIKeyHeader: cfg.Sync.APIKeyHeader,
		Timeout:      cfg.Sync.FetchTimeout,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	opts := []regionalsync.Option{
		regionalsync.WithAllowEmpty(cfg.Sync.AllowEmpty),
		regionalsync.WithLogger(logger),
	}
	if !*dryRun {
		opts = append(opts, regionalsync.WithRunRecorder(models.NewSyncRunStore(db)))
		if rdb, err := config.ConnectRedisWithRetry(ctx, cfg.RedisAddress, 1); err == nil {
			opts = append(opts,
				regionalsync.WithCycleLock(regionalsync.NewCycleLock(config.GetRedisLock(), cfg.Sync.LockTTL, logger)),
				regionalsync.WithCache(regionalsync.NewRedisActiveCache(rdb, cfg.CacheTTL)),
			)
			defer rdb.Close()
		} else {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn("redis unavailable, running without distributed lock: " + err.Error())
		}
	}
	synchronizer := regionalsync.NewSynchronizer(source, models.NewRegionalStore(db), opts...)

	if *dryRun {
		plan, fetched, err := synchronizer.Preview(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "preview failed: %v\n", err)
			os.Exit(1)
		}
		printJSON(map[string]any{
			"received":   fetched.Received,
			"discarded":  fetched.Discarded,
			"create":     plan.Create,
			"deactivate": plan.Deactivate,
			"unchanged":  len(plan.Unchanged),
			"repair":     plan.Repair,
		})
		return
	}

	report, err := synchronizer.RunCycle(ctx, models.SyncTriggeredCLI)
	printJSON(report)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cycle failed: %v\n", err)
		if errors.Is(err, regionalsync.ErrPartialCycle) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
