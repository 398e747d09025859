package config

import (
	"context"
	"log"
	"net"
	"os"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/seplag/regional_sync/utils"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

// DSN builds the MySQL connection string.
//
// Cloud Run + Cloud SQL: when Host is "/cloudsql/<CONNECTION_NAME>",
// connect using the Unix domain socket provided by the Cloud SQL Auth Proxy.
func (c DatabaseConfig) DSN() string {
	cfg := mysqlDriver.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if strings.HasPrefix(c.Host, "/cloudsql/") {
		cfg.Net = "unix"
		cfg.Addr = c.Host
	} else {
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, c.Port)
	}
	return cfg.FormatDSN()
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
// It keeps retrying with capped exponential backoff until ctx is done.
func ConnectDatabaseWithRetry(ctx context.Context, c DatabaseConfig) (*gorm.DB, error) {
	var attempt int
	for {
		attempt++
		conn, err := gorm.Open(mysql.Open(c.DSN()), initConfig())
		if err == nil {
			tunePool(conn, c)
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				logg.WithFields(logrus.Fields{"field": "database"}).Warn("db connected but failed to install otelgorm plugin: " + pluginErr.Error())
			}
			logg.WithFields(logrus.Fields{"field": "database", "attempt": attempt}).Info("connected to database")
			db = conn
			return conn, nil
		}

		sleep := utils.Backoff(attempt)
		logg.WithFields(logrus.Fields{
			"field":    "database",
			"attempt":  attempt,
			"retry_in": sleep.String(),
		}).Warn("failed to connect database: " + err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// tunePool applies the database/sql pool limits for Cloud SQL / production.
func tunePool(conn *gorm.DB, c DatabaseConfig) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if c.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// initLog Connection Log Configuration
func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
