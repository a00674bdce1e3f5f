package database

import (
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type options struct {
	maxIdle       int
	maxOpen       int
	maxLifetime   time.Duration
	slowThreshold time.Duration
	logLevel      logger.LogLevel
}

type Option func(*options)

// WithPool bounds the connection pool.
func WithPool(maxIdle, maxOpen int, maxLifetime time.Duration) Option {
	return func(o *options) {
		o.maxIdle = maxIdle
		o.maxOpen = maxOpen
		o.maxLifetime = maxLifetime
	}
}

// WithQueryLog logs every statement instead of only slow ones and errors.
func WithQueryLog(enabled bool) Option {
	return func(o *options) {
		if enabled {
			o.logLevel = logger.Info
		} else {
			o.logLevel = logger.Warn
		}
	}
}

func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) { o.slowThreshold = d }
}

func newLogger(o options) logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             o.slowThreshold,
			LogLevel:                  o.logLevel,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  true,
		},
	)
}

// NewGormDBFromDSN opens the procedure catalog database.
func NewGormDBFromDSN(dsn string, opts ...Option) (*gorm.DB, error) {
	o := options{
		maxIdle:       10,
		maxOpen:       50,
		maxLifetime:   time.Hour,
		slowThreshold: 500 * time.Millisecond,
		logLevel:      logger.Warn,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newLogger(o),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(o.maxIdle)
	sqlDB.SetMaxOpenConns(o.maxOpen)
	sqlDB.SetConnMaxLifetime(o.maxLifetime)

	return db, nil
}
