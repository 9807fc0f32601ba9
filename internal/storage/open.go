package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type DatabaseConfig struct {
	Driver         string
	Path           string
	URL            string
	ReservationTTL time.Duration
}

// Open builds the configured storage. SQL backends are migrated before use.
func Open(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (Storage, error) {
	var dsn string
	switch cfg.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return NewMemoryStorage(), nil
	case DriverSQLite:
		dsn = cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	case DriverPostgres:
		dsn = cfg.URL
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := ConnectSQL(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db, cfg.Driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Successfully connected to the database!", zap.String("driver", cfg.Driver))
	return NewSQLStorage(db, cfg.Driver, cfg.ReservationTTL), nil
}
