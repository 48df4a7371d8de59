package storage

import (
	"fmt"

	"go.uber.org/zap"
)

// Options selects and configures a backend.
type Options struct {
	// Driver is one of "memory", "postgres", "sqlite" or "mysql".
	Driver string
	// DataFile mirrors the memory backend to disk when set.
	DataFile string
	// Postgres is used by the postgres driver.
	Postgres DatabaseConfig
	// DSN is used by the sqlite and mysql drivers.
	DSN string
}

// Open builds the backend named by opts.Driver.
func Open(opts Options, logger *zap.Logger) (Storage, error) {
	switch opts.Driver {
	case "", "memory":
		if opts.DataFile == "" {
			logger.Info("Using in-memory storage")
			return NewMemoryStorage(), nil
		}
		logger.Info("Using file-backed in-memory storage", zap.String("path", opts.DataFile))
		return NewFileStorage(opts.DataFile)
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		return NewPostgresStorage(opts.Postgres, logger)
	case "sqlite", "mysql":
		return NewGormStorage(opts.Driver, opts.DSN, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
