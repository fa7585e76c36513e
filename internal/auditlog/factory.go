package auditlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"chatgate/config"
	"chatgate/internal/storage"
)

// Result holds the initialized audit logger and the storage connection
// behind it. The caller owns both and must Close the result on shutdown.
type Result struct {
	Logger  LoggerInterface
	Storage storage.Storage
}

// Close shuts down the logger first so its final flush still has a live
// connection, then closes storage. Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// New builds the audit pipeline from configuration: storage connection,
// backend store, buffered logger. When auditing is disabled it returns a
// NoopLogger and no storage.
func New(ctx context.Context, cfg config.AuditConfig) (*Result, error) {
	if !cfg.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open audit storage: %w", err)
	}

	logStore, err := createLogStore(store, cfg.RetentionDays)
	if err != nil {
		store.Close()
		return nil, err
	}

	logCfg := Config{
		Enabled:       true,
		BufferSize:    cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
		RetentionDays: cfg.RetentionDays,
	}

	return &Result{
		Logger:  NewLogger(logStore, logCfg),
		Storage: store,
	}, nil
}

func buildStorageConfig(cfg config.AuditConfig) storage.Config {
	return storage.Config{
		Type: cfg.StorageType,
		SQLite: storage.SQLiteConfig{
			Path: cfg.SQLitePath,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL: cfg.PostgresDSN,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
		},
	}
}

// createLogStore picks the store implementation matching the storage
// backend.
func createLogStore(store storage.Storage, retentionDays int) (LogStore, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB(), retentionDays)

	case storage.TypePostgreSQL:
		pool, ok := store.PostgreSQLPool().(*pgxpool.Pool)
		if !ok {
			return nil, fmt.Errorf("invalid PostgreSQL pool type: %T", store.PostgreSQLPool())
		}
		return NewPostgreSQLStore(pool, retentionDays)

	case storage.TypeMongoDB:
		db, ok := store.MongoDatabase().(*mongo.Database)
		if !ok {
			return nil, fmt.Errorf("invalid MongoDB database type: %T", store.MongoDatabase())
		}
		return NewMongoDBStore(db, retentionDays)

	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
