package repository

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Options selects and configures a Store backend.
type Options struct {
	// DSN is "mongodb://...", "mongodb+srv://...", "mysql://...",
	// "sqlite://path" or a bare SQLite path.
	DSN     string
	MongoDB string
	Logger  *zap.Logger
}

// Backend names returned by BackendFor.
const (
	BackendNone   = "none"
	BackendMongo  = "mongo"
	BackendMySQL  = "mysql"
	BackendSQLite = "sqlite"
)

// BackendFor names the backend a DSN selects.
func BackendFor(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return BackendNone
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return BackendMongo
	case strings.HasPrefix(dsn, "mysql://"):
		return BackendMySQL
	default:
		return BackendSQLite
	}
}

// Open returns the backend matching opts.DSN.
func Open(ctx context.Context, opts Options) (Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dsn := strings.TrimSpace(opts.DSN)
	switch BackendFor(dsn) {
	case BackendNone:
		return nil, ErrNotConfigured
	case BackendMongo:
		database := opts.MongoDB
		if database == "" {
			database = "Reward-Bot"
		}
		return NewMongoStore(ctx, dsn, database)
	default:
		db, err := NewDB(dsn, log)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db), nil
	}
}

// OpenOrUnavailable opens the configured backend, falling back to an
// Unavailable store so the bot keeps serving when storage is down.
func OpenOrUnavailable(ctx context.Context, opts Options) Store {
	store, err := Open(ctx, opts)
	if err != nil {
		log := opts.Logger
		if log == nil {
			log = zap.NewNop()
		}
		log.Error("storage disabled", zap.Error(err))
		return NewUnavailable(err)
	}
	return store
}
