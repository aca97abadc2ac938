package runner

import (
	"context"
	"errors"
	"sync"

	"strategykit/internal/alarm"
	xerrors "strategykit/internal/errors"
	"strategykit/internal/logger"
	"strategykit/internal/ops"
	"strategykit/internal/store"
)

var ErrNotConfigured = errors.New("runner: not configured")

// App is the process-wide state handed to every entry point. Stores are
// opened on first use and closed by Close.
type App struct {
	Mode     Mode
	Config   ops.Loaded
	Log      *logger.Logger
	Reporter store.ErrorReporter

	mu sync.Mutex
	db *store.RelationalStore
	kv *store.KeyValueStore
}

// NewApp wires the reporter to log. A nil log discards.
func NewApp(mode Mode, cfg ops.Loaded, log *logger.Logger) *App {
	if log == nil {
		log = logger.Discard()
	}
	return &App{
		Mode:     mode,
		Config:   cfg,
		Log:      log,
		Reporter: logger.NewReporter(log),
	}
}

// DB returns the relational store at DATABASE.SQL_URL.
func (a *App) DB(ctx context.Context) (*store.RelationalStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db != nil {
		return a.db, nil
	}
	if a.Config.Database.SQLURL == "" {
		return nil, xerrors.Wrap(ErrNotConfigured, "DATABASE.SQL_URL")
	}
	db, err := store.OpenRelational(ctx, a.Config.Database.SQLURL, a.Reporter)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// KV returns the key-value store at DATABASE.REDIS_URL.
func (a *App) KV(ctx context.Context) (*store.KeyValueStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.kv != nil {
		return a.kv, nil
	}
	if a.Config.Database.RedisURL == "" {
		return nil, xerrors.Wrap(ErrNotConfigured, "DATABASE.REDIS_URL")
	}
	kv, err := store.OpenKeyValue(ctx, a.Config.Database.RedisURL, a.Reporter)
	if err != nil {
		return nil, err
	}
	a.kv = kv
	return kv, nil
}

// Email returns a new alert email from ALARM.EMAIL.
func (a *App) Email() (*alarm.Email, error) {
	if a.Config.Email == nil {
		return nil, xerrors.Wrap(ErrNotConfigured, "ALARM.EMAIL")
	}
	return alarm.New(*a.Config.Email), nil
}

// Close closes the opened stores and the logger.
func (a *App) Close() error {
	a.mu.Lock()
	db, kv := a.db, a.kv
	a.db, a.kv = nil, nil
	a.mu.Unlock()

	var errs []error
	if db != nil {
		errs = append(errs, db.Close())
	}
	if kv != nil {
		errs = append(errs, kv.Close())
	}
	errs = append(errs, a.Log.Close())
	return errors.Join(errs...)
}
