// Package crosstab keeps several processes that share one storage in step:
// a sign-out in one ends the session in the others, and a tenant switch in
// one is picked up by the rest.
package crosstab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
)

type Session interface {
	Snapshot() domain.Session
	HandleRemoteLogout(ctx context.Context)
}

type Tenants interface {
	Rehydrate(ctx context.Context)
}

type Config struct {
	Storage storage.Storage
	Keys    storage.Keys
	Session Session
	Tenants Tenants
	Logger  *slog.Logger
	// OnEvent, if set, sees every event after it has been applied.
	OnEvent func(storage.Event)
}

type Listener struct {
	cfg Config
}

func New(cfg Config) *Listener {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Listener{cfg: cfg}
}

// Run applies storage events until ctx ends. It returns storage.ErrWatchUnsupported
// when the driver cannot observe other processes.
func (l *Listener) Run(ctx context.Context) error {
	w, ok := l.cfg.Storage.(storage.Watcher)
	if !ok {
		return storage.ErrWatchUnsupported
	}
	events, err := w.Watch(ctx)
	if err != nil {
		return fmt.Errorf("crosstab: watch: %w", err)
	}

	l.cfg.Logger.Debug("cross-process sync started")
	for ev := range events {
		l.apply(ctx, ev)
		if l.cfg.OnEvent != nil {
			l.cfg.OnEvent(ev)
		}
	}
	return ctx.Err()
}

func (l *Listener) apply(ctx context.Context, ev storage.Event) {
	log := l.cfg.Logger.With("key", ev.Key, "deleted", ev.Deleted)

	switch ev.Key {
	case l.cfg.Keys.AccessToken:
		if !ev.Deleted {
			log.Debug("access token changed elsewhere")
			return
		}
		// Events can arrive late; only a token that is still gone means a sign-out.
		_, err := l.cfg.Storage.Get(ctx, ev.Key)
		switch {
		case err == nil:
			log.Debug("ignoring stale delete, token present")
			return
		case !errors.Is(err, storage.ErrNotFound):
			log.Warn("failed to confirm remote logout", "error", err)
			return
		}
		if l.cfg.Session.Snapshot().Status == domain.StatusAuthenticated {
			log.Info("signed out elsewhere")
			l.cfg.Session.HandleRemoteLogout(ctx)
		}

	case l.cfg.Keys.Tenant:
		log.Debug("tenant selection changed elsewhere")
		l.cfg.Tenants.Rehydrate(ctx)
	}
}
