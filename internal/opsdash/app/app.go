package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/crosstab"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/session"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/tenant"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/tokenstore"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/httpx"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Options replaces collaborators that differ between the CLI and tests.
// Zero values select the defaults.
type Options struct {
	Logger    *slog.Logger
	Notifier  notify.Notifier
	Navigator guard.Navigator
	// Storage, when set, is used instead of opening the configured driver.
	Storage storage.Storage
	// Transport is the innermost round tripper (default: http.DefaultTransport).
	Transport http.RoundTripper
}

// Application owns the session coordinator and everything it is wired to.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	storage  storage.Storage
	keys     storage.Keys
	notifier notify.Notifier

	// Coordinators
	tokens  *tokenstore.Store
	api     *authsdk.SDKClient
	tenants *tenant.Store
	session *session.Manager
	router  *guard.Router
	sync    *crosstab.Listener
}

// New creates a new Application with all dependencies initialized.
// The persisted session is not restored until Boot.
func New(ctx context.Context, cfg Config, opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slogx.New(slogx.Config{
			Service: "opsdash",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Log{Logger: logger}
	}
	navigator := opts.Navigator
	if navigator == nil {
		navigator = guard.NavigatorFunc(func(path string) {
			logger.Debug("navigation requested", "path", path)
		})
	}

	st := opts.Storage
	if st == nil {
		var err error
		if st, err = OpenStorage(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	a := &Application{
		cfg:      cfg,
		logger:   logger,
		storage:  st,
		keys:     storage.DefaultKeys(cfg.Namespace),
		notifier: notifier,
		router:   guard.DefaultRouter(),
	}

	a.tokens = tokenstore.New(tokenstore.Config{
		Storage:      st,
		Keys:         a.keys,
		APIKey:       cfg.APIKey,
		APIKeyHeader: cfg.APIKeyHeader,
		Notifier:     notifier,
		Logger:       logger,
	})
	a.api = authsdk.NewSDKClientWithTransport(cfg.APIURL, a.transport(opts.Transport), cfg.HTTPTimeout)
	a.tenants = tenant.New(ctx, a.api, st, a.keys.Tenant, logger)
	a.session = session.New(session.Config{
		Gateway:   a.api,
		Tokens:    a.tokens,
		Tenants:   a.tenants,
		Storage:   st,
		Keys:      a.keys,
		Notifier:  notifier,
		Navigator: navigator,
		Logger:    logger,
	})
	a.tokens.OnUnauthorized(a.session.HandleUnauthorized)
	a.sync = crosstab.New(crosstab.Config{
		Storage: st,
		Keys:    a.keys,
		Session: a.session,
		Tenants: a.tenants,
		Logger:  logger,
	})

	logger.Debug("application initialized",
		"api_url", cfg.APIURL,
		"storage", cfg.StorageDriver,
		"encrypted", cfg.EncryptionSecret != "",
	)
	return a, nil
}

// transport builds the outgoing chain. The token store sits outermost so it
// stamps credentials once and judges the final response after retries.
func (a *Application) transport(base http.RoundTripper) http.RoundTripper {
	return a.tokens.Transport(httpx.ChainTransport(base,
		httpx.RequestID(),
		httpx.RateLimit(a.cfg.RateLimit),
		httpx.RetryReads(),
		func(next http.RoundTripper) http.RoundTripper { return slogx.Transport(a.logger, next) },
	))
}

// Boot restores the persisted session. A stale or unreadable session is not
// an error: the application simply starts signed out.
func (a *Application) Boot(ctx context.Context) error {
	err := a.session.InitFromPersistedState(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("boot interrupted: %w", ctxErr)
	}
	a.logger.Debug("starting signed out", "error", err)
	return nil
}

// Guard evaluates the route guard for path against the current session.
func (a *Application) Guard(path string) (guard.Decision, error) {
	return a.router.Evaluate(path, a.session.Snapshot())
}

// Watch follows changes made by other processes sharing the storage until ctx ends.
func (a *Application) Watch(ctx context.Context) error {
	err := a.sync.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Close releases the storage driver.
func (a *Application) Close() error {
	if err := a.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}

func (a *Application) Config() Config { return a.cfg }
func (a *Application) Logger() *slog.Logger { return a.logger }
func (a *Application) Notifier() notify.Notifier { return a.notifier }
func (a *Application) Storage() storage.Storage { return a.storage }
func (a *Application) Keys() storage.Keys { return a.keys }
func (a *Application) Tokens() *tokenstore.Store { return a.tokens }
func (a *Application) API() *authsdk.SDKClient { return a.api }
func (a *Application) Tenants() *tenant.Store { return a.tenants }
func (a *Application) Session() *session.Manager { return a.session }
func (a *Application) Router() *guard.Router { return a.router }
func (a *Application) Sync() *crosstab.Listener { return a.sync }
