// Package cli is the opsdash command line. Every command maps onto a route of
// the guard: the route is evaluated against the restored session before the
// command runs, exactly as a screen would be.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/app"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/session"
	"github.com/spf13/cobra"
)

const (
	// routeAnnotation names the guard route a command renders.
	routeAnnotation = "opsdash/route"
	// standaloneAnnotation marks commands that run without the application.
	standaloneAnnotation = "opsdash/standalone"
)

var (
	ErrSignInRequired  = errors.New("not signed in: run `opsdash login` first")
	ErrAlreadySignedIn = errors.New("already signed in: run `opsdash logout` first")
	ErrForbidden       = errors.New(notify.MsgForbidden)
	ErrFixedClient     = errors.New("your account is bound to one client: switching is not available")
)

// reportedError is an error the operator has already been shown.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Env is what the command line reads from and writes to.
type Env struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Prompter asks for input the flags did not provide (default: huh forms).
	Prompter Prompter
	// LoadConfig is app.LoadConfig unless replaced.
	LoadConfig func() (app.Config, error)
	// Logger replaces the configured logger.
	Logger *slog.Logger
}

// StdEnv is the process environment.
func StdEnv() *Env {
	return &Env{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

type globalFlags struct {
	apiURL      string
	storage     string
	storagePath string
	namespace   string
	logLevel    string
	totpSecret  string
}

// cli carries state shared by the command tree during one invocation.
type cli struct {
	env      *Env
	flags    globalFlags
	notifier notify.Notifier
	app      *app.Application
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, env *Env, args []string) int {
	c := newCLI(env)
	root := c.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if c.app != nil {
		if cerr := c.app.Close(); cerr != nil {
			c.app.Logger().Warn("failed to close application", "error", cerr)
		}
	}
	if err == nil {
		return 0
	}

	var reported *reportedError
	if !errors.As(err, &reported) {
		notify.Error(c.notifier, notify.MessageFor(err))
	}
	return 1
}

func newCLI(env *Env) *cli {
	if env.In == nil {
		env.In = os.Stdin
	}
	if env.Out == nil {
		env.Out = os.Stdout
	}
	if env.Err == nil {
		env.Err = os.Stderr
	}
	if env.Prompter == nil {
		env.Prompter = NewFormPrompter(env.In, env.Err)
	}
	if env.LoadConfig == nil {
		env.LoadConfig = app.LoadConfig
	}
	return &cli{env: env, notifier: notify.NewTerminal(env.Err)}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "opsdash",
		Short:         "Sign in to the operations dashboard and manage your session",
		Version:       app.BuildVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Annotations[standaloneAnnotation] != "" {
				return nil
			}
			if err := c.start(cmd.Context(), cmd); err != nil {
				return err
			}
			return c.gate(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(c.env.Out)
	root.SetErr(c.env.Err)
	root.SetIn(c.env.In)

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.apiURL, "api-url", "", "dashboard API base URL (env OPSDASH_API_URL)")
	pf.StringVar(&c.flags.storage, "storage", "", "storage driver: memory, file, sqlite, redis (env OPSDASH_STORAGE)")
	pf.StringVar(&c.flags.storagePath, "storage-path", "", "state file for the file and sqlite drivers (env OPSDASH_STORAGE_PATH)")
	pf.StringVar(&c.flags.namespace, "namespace", "", "storage key namespace (env OPSDASH_NAMESPACE)")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	pf.StringVar(&c.flags.totpSecret, "totp-secret", "", "generate second-factor codes from this secret (env OPSDASH_TOTP_SECRET)")

	root.AddCommand(
		c.loginCommand(),
		c.logoutCommand(),
		c.logoutAllCommand(),
		c.statusCommand(),
		c.refreshCommand(),
		c.watchCommand(),
		c.clientsCommand(),
		c.sessionsCommand(),
		c.passwordCommand(),
		c.routesCommand(),
	)
	return root
}

// start builds the application and restores the persisted session.
func (c *cli) start(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := c.env.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a, err := app.New(ctx, cfg, app.Options{
		Logger:    c.env.Logger,
		Notifier:  c.notifier,
		Navigator: guard.NavigatorFunc(c.navigate),
	})
	if err != nil {
		return err
	}
	c.app = a
	return a.Boot(ctx)
}

func (c *cli) applyFlags(cmd *cobra.Command, cfg *app.Config) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("api-url", &cfg.APIURL, c.flags.apiURL)
	set("storage", &cfg.StorageDriver, c.flags.storage)
	set("storage-path", &cfg.StoragePath, c.flags.storagePath)
	set("namespace", &cfg.Namespace, c.flags.namespace)
	set("log-level", &cfg.LogLevel, c.flags.logLevel)
	set("totp-secret", &cfg.TOTPSecret, c.flags.totpSecret)
}

// gate evaluates the command's route. Commands without one are public.
func (c *cli) gate(cmd *cobra.Command) error {
	path := cmd.Annotations[routeAnnotation]
	if path == "" {
		return nil
	}
	d, err := c.app.Guard(path)
	if err != nil {
		return err
	}

	switch d.Action {
	case guard.ActionRender:
		return nil
	case guard.ActionForbidden:
		return ErrForbidden
	case guard.ActionRedirect:
		if d.Target == guard.PathLogin {
			return ErrSignInRequired
		}
		return ErrAlreadySignedIn
	default:
		return fmt.Errorf("route %s is not ready (%s)", path, d.Action)
	}
}

// navigate turns redirects requested by the session into hints.
func (c *cli) navigate(path string) {
	if path == guard.PathLogin {
		notify.Info(c.notifier, "Run `opsdash login` to sign in again.")
	}
}

// settle marks errors that the session or transport already surfaced.
func (c *cli) settle(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrStale),
		errors.Is(err, session.ErrNoChallenge),
		errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, session.ErrAuthenticated):
		return err
	}
	return &reportedError{err: err}
}

// settleAPI marks direct API errors the transport already surfaced.
func (c *cli) settleAPI(err error) error {
	if err != nil && c.app.Tokens().Reported(err) {
		return &reportedError{err: err}
	}
	return err
}

func routed(cmd *cobra.Command, path string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[routeAnnotation] = path
	return cmd
}
