package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/spf13/cobra"
)

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in and where",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap := c.app.Session().Snapshot()
			fields := []field{{"Status", snap.Status.String()}}

			if u := snap.User; u != nil {
				fields = append(fields,
					field{"User", fmt.Sprintf("%s <%s>", u.DisplayName, u.Email)},
					field{"Role", u.Role.String()},
				)
				if client, err := c.app.Tenants().Current(); err == nil {
					fields = append(fields, field{"Client", fmt.Sprintf("%s (%s)", client.Name, client.Slug)})
				}
				if claims, err := c.app.Tokens().Claims(); err == nil {
					fields = append(fields, field{"Expires", until(claims.ExpiresIn(time.Now()))})
				}
			}
			fields = append(fields, field{"API", c.app.Config().APIURL})
			return renderFields(cmd.OutOrStdout(), fields...)
		},
	}
}

func (c *cli) refreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Session().Refresh(cmd.Context()); err != nil {
				return c.settle(err)
			}
			notify.Success(c.notifier, "Session refreshed.")
			return nil
		},
	}
	return routed(cmd, guard.PathHome)
}

func (c *cli) watchCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow sign-outs and client switches made by other sessions",
		Long: "Watch stays running until the session ends. Sign-outs and client switches made " +
			"by other opsdash processes sharing the same storage are applied as they happen. " +
			"With --interval the profile is also re-validated against the server periodically.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			unsubscribe := c.app.Session().Subscribe(func(s domain.Session) {
				_, _ = fmt.Fprintf(out, "%s session %s\n", time.Now().Format(time.TimeOnly), s.Status)
				if s.Status.SignedOut() {
					cancel()
				}
			})
			defer unsubscribe()

			if interval > 0 {
				go c.revalidate(ctx, interval)
			}
			notify.Info(c.notifier, "Watching for changes from other sessions. Press Ctrl-C to stop.")
			return c.app.Watch(ctx)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "re-validate the session this often (0 disables)")
	return routed(cmd, guard.PathHome)
}

// revalidate reloads the profile until ctx ends. A rejected token expires the
// session through the token store, which ends the watch.
func (c *cli) revalidate(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.app.Session().ReloadProfile(ctx); err != nil {
				c.app.Logger().Debug("profile check failed", "error", err)
			}
		}
	}
}

func (c *cli) routesCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "routes",
		Short:  "Show which dashboard routes the current session may open",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			router := c.app.Router()
			snap := c.app.Session().Snapshot()

			var rows [][]string
			for _, path := range router.Paths() {
				rule, _ := router.Rule(path)
				d := rule.Evaluate(snap)
				rows = append(rows, []string{"", path, rule.Kind.String(), d.Action.String(), d.Target})
			}
			return renderTable(cmd.OutOrStdout(), []string{"", "Route", "Kind", "Decision", "Target"}, rows)
		},
	}
}
