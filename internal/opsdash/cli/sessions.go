package cli

import (
	"fmt"
	"time"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (c *cli) sessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and revoke your sign-ins on other devices",
	}
	cmd.AddCommand(
		routed(&cobra.Command{
			Use:   "list",
			Short: "List your active sessions",
			Args:  cobra.NoArgs,
			RunE:  c.runSessionsList,
		}, guard.PathSessions),
		routed(&cobra.Command{
			Use:   "revoke <id>",
			Short: "End one session",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runSessionsRevoke,
		}, guard.PathSessions),
	)
	return cmd
}

func (c *cli) runSessionsList(cmd *cobra.Command, _ []string) error {
	list, err := c.app.API().ListSessions(cmd.Context())
	if err != nil {
		return c.settleAPI(err)
	}

	now := time.Now()
	rows := make([][]string, 0, len(list.Sessions))
	for _, s := range list.Sessions {
		mark := ""
		if s.IsCurrent {
			mark = "*"
		}
		device := s.DeviceInfo
		if device == "" {
			device = s.UserAgent
		}
		rows = append(rows, []string{
			mark, s.ID.String(), device, s.IPAddress,
			ago(s.LastActivityAt, now), until(s.ExpiresAt.Sub(now)),
		})
	}
	if err := renderTable(cmd.OutOrStdout(), []string{"", "ID", "Device", "IP", "Last active", "Expires"}, rows); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d active session(s)\n", list.Total)
	return err
}

func (c *cli) runSessionsRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q", args[0])
	}

	if err := c.app.API().RevokeSession(ctx, id); err != nil {
		return c.settleAPI(err)
	}

	// Revoking this very session is a sign-out.
	if claims, err := c.app.Tokens().Claims(); err == nil && claims.SessionID == id.String() {
		return c.app.Session().Logout(ctx)
	}
	notify.Success(c.notifier, "Session revoked.")
	return nil
}
