package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/tenant"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func (c *cli) clientsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clients",
		Aliases: []string{"client"},
		Short:   "List, inspect and switch clients",
	}
	cmd.AddCommand(
		routed(&cobra.Command{
			Use:   "list",
			Short: "List the clients you can work in",
			Args:  cobra.NoArgs,
			RunE:  c.runClientsList,
		}, guard.PathClients),
		routed(&cobra.Command{
			Use:   "use [slug|id]",
			Short: "Switch the current client",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.runClientsUse,
		}, guard.PathClients),
		routed(&cobra.Command{
			Use:   "current",
			Short: "Show the current client",
			Args:  cobra.NoArgs,
			RunE:  c.runClientsCurrent,
		}, guard.PathHome),
		routed(&cobra.Command{
			Use:   "usage [slug|id]",
			Short: "Show token usage for this month",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.runClientsUsage,
		}, guard.PathHome),
	)
	return cmd
}

// fixedClient reports whether the signed-in user is bound to one client.
// Such users never see the list endpoint and cannot switch.
func (c *cli) fixedClient() bool {
	u := c.app.Session().Snapshot().User
	return u != nil && u.HasFixedClient()
}

// fetchClients lists clients from the API and publishes them to the tenant store.
func (c *cli) fetchClients(ctx context.Context) ([]domain.Client, error) {
	raw, err := c.app.API().ListClients(ctx)
	if err != nil {
		return nil, c.settleAPI(err)
	}
	list := make([]domain.Client, 0, len(raw))
	for _, rc := range raw {
		client, err := domain.ClientFromAPI(rc)
		if err != nil {
			c.app.Logger().Warn("skipping client", "client_id", rc.ID, "error", err)
			continue
		}
		list = append(list, client)
	}
	c.app.Tenants().SetClients(list)
	return list, nil
}

// resolveClient looks a client up by id or slug.
func (c *cli) resolveClient(ctx context.Context, ref string) (domain.Client, error) {
	var (
		raw *authsdk.Client
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		raw, err = c.app.API().GetClient(ctx, id)
	} else {
		raw, err = c.app.API().GetClientBySlug(ctx, ref)
	}
	if err != nil {
		return domain.Client{}, c.settleAPI(err)
	}
	return domain.ClientFromAPI(*raw)
}

func (c *cli) runClientsList(cmd *cobra.Command, _ []string) error {
	if c.fixedClient() {
		notify.Info(c.notifier, "Your account is bound to one client. Run `opsdash clients current` to see it.")
		return nil
	}
	list, err := c.fetchClients(cmd.Context())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		notify.Info(c.notifier, "No clients yet.")
		return nil
	}

	currentID := c.app.Tenants().Context().CurrentClientID()
	rows := make([][]string, 0, len(list))
	for _, cl := range list {
		mark := ""
		if cl.ID == currentID {
			mark = "*"
		}
		rows = append(rows, []string{
			mark, cl.Name, cl.Slug, string(cl.Status), cl.Plan,
			fmt.Sprintf("%s / %s", strconv.FormatInt(cl.TokensUsedThisMonth, 10), strconv.FormatInt(cl.MonthlyTokenBudget, 10)),
		})
	}
	return renderTable(cmd.OutOrStdout(), []string{"", "Name", "Slug", "Status", "Plan", "Tokens used"}, rows)
}

func (c *cli) runClientsUse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenants := c.app.Tenants()
	if c.fixedClient() {
		return ErrFixedClient
	}

	var (
		client domain.Client
		err    error
	)
	if len(args) == 1 {
		client, err = c.resolveClient(ctx, args[0])
	} else {
		var list []domain.Client
		if list, err = c.fetchClients(ctx); err != nil {
			return err
		}
		current, _ := tenants.Current()
		client, err = c.env.Prompter.SelectClient(ctx, list, current.Slug)
	}
	if err != nil {
		return err
	}

	if err := tenants.SetCurrentClient(ctx, client); err != nil {
		return err
	}
	notify.Success(c.notifier, fmt.Sprintf("Switched to client %s.", client.Name))
	return nil
}

func (c *cli) runClientsCurrent(cmd *cobra.Command, _ []string) error {
	client, err := c.app.Tenants().Current()
	if errors.Is(err, tenant.ErrNoClient) {
		notify.Info(c.notifier, "No client selected. Run `opsdash clients use` to pick one.")
		return nil
	}
	if err != nil {
		return err
	}
	return renderFields(cmd.OutOrStdout(),
		field{"Name", client.Name},
		field{"Slug", client.Slug},
		field{"ID", client.ID.String()},
		field{"Status", string(client.Status)},
		field{"Plan", client.Plan},
	)
}

func (c *cli) runClientsUsage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var (
		client domain.Client
		err    error
	)
	if len(args) == 1 {
		client, err = c.resolveClient(ctx, args[0])
	} else {
		client, err = c.app.Tenants().Current()
		if errors.Is(err, tenant.ErrNoClient) {
			return errors.New("no client selected: name one or run `opsdash clients use`")
		}
	}
	if err != nil {
		return err
	}

	usage, err := c.app.API().GetClientUsage(ctx, client.ID)
	if err != nil {
		return c.settleAPI(err)
	}
	return renderFields(cmd.OutOrStdout(),
		field{"Client", fmt.Sprintf("%s (%s)", client.Name, client.Slug)},
		field{"Budget", strconv.FormatInt(usage.MonthlyTokenBudget, 10)},
		field{"Used", strconv.FormatInt(usage.TokensUsedThisMonth, 10)},
		field{"Remaining", strconv.FormatInt(usage.TokensRemaining, 10)},
		field{"Usage", fmt.Sprintf("%.1f%%", usage.UsagePercent)},
	)
}
