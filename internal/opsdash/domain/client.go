package domain

import (
	"fmt"

	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/google/uuid"
)

type ClientStatus string

const (
	ClientActive     ClientStatus = "active"
	ClientPaused     ClientStatus = "paused"
	ClientOnboarding ClientStatus = "onboarding"
	ClientChurned    ClientStatus = "churned"
)

func ParseClientStatus(s string) (ClientStatus, error) {
	switch st := ClientStatus(s); st {
	case ClientActive, ClientPaused, ClientOnboarding, ClientChurned:
		return st, nil
	default:
		return "", fmt.Errorf("unknown client status %q", s)
	}
}

// Client is a tenant.
type Client struct {
	ID                  uuid.UUID    `json:"id"`
	Name                string       `json:"name"`
	Slug                string       `json:"slug"`
	Status              ClientStatus `json:"status"`
	Plan                string       `json:"plan,omitempty"`
	MonthlyTokenBudget  int64        `json:"monthlyTokenBudget"`
	TokensUsedThisMonth int64        `json:"tokensUsedThisMonth"`
}

// TokensRemaining never goes below zero.
func (c Client) TokensRemaining() int64 {
	return max(c.MonthlyTokenBudget-c.TokensUsedThisMonth, 0)
}

func ClientFromAPI(c authsdk.Client) (Client, error) {
	status, err := ParseClientStatus(c.Status)
	if err != nil {
		return Client{}, fmt.Errorf("client %s: %w", c.ID, err)
	}
	return Client{
		ID:                  c.ID,
		Name:                c.Name,
		Slug:                c.Slug,
		Status:              status,
		Plan:                c.Plan,
		MonthlyTokenBudget:  c.MonthlyTokenBudget,
		TokensUsedThisMonth: c.TokensUsedThisMonth,
	}, nil
}

// TenantContext is which tenant is active and which ones may be switched to.
type TenantContext struct {
	CurrentClient    *Client  `json:"currentClient,omitempty"`
	AvailableClients []Client `json:"-"`
}

// CurrentClientID returns uuid.Nil when no tenant is selected.
func (t TenantContext) CurrentClientID() uuid.UUID {
	if t.CurrentClient == nil {
		return uuid.Nil
	}
	return t.CurrentClient.ID
}
