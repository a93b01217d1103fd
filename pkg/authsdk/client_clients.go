package authsdk

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// ListClients returns every tenant the caller may see, in server order.
func (c *SDKClient) ListClients(ctx context.Context) ([]Client, error) {
	var out []Client
	if err := c.call(ctx, "ListClients", http.MethodGet, "/clients", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SDKClient) GetClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	var out Client
	if err := c.call(ctx, "GetClient", http.MethodGet, "/clients/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) GetClientBySlug(ctx context.Context, slug string) (*Client, error) {
	var out Client
	if err := c.call(ctx, "GetClientBySlug", http.MethodGet, "/clients/slug/"+url.PathEscape(slug), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) GetClientUsage(ctx context.Context, id uuid.UUID) (*ClientUsage, error) {
	var out ClientUsage
	if err := c.call(ctx, "GetClientUsage", http.MethodGet, "/clients/"+id.String()+"/usage", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
