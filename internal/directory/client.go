package directory

import (
	"context"
	"fmt"
	"time"

	"cloud-chargeback/pkg/platform"
)

// APILoader lists directory objects from the cloud management API.
// Pagination and auth mechanics live in the platform client; this type
// only knows the listing endpoints and their response shapes.
type APILoader struct {
	BaseURL string
	Client  *platform.HTTPClient
	Headers map[string]string
}

func NewAPILoader(baseURL, apiKey, apiSecret string, client *platform.HTTPClient) *APILoader {
	return &APILoader{
		BaseURL: baseURL,
		Client:  client,
		Headers: map[string]string{
			"Authorization": "Basic " + platform.BasicCredential(apiKey, apiSecret),
		},
	}
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func list[T any](ctx context.Context, l *APILoader, path string) ([]T, error) {
	var resp listResponse[T]
	if err := l.Client.GetJSON(ctx, l.BaseURL+path, l.Headers, &resp); err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	return resp.Data, nil
}

func (l *APILoader) Load(ctx context.Context) (Contents, error) {
	var c Contents
	var err error

	if c.Environments, err = list[Environment](ctx, l, "/environments"); err != nil {
		return c, err
	}
	if c.Clusters, err = list[Cluster](ctx, l, "/clusters"); err != nil {
		return c, err
	}

	serviceAccounts, err := list[Principal](ctx, l, "/service-accounts")
	if err != nil {
		return c, err
	}
	users, err := list[Principal](ctx, l, "/users")
	if err != nil {
		return c, err
	}
	for i := range serviceAccounts {
		serviceAccounts[i].Kind = KindServiceAccount
	}
	for i := range users {
		users[i].Kind = KindUser
	}
	c.Principals = append(serviceAccounts, users...)

	if c.APIKeys, err = list[APIKey](ctx, l, "/api-keys"); err != nil {
		return c, err
	}
	if c.Connectors, err = list[Connector](ctx, l, "/connectors"); err != nil {
		return c, err
	}
	if c.StreamClusters, err = list[StreamCluster](ctx, l, "/stream-clusters"); err != nil {
		return c, err
	}

	c.FetchedAt = time.Now().UTC()
	return c, nil
}
