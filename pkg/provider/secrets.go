package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/provisio/provisio/pkg/engine"
)

// SecretsClient reads secrets from the provisioning API's secret store.
// It satisfies the secret cache's StoreClient interface.
type SecretsClient struct {
	client *Client
}

// Secrets returns the secret-store surface of the API.
func (c *Client) Secrets() *SecretsClient {
	return &SecretsClient{client: c}
}

type secretResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Fetch retrieves one secret by name.
func (s *SecretsClient) Fetch(ctx context.Context, name string) (string, error) {
	var secret secretResponse
	op := "fetch secret"
	err := s.client.do(ctx, http.MethodGet, "/v1/secrets/"+url.PathEscape(name), nil, &secret, op)
	if err != nil {
		return "", err
	}
	if secret.Value == "" {
		return "", engine.NewPermanent(op+": empty value for "+name, nil)
	}
	return secret.Value, nil
}
