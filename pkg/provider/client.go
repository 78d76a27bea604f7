package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/provisio/provisio/pkg/engine"
)

// DefaultTimeout bounds a single HTTP exchange when the config does not
// override it. Retries happen above this layer, so one attempt should
// fail fast rather than linger.
const DefaultTimeout = 15 * time.Second

// Config holds the connection settings for the provisioning API.
type Config struct {
	// BaseURL is the root of the API, e.g. "https://provision.internal".
	BaseURL string

	// Token is sent as a bearer credential on every request. Optional.
	Token string

	// Timeout bounds each individual HTTP exchange.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the provisioning API and implements engine.Provisioner.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient validates the config and returns a ready client.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider: base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("provider: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("provider: base URL %q must use http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    hc,
		logger:  logger.With().Str("component", "provider").Logger(),
	}, nil
}

// collectionPath maps a resource kind to its API collection.
func collectionPath(kind engine.ResourceKind) (string, error) {
	switch kind {
	case engine.KindWorkspace:
		return "/v1/workspaces", nil
	case engine.KindContainer:
		return "/v1/containers", nil
	case engine.KindRoleBinding:
		return "/v1/role-bindings", nil
	default:
		return "", fmt.Errorf("provider: unknown resource kind %q", kind)
	}
}

type createRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

type createResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Provision creates the resource described by the step and returns the
// confirmed resource identity from the API.
func (c *Client) Provision(ctx context.Context, step engine.Step) (engine.Resource, error) {
	path, err := collectionPath(step.Kind)
	if err != nil {
		return engine.Resource{}, engine.NewPermanent(err.Error(), nil)
	}

	op := "provision " + string(step.Kind)
	var created createResponse
	err = c.do(ctx, http.MethodPost, path, createRequest{Name: step.Name, Params: step.Params}, &created, op)
	if err != nil {
		return engine.Resource{}, err
	}
	if created.ID == "" {
		return engine.Resource{}, engine.NewPermanent(op+": API response missing resource id", nil)
	}

	name := created.Name
	if name == "" {
		name = step.Name
	}
	c.logger.Debug().
		Str("kind", string(step.Kind)).
		Str("id", created.ID).
		Str("name", name).
		Msg("resource provisioned")

	return engine.Resource{Kind: step.Kind, ID: created.ID, Name: name}, nil
}

// Destroy removes a previously provisioned resource. A 404 from the API is
// treated as success so rollback stays idempotent when a resource is
// already gone.
func (c *Client) Destroy(ctx context.Context, res engine.Resource) error {
	path, err := collectionPath(res.Kind)
	if err != nil {
		return engine.NewPermanent(err.Error(), nil)
	}

	op := "destroy " + string(res.Kind)
	err = c.do(ctx, http.MethodDelete, path+"/"+url.PathEscape(res.ID), nil, nil, op)
	if err != nil {
		var pe *engine.ProvisionError
		if errors.As(err, &pe) && pe.Code == "404" {
			c.logger.Debug().Str("resource", res.Label()).Msg("resource already absent")
			return nil
		}
		return err
	}

	c.logger.Debug().Str("resource", res.Label()).Msg("resource destroyed")
	return nil
}

// do runs one HTTP exchange and decodes the response into out when the
// call succeeds and out is non-nil. Status classification is delegated to
// classifyStatus so every call site shares the same taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any, op string) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return engine.NewPermanent(op+": encode request", err)
		}
		payload = bytes.NewReader(raw)
	}

	endpoint := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return engine.NewPermanent(op+": build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Transport-level failures (connection refused, timeouts, resets)
		// are worth retrying.
		return engine.NewTransient(op+": request failed", err).WithOp(op)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return engine.NewPermanent(op+": decode response", err)
		}
		return nil
	}

	return classifyStatus(resp, op)
}

// apiMessage pulls a human-readable error out of an API error body,
// falling back to the raw text.
func apiMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
