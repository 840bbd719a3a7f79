// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub is the client for the remote identity service's REST API.
//
// All list endpoints are paginated with $skip/$top query parameters and
// return a total alongside the items. Token acquisition rides the hub's
// OAuth2 endpoint: client_credentials for the service itself, the password
// grant for end-user credential checks. The service id/secret pair is the
// OAuth2 client identity on both flows.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned for per-id lookups when the hub reports 404.
var ErrNotFound = errors.New("not found in hub")

// DefaultScope is the hub's global project scope, accepted by every
// installation for token requests.
const DefaultScope = "0-0-0-0-0"

// Client is the read surface of the hub consumed by the reconciliation
// engine and the authentication bridge.
type Client interface {
	// ServiceLogin exchanges the service credential pair for a bearer token.
	ServiceLogin(ctx context.Context) (string, error)

	// CheckCredentials verifies an end-user login/password against the hub.
	// A nil error means the hub accepted the credentials.
	CheckCredentials(ctx context.Context, username, password string) error

	ListGroups(ctx context.Context, token string, skip, top int) (*GroupsPage, error)
	ListUsers(ctx context.Context, token string, skip, top int) (*UsersPage, error)
	ListSSHKeys(ctx context.Context, token, userID string, skip, top int) (*SSHKeysPage, error)

	// GetUser and GetGroup return ErrNotFound when the id no longer exists.
	GetUser(ctx context.Context, token, id string) (*User, error)
	GetGroup(ctx context.Context, token, id string) (*Group, error)
}

// Config configures the HTTP client.
type Config struct {
	// BaseURL is the hub root, e.g. https://hub.example.com. The REST
	// prefix (/api/rest) is appended here.
	BaseURL string

	// Service credential pair, distinct from any end-user credential.
	ServiceID     string
	ServiceSecret string

	// Scope requested on token grants. Defaults to DefaultScope.
	Scope string

	// Per-call timeout. Defaults to 10s.
	Timeout time.Duration

	// RequestsPerSecond caps the call rate against the hub. Defaults to 10.
	RequestsPerSecond float64
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	restBase string
	tokenURL string
	scope    string
	config   Config

	http    *http.Client
	limiter *rate.Limiter
}

// NewClient validates cfg and returns a ready client. No connection is
// attempted; the first use reports reachability problems.
func NewClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("hub base URL is required")
	}
	if cfg.ServiceID == "" || cfg.ServiceSecret == "" {
		return nil, errors.New("hub service credentials are required")
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}

	base := strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPClient{
		restBase: base + "/api/rest/",
		tokenURL: base + "/api/rest/oauth2/token",
		scope:    cfg.Scope,
		config:   cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

func (c *HTTPClient) ServiceLogin(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	conf := clientcredentials.Config{
		ClientID:     c.config.ServiceID,
		ClientSecret: c.config.ServiceSecret,
		TokenURL:     c.tokenURL,
		Scopes:       []string{c.scope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tok, err := conf.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return "", fmt.Errorf("service login: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *HTTPClient) CheckCredentials(ctx context.Context, username, password string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	conf := oauth2.Config{
		ClientID:     c.config.ServiceID,
		ClientSecret: c.config.ServiceSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		Scopes: []string{c.scope},
	}

	_, err := conf.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, c.http), username, password)
	if err != nil {
		return fmt.Errorf("credential check: %w", err)
	}
	return nil
}

func (c *HTTPClient) ListGroups(ctx context.Context, token string, skip, top int) (*GroupsPage, error) {
	var page GroupsPage
	if err := c.get(ctx, token, "usergroups", pageQuery(skip, top), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) ListUsers(ctx context.Context, token string, skip, top int) (*UsersPage, error) {
	var page UsersPage
	if err := c.get(ctx, token, "users", pageQuery(skip, top), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) ListSSHKeys(ctx context.Context, token, userID string, skip, top int) (*SSHKeysPage, error) {
	var page SSHKeysPage
	path := "users/" + url.PathEscape(userID) + "/sshpublickeys"
	if err := c.get(ctx, token, path, pageQuery(skip, top), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) GetUser(ctx context.Context, token, id string) (*User, error) {
	var user User
	if err := c.get(ctx, token, "users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) GetGroup(ctx context.Context, token, id string) (*Group, error) {
	var group Group
	if err := c.get(ctx, token, "usergroups/"+url.PathEscape(id), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// get performs a bearer-authenticated GET against the REST API and decodes
// the JSON response into out.
func (c *HTTPClient) get(ctx context.Context, token, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	endpoint := c.restBase + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("hub GET %s: unexpected status %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hub GET %s: decode response: %w", path, err)
	}
	return nil
}

func pageQuery(skip, top int) url.Values {
	return url.Values{
		"$skip": {strconv.Itoa(skip)},
		"$top":  {strconv.Itoa(top)},
	}
}
