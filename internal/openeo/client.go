// Package openeo is a minimal openEO API client: backend discovery, session
// check and synchronous result download.
package openeo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/observability"
)

const upstream = "openeo"

// Credentials yields OIDC access tokens. Invalidate drops a token the
// backend rejected so the next call fetches a fresh one.
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

type Capabilities struct {
	APIVersion     string `json:"api_version"`
	BackendVersion string `json:"backend_version"`
	Title          string `json:"title"`
}

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	provider string
	creds    Credentials
	ready    atomic.Bool
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, baseURL, provider string, creds Credentials) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse openeo url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("openeo url %q must be absolute", baseURL)
	}
	if creds == nil {
		return nil, errors.New("openeo credentials are required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:   logger,
		client:   client,
		base:     u,
		provider: provider,
		creds:    creds,
		startNow: time.Now,
	}, nil
}

// Connect checks the backend capabilities and the authenticated session.
// It is called once at startup; the client is reused by every request.
func (c *Client) Connect(ctx context.Context) error {
	var caps Capabilities
	if err := c.getJSON(ctx, "/", false, "capabilities", &caps); err != nil {
		return err
	}
	var me struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
	}
	if err := c.getJSON(ctx, "/me", true, "me", &me); err != nil {
		return err
	}
	c.ready.Store(true)
	c.logger.InfoContext(ctx, "openeo connected",
		"backend", c.base.String(),
		"title", caps.Title,
		"api_version", caps.APIVersion,
		"backend_version", caps.BackendVersion,
		"user_id", me.UserID)
	return nil
}

func (c *Client) Ready() (bool, string) {
	return c.ready.Load(), c.base.String()
}

// Download executes the graph synchronously and streams the result into dst.
func (c *Client) Download(ctx context.Context, g ProcessGraph, dst io.Writer) (int64, error) {
	body, err := json.Marshal(map[string]any{
		"process": map[string]any{"process_graph": g},
	})
	if err != nil {
		return 0, apperr.Fetch(fmt.Errorf("encode process graph: %w", err))
	}

	resp, err := c.do(ctx, http.MethodPost, "/result", bytes.NewReader(body), true, "result")
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return n, apperr.Fetch(fmt.Errorf("read result body after %d bytes: %w", n, err))
	}
	c.logger.DebugContext(ctx, "openeo result downloaded",
		"bytes", n,
		"content_type", resp.Header.Get("Content-Type"))
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, path string, auth bool, op string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, auth, op)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return apperr.Fetch(fmt.Errorf("decode %s response: %w", op, err))
	}
	return nil
}

// do returns a 2xx response or a classified error.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, auth bool, op string) (*http.Response, error) {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, apperr.Fetch(fmt.Errorf("build %s request: %w", op, err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		tok, err := c.creds.AccessToken(ctx)
		if err != nil {
			return nil, apperr.Auth(fmt.Errorf("obtain access token: %w", err))
		}
		req.Header.Set("Authorization", "Bearer oidc/"+c.provider+"/"+tok)
	}

	start := c.startNow()
	resp, err := c.client.Do(req)
	observability.ObserveUpstreamLatency(upstream, op, time.Since(start).Seconds())
	if err != nil {
		return nil, apperr.Fetch(fmt.Errorf("%s %s: %w", method, u.Path, err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()

	be := readBackendError(resp)
	switch {
	case be.IsAuth():
		if auth {
			c.creds.Invalidate(ctx)
		}
		return nil, apperr.Auth(be)
	case be.IsNoData():
		return nil, apperr.NoData(be)
	default:
		return nil, apperr.Fetch(be)
	}
}
