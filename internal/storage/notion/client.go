// Package notion implements the hosted-API content writer on top of Notion
// databases. Notion has no native upsert, so records are matched by their
// Link property before being created or updated.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Notion API root.
const DefaultBaseURL = "https://api.notion.com/v1"

// DefaultVersion is the Notion-Version header sent with each request.
const DefaultVersion = "2022-06-28"

// Properties is a Notion page property payload.
type Properties map[string]any

// API is the subset of the Notion REST API the writer needs.
// Implementations need not be safe for concurrent use.
type API interface {
	QueryByLink(ctx context.Context, databaseID, link string) (pageID string, found bool, err error)
	CreatePage(ctx context.Context, databaseID string, props Properties) (string, error)
	UpdatePage(ctx context.Context, pageID string, props Properties) error
}

// APIError is a non-2xx response from the Notion API.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion api %d %s: %s", e.Status, e.Code, e.Message)
}

// ClientConfig configures HTTPClient.
type ClientConfig struct {
	Token   string
	BaseURL string
	Version string
	Timeout time.Duration
}

// HTTPClient talks to the Notion REST API.
type HTTPClient struct {
	cfg  ClientConfig
	http *http.Client
}

var _ API = (*HTTPClient)(nil)

// NewHTTPClient builds an HTTPClient, applying defaults for empty fields.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("notion token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// QueryByLink returns the first page in databaseID whose Link equals link.
func (c *HTTPClient) QueryByLink(ctx context.Context, databaseID, link string) (string, bool, error) {
	body := map[string]any{
		"filter":    map[string]any{"property": "Link", "url": map[string]any{"equals": link}},
		"page_size": 1,
	}
	var out struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", body, &out); err != nil {
		return "", false, fmt.Errorf("query notion database: %w", err)
	}
	if len(out.Results) == 0 {
		return "", false, nil
	}
	return out.Results[0].ID, true, nil
}

// CreatePage creates a page under databaseID and returns its id.
func (c *HTTPClient) CreatePage(ctx context.Context, databaseID string, props Properties) (string, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": props,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/pages", body, &out); err != nil {
		return "", fmt.Errorf("create notion page: %w", err)
	}
	return out.ID, nil
}

// UpdatePage overwrites the given properties on pageID.
func (c *HTTPClient) UpdatePage(ctx context.Context, pageID string, props Properties) error {
	body := map[string]any{"properties": props}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, body, nil); err != nil {
		return fmt.Errorf("update notion page: %w", err)
	}
	return nil
}

// CloseIdleConnections releases pooled connections.
func (c *HTTPClient) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Notion-Version", c.cfg.Version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
