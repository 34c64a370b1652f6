package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the USOP API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL: strings.TrimRight(trimmed, "/"),
		// Helm installs can run for minutes before the API answers.
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status   int
	Message  string
	ExitCode *int
	Stderr   string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, resp.Body)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, body io.Reader) error {
	apiErr := APIError{Status: status}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error    string `json:"error"`
		ExitCode *int   `json:"exit_code"`
		Stderr   string `json:"stderr"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.ExitCode = payload.ExitCode
	apiErr.Stderr = payload.Stderr
	return apiErr
}

// Service reflects API service payloads.
type Service struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Release   string         `json:"release"`
	Status    string         `json:"status"`
	Blocked   bool           `json:"blocked"`
	Region    string         `json:"region,omitempty"`
	Org       string         `json:"org,omitempty"`
	Namespace string         `json:"namespace"`
	Chart     string         `json:"chart"`
	Version   string         `json:"version,omitempty"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CreateServiceInput describes a new service.
type CreateServiceInput struct {
	ID              string         `json:"id,omitempty"`
	Name            string         `json:"name"`
	Region          string         `json:"region,omitempty"`
	RegionNamespace string         `json:"region_namespace,omitempty"`
	Org             string         `json:"org,omitempty"`
	OrgNamespace    string         `json:"org_namespace,omitempty"`
	Template        string         `json:"template,omitempty"`
	Chart           string         `json:"chart"`
	Version         string         `json:"version,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
	Blocked         bool           `json:"blocked,omitempty"`
}

// TransitionEntry is one committed transition.
type TransitionEntry struct {
	Transition string    `json:"transition"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	At         time.Time `json:"at"`
}

// Transitions lists what may fire next and what already fired.
type Transitions struct {
	Available []string          `json:"available"`
	History   []TransitionEntry `json:"history"`
}

// Pod summarises one pod of a release.
type Pod struct {
	Name      string    `json:"name"`
	Phase     string    `json:"phase"`
	Ready     bool      `json:"ready"`
	Restarts  int32     `json:"restarts"`
	Node      string    `json:"node,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// ListServices returns services known to the API.
func (c *Client) ListServices(ctx context.Context, limit int) ([]Service, error) {
	path := "/services"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Services []Service `json:"services"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// GetService fetches one service.
func (c *Client) GetService(ctx context.Context, id string) (Service, error) {
	var svc Service
	err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id), nil, &svc)
	return svc, err
}

// CreateService registers a new service in NEW.
func (c *Client) CreateService(ctx context.Context, input CreateServiceInput) (Service, error) {
	var svc Service
	err := c.do(ctx, http.MethodPost, "/services", input, &svc)
	return svc, err
}

// Status returns the committed status of a service.
func (c *Client) Status(ctx context.Context, id string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id)+"/status", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Fire runs a lifecycle transition and returns the service as committed.
func (c *Client) Fire(ctx context.Context, id, transition string) (Service, error) {
	var svc Service
	path := "/services/" + url.PathEscape(id) + "/" + url.PathEscape(transition)
	err := c.do(ctx, http.MethodPost, path, nil, &svc)
	return svc, err
}

// Transitions returns available transitions and recent history.
func (c *Client) Transitions(ctx context.Context, id string, limit int) (Transitions, error) {
	path := "/services/" + url.PathEscape(id) + "/transitions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp Transitions
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// Resources lists the pods of a service's release.
func (c *Client) Resources(ctx context.Context, id string) ([]Pod, error) {
	var resp struct {
		Pods []Pod `json:"pods"`
	}
	if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id)+"/resources", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pods, nil
}

// Backups lists stored backup keys of a service.
func (c *Client) Backups(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Backups []string `json:"backups"`
	}
	if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(id)+"/backups", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Backups, nil
}
