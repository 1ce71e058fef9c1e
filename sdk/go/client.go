package desklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Deskline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// OperationInfo describes a registered operation.
type OperationInfo struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	TenantAware   bool   `json:"tenant_aware"`
	RequireTenant bool   `json:"require_tenant"`
}

// Rule is one validation rule attached to a field.
type Rule struct {
	Validator string `json:"validator"`
	Level     string `json:"level"`
}

// Field is a configured field with its rules.
type Field struct {
	ID     string         `json:"id"`
	Label  string         `json:"label,omitempty"`
	Type   string         `json:"type,omitempty"`
	Rules  []Rule         `json:"rules"`
	Params map[string]any `json:"params,omitempty"`
}

// Result is the outcome of one validator run.
type Result struct {
	Status   string   `json:"status"`
	Summary  string   `json:"summary,omitempty"`
	Evidence string   `json:"evidence,omitempty"`
	Links    []string `json:"links,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// ValidationRun is the response of a field validation run: one result per
// rule in rule order, plus the aggregate status.
type ValidationRun struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Operations lists the registered operations.
func (c *Client) Operations(ctx context.Context) ([]OperationInfo, error) {
	var resp struct {
		Items []OperationInfo `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/ops", nil, &resp)
	return resp.Items, err
}

// Dispatch invokes an operation by id with the given input and decodes the
// response into out (pass nil to discard).
func (c *Client) Dispatch(ctx context.Context, opID string, input, out any) error {
	endpoint := fmt.Sprintf("v0/ops/%s", url.PathEscape(opID))
	if input == nil {
		input = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, endpoint, input, out)
}

// Count dispatches a counting query (count.users, count.tickets, ...).
func (c *Client) Count(ctx context.Context, opID string, input any) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	err := c.Dispatch(ctx, opID, input, &resp)
	return resp.Count, err
}

// Fields lists the configured fields and their rules.
func (c *Client) Fields(ctx context.Context) ([]Field, error) {
	var resp struct {
		Items []Field `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/fields", nil, &resp)
	return resp.Items, err
}

// RunValidation runs every rule of a field against value. ticketID is
// optional and only feeds the audit trail.
func (c *Client) RunValidation(ctx context.Context, fieldID string, value any, ticketID string) (ValidationRun, error) {
	body := map[string]any{
		"field_id": fieldID,
		"value":    value,
	}
	if ticketID != "" {
		body["ticket_id"] = ticketID
	}
	var resp ValidationRun
	err := c.do(ctx, http.MethodPost, "v0/validations/run", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
