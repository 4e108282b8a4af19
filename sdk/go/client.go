package leadlinesdk

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

// Client is a minimal Leadline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Lead represents the API lead model.
type Lead struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Phone              string  `json:"phone,omitempty"`
	Email              string  `json:"email,omitempty"`
	Course             string  `json:"course,omitempty"`
	Source             string  `json:"source,omitempty"`
	Status             string  `json:"status"`
	CurrentOwnerID     *string `json:"current_owner_id,omitempty"`
	CreatedByID        string  `json:"created_by_id"`
	RegistrationAmount int64   `json:"registration_amount"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// HistoryEntry is one audit record of a status change.
type HistoryEntry struct {
	ID              int64   `json:"id"`
	LeadID          string  `json:"lead_id"`
	PreviousStatus  string  `json:"previous_status"`
	NewStatus       string  `json:"new_status"`
	ChangedByUserID string  `json:"changed_by_user_id"`
	FromUserID      *string `json:"from_user_id,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	ChangedAt       string  `json:"changed_at"`
}

// TransitionResult pairs the updated lead with its audit entry.
type TransitionResult struct {
	Lead  Lead         `json:"lead"`
	Entry HistoryEntry `json:"entry"`
}

// User represents the API user model.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	SubRole string `json:"sub_role,omitempty"`
	TeamID  string `json:"team_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedLeads wraps list responses with cursors.
type PaginatedLeads struct {
	Items      []Lead `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateLead creates a lead.
func (c *Client) CreateLead(ctx context.Context, name string, fields map[string]any) (Lead, error) {
	body := map[string]any{"name": name}
	for k, v := range fields {
		body[k] = v
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, "v0/leads", body, &resp)
	return resp, err
}

// GetLead fetches a lead by id.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, "v0/leads/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Leads returns a paginated lead listing.
func (c *Client) Leads(ctx context.Context, limit int, cursor string) (PaginatedLeads, error) {
	endpoint := "v0/leads"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedLeads
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ClaimableLeads lists unowned accounts-stage leads.
func (c *Client) ClaimableLeads(ctx context.Context) ([]Lead, error) {
	var resp []Lead
	err := c.do(ctx, http.MethodGet, "v0/leads/claimable", nil, &resp)
	return resp, err
}

// Transition moves a lead to a new status.
func (c *Client) Transition(ctx context.Context, leadID, status, reason string) (TransitionResult, error) {
	body := map[string]any{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("v0/leads/%s/transition", url.PathEscape(leadID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Claim claims an unowned lead, optionally naming the target status.
func (c *Client) Claim(ctx context.Context, leadID, status string) (TransitionResult, error) {
	body := map[string]any{}
	if status != "" {
		body["status"] = status
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("v0/leads/%s/claim", url.PathEscape(leadID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Reassign changes a lead's owner (manager only). An empty ownerID clears it.
func (c *Client) Reassign(ctx context.Context, leadID, ownerID, reason string) (TransitionResult, error) {
	body := map[string]any{"owner_id": ownerID}
	if reason != "" {
		body["reason"] = reason
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("v0/leads/%s/reassign", url.PathEscape(leadID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// History returns a lead's audit trail, oldest first.
func (c *Client) History(ctx context.Context, leadID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("v0/leads/%s/history", url.PathEscape(leadID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Me returns the acting user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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
