package parklinesdk

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

// Client is a minimal Parkline HTTP API client.
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

// Ticket identifies an active parking session.
type Ticket struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicle_id"`
	LevelID   int    `json:"level_id"`
	SpotID    string `json:"spot_id"`
	Category  string `json:"category"`
	EntryTime string `json:"entry_time"`
}

// Receipt is the final bill for a closed session.
type Receipt struct {
	TicketID        string  `json:"ticket_id"`
	VehicleID       string  `json:"vehicle_id"`
	SpotID          string  `json:"spot_id"`
	Category        string  `json:"category"`
	EntryTime       string  `json:"entry_time"`
	ExitTime        string  `json:"exit_time"`
	DurationSeconds int64   `json:"duration_seconds"`
	AmountDue       float64 `json:"amount_due"`
}

// LevelOccupancy reports one level's spot usage.
type LevelOccupancy struct {
	LevelID    int                      `json:"level_id"`
	Total      int                      `json:"total"`
	Occupied   int                      `json:"occupied"`
	ByCategory map[string]CategoryCount `json:"by_category"`
}

type CategoryCount struct {
	Total    int `json:"total"`
	Occupied int `json:"occupied"`
}

// Session is one history row, active or closed.
type Session struct {
	TicketID        string   `json:"ticket_id"`
	VehicleID       string   `json:"vehicle_id"`
	Category        string   `json:"category"`
	LevelID         int      `json:"level_id"`
	SpotID          string   `json:"spot_id"`
	EntryTime       string   `json:"entry_time"`
	ExitTime        *string  `json:"exit_time,omitempty"`
	DurationSeconds *int64   `json:"duration_seconds,omitempty"`
	AmountDue       *float64 `json:"amount_due,omitempty"`
	Status          string   `json:"status"`
}

// Event is one log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	OperatorID string         `json:"operator_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Enter admits a vehicle and returns its ticket.
func (c *Client) Enter(ctx context.Context, vehicleID, vehicleType string) (Ticket, error) {
	body := map[string]any{
		"vehicle_id":   vehicleID,
		"vehicle_type": vehicleType,
	}
	var resp Ticket
	err := c.do(ctx, http.MethodPost, "v0/entries", body, &resp)
	return resp, err
}

// Exit closes a session and returns the receipt.
func (c *Client) Exit(ctx context.Context, ticketID string) (Receipt, error) {
	body := map[string]any{"ticket_id": ticketID}
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "v0/exits", body, &resp)
	return resp, err
}

// Occupancy returns the per-level occupancy snapshot.
func (c *Client) Occupancy(ctx context.Context) ([]LevelOccupancy, error) {
	var resp []LevelOccupancy
	err := c.do(ctx, http.MethodGet, "v0/occupancy", nil, &resp)
	return resp, err
}

// Sessions lists session history, optionally filtered by status.
func (c *Client) Sessions(ctx context.Context, status string) ([]Session, error) {
	endpoint := "v0/sessions"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Session
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Session fetches one session by ticket id.
func (c *Client) Session(ctx context.Context, ticketID string) (Session, error) {
	var resp Session
	endpoint := fmt.Sprintf("v0/sessions/%s", url.PathEscape(ticketID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, n int) ([]Event, error) {
	endpoint := "v0/events"
	if n > 0 {
		endpoint = fmt.Sprintf("%s?n=%d", endpoint, n)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
