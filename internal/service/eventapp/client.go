package eventapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eventapp-telegram-bot/internal/common/errors"
	"eventapp-telegram-bot/internal/metrics"
)

// Event is one entry of the my-events listing.
type Event struct {
	ID       json.RawMessage `json:"id,omitempty"`
	Title    string          `json:"title"`
	Date     string          `json:"date"`
	Location string          `json:"location"`
}

// StartsAt parses Date, which the API sends as RFC3339 or a plain date.
func (e Event) StartsAt() (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, e.Date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type myEventsResponse struct {
	Events []Event `json:"events"`
}

// Client calls the EventApp REST API on behalf of linked users.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    metrics.Recorder
}

func NewClient(httpClient *http.Client, baseURL string, recorder metrics.Recorder) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		metrics:    recorder,
	}
}

// BaseURL is the configured API root, for diagnostics.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetMyEvents lists the events of the user the bearer token was issued for.
func (c *Client) GetMyEvents(ctx context.Context, bearer string) ([]Event, error) {
	const op = "get my events"
	var out myEventsResponse
	if err := c.get(ctx, op, "/api/events/my-events", bearer, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "health", "/health", "", nil)
}

func (c *Client) get(ctx context.Context, op, path, bearer string, out any) error {
	if c.baseURL == "" {
		return errors.NewUpstreamAPIError(op, 0, fmt.Errorf("EVENTAPP_API_URL is not set"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.NewUpstreamAPIError(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstreamRequest(0, time.Since(start))
		return errors.NewUpstreamAPIError(op, 0, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstreamRequest(resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.NewUpstreamAPIError(op, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewUpstreamAPIError(op, resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, upstreamMessage(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.NewUpstreamAPIError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// upstreamMessage extracts {"error": "..."} or {"message": "..."} from an error body.
func upstreamMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
