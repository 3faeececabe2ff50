package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collabsync/internal/models"
)

const backlogRequestTimeout = 10 * time.Second

// BacklogClient fetches collaboration events recorded server-side after a
// watermark. It is the source of truth consulted during reconnect resync.
type BacklogClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBacklogClient configures a client for the backlog API at baseURL.
func NewBacklogClient(baseURL, apiKey string) *BacklogClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &BacklogClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Transport: transport, Timeout: backlogRequestTimeout},
	}
}

type backlogResponse struct {
	Events      []models.CollaborationEvent `json:"events"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// EventsSince returns events that occurred at or after since, oldest first.
func (c *BacklogClient) EventsSince(ctx context.Context, since time.Time) ([]models.CollaborationEvent, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("backlog base url is empty")
	}

	endpoint := fmt.Sprintf("%s/api/events?since=%s", c.baseURL,
		url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))

	resp := backlogResponse{}
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("backlog fetch failed: %w", err)
	}
	return resp.Events, nil
}

func (c *BacklogClient) getJSON(ctx context.Context, endpoint string, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, backlogRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
