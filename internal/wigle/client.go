// Package wigle queries the WiGLE wardriving database to geolocate the
// networks a suspicious device has been probing for. Knowing where a
// probed SSID lives reveals where the device's owner has been.
package wigle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public WiGLE API endpoint.
const DefaultBaseURL = "https://api.wigle.net"

// Client is a rate-limited WiGLE API client. WiGLE enforces strict daily
// query quotas, so the limiter defaults to a conservative pace.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// Options configure a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
}

// NewClient creates a Client authenticating with the given API token
// (the "Encoded for use" token from a WiGLE account page).
func NewClient(token string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 10
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1),
	}
}

// SearchOptions narrow a network search to a bounding box.
type SearchOptions struct {
	LatRange1, LatRange2   float64
	LongRange1, LongRange2 float64
}

// SearchResponse is the WiGLE network search result envelope.
type SearchResponse struct {
	Success      bool            `json:"success"`
	TotalResults int             `json:"totalResults"`
	Results      []NetworkResult `json:"results"`
}

// NetworkResult is one observed network.
type NetworkResult struct {
	NetID       string  `json:"netid"`
	SSID        string  `json:"ssid"`
	Latitude    float64 `json:"trilat"`
	Longitude   float64 `json:"trilong"`
	LastUpdated string  `json:"lastupdt"`
	Country     string  `json:"country"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
}

// SearchNetwork looks up where a network with the given SSID has been
// observed. The call blocks on the rate limiter, so a canceled context
// aborts both the wait and the request. opts may be nil.
func (c *Client) SearchNetwork(ctx context.Context, ssid string, opts *SearchOptions) (*SearchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{}
	q.Set("ssid", ssid)
	if opts != nil {
		q.Set("latrange1", strconv.FormatFloat(opts.LatRange1, 'f', -1, 64))
		q.Set("latrange2", strconv.FormatFloat(opts.LatRange2, 'f', -1, 64))
		q.Set("longrange1", strconv.FormatFloat(opts.LongRange1, 'f', -1, 64))
		q.Set("longrange2", strconv.FormatFloat(opts.LongRange2, 'f', -1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v2/network/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search network %q: %w", ssid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("wigle rejected credentials (status %d)", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("wigle query quota exhausted (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("wigle returned status %d: %s", resp.StatusCode, body)
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &out, nil
}
