// Package geoip resolves a caller IP to a coarse location via
// ipgeolocation.io. Loopback and private addresses are substituted
// with a public resolver address so local runs still produce usable
// context.
package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const fallbackIP = "8.8.8.8"

type Config struct {
	APIKey  string        `split_words:"true" required:"true"`
	BaseURL string        `split_words:"true" default:"https://api.ipgeolocation.io"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("geoip api key is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.ipgeolocation.io"
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// Location is the curated field set handed to the model; the raw
// provider response carries far more than a prompt should.
type Location struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
	ZipCode  string `json:"zipCode,omitempty"`
	Currency string `json:"currency,omitempty"`
}

func (c *Client) Lookup(ctx context.Context, callerIP string) (*Location, error) {
	ip := normalizeIP(callerIP)

	endpoint := fmt.Sprintf("%s/ipgeo?apiKey=%s&ip=%s", c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geoip: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geoip: lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("geoip: lookup %s: status %d: %s", ip, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var body struct {
		CountryName string `json:"country_name"`
		StateProv   string `json:"state_prov"`
		District    string `json:"district"`
		City        string `json:"city"`
		ZipCode     string `json:"zipcode"`
		Currency    struct {
			Code string `json:"code"`
		} `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geoip: decode response: %w", err)
	}
	return &Location{
		Country:  body.CountryName,
		Region:   body.StateProv,
		District: body.District,
		City:     body.City,
		ZipCode:  body.ZipCode,
		Currency: body.Currency.Code,
	}, nil
}

// normalizeIP swaps loopback, private, and unparseable addresses for
// the public fallback; the provider rejects non-routable IPs.
func normalizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(raw)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return fallbackIP
	}
	return raw
}
