// Package serper is a client for the Serper.dev Google-results API:
// web, image, and shopping search on google.serper.dev plus page
// scraping on scrape.serper.dev.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	APIKey    string        `split_words:"true" required:"true"`
	SearchURL string        `split_words:"true" default:"https://google.serper.dev"`
	ScrapeURL string        `split_words:"true" default:"https://scrape.serper.dev"`
	Timeout   time.Duration `split_words:"true" default:"20s"`
}

type Client struct {
	searchURL  string
	scrapeURL  string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("serper api key is required")
	}

	searchURL := strings.TrimSpace(cfg.SearchURL)
	if searchURL == "" {
		searchURL = "https://google.serper.dev"
	}
	if _, err := url.ParseRequestURI(searchURL); err != nil {
		return nil, err
	}

	scrapeURL := strings.TrimSpace(cfg.ScrapeURL)
	if scrapeURL == "" {
		scrapeURL = "https://scrape.serper.dev"
	}
	if _, err := url.ParseRequestURI(scrapeURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		searchURL: strings.TrimRight(searchURL, "/"),
		scrapeURL: strings.TrimRight(scrapeURL, "/"),
		apiKey:    apiKey,
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

// Organic is one web search result.
type Organic struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// Offer is one shopping result.
type Offer struct {
	Title     string  `json:"title"`
	Source    string  `json:"source"`
	Link      string  `json:"link"`
	Price     string  `json:"price"`
	PriceUSD  float64 `json:"-"`
	Rating    float64 `json:"rating"`
	Reviews   int     `json:"ratingCount"`
	ImageURL  string  `json:"imageUrl"`
	ProductID string  `json:"productId"`
}

// Image is one image search result.
type Image struct {
	Title  string `json:"title"`
	URL    string `json:"imageUrl"`
	Width  int    `json:"imageWidth"`
	Height int    `json:"imageHeight"`
	Source string `json:"link"`
}

// Page is a scraped web page.
type Page struct {
	Text     string `json:"text"`
	Markdown string `json:"markdown"`
}

func (c *Client) Search(ctx context.Context, query string, num int) ([]Organic, error) {
	if num <= 0 {
		num = 10
	}
	var out struct {
		Organic []Organic `json:"organic"`
	}
	if err := c.post(ctx, c.searchURL+"/search", map[string]any{"q": query, "num": num}, &out); err != nil {
		return nil, err
	}
	return out.Organic, nil
}

func (c *Client) Shopping(ctx context.Context, query string) ([]Offer, error) {
	var out struct {
		Shopping []Offer `json:"shopping"`
	}
	if err := c.post(ctx, c.searchURL+"/shopping", map[string]any{"q": query}, &out); err != nil {
		return nil, err
	}
	for i := range out.Shopping {
		out.Shopping[i].PriceUSD = parsePrice(out.Shopping[i].Price)
	}
	return out.Shopping, nil
}

func (c *Client) Images(ctx context.Context, query string, num int) ([]Image, error) {
	if num <= 0 {
		num = 10
	}
	var out struct {
		Images []Image `json:"images"`
	}
	if err := c.post(ctx, c.searchURL+"/images", map[string]any{"q": query, "num": num}, &out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

func (c *Client) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	if _, err := url.ParseRequestURI(pageURL); err != nil {
		return nil, fmt.Errorf("serper: scrape url: %w", err)
	}
	var out Page
	if err := c.post(ctx, c.scrapeURL, map[string]any{"url": pageURL}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// post sends one JSON request, retrying twice on 429 with doubling
// delay.
func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serper: marshal request: %w", err)
	}

	delay := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("serper: build request: %w", err)
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("serper: %s: %w", endpoint, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < 2 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("serper: %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(detail)))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("serper: decode response: %w", err)
		}
		return nil
	}
}

// parsePrice pulls a numeric amount out of a display price like
// "$79.99" or "129.00 USD". Zero when no amount is present.
func parsePrice(s string) float64 {
	var (
		value   float64
		decimal float64
		seen    bool
	)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seen = true
			if decimal > 0 {
				value += float64(r-'0') / decimal
				decimal *= 10
			} else {
				value = value*10 + float64(r-'0')
			}
		case r == '.' && seen && decimal == 0:
			decimal = 10
		case r == ',':
			// thousands separator
		default:
			if seen {
				return value
			}
		}
	}
	return value
}
