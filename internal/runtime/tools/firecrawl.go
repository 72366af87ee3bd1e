package tools

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

const maxResponseBytes = 4 << 20

// Firecrawl is a client for the Firecrawl search and scrape API.
type Firecrawl struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFirecrawl creates a Firecrawl client.
func NewFirecrawl(apiKey string) *Firecrawl {
	return &Firecrawl{
		apiKey:  apiKey,
		baseURL: "https://api.firecrawl.dev",
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (f *Firecrawl) Name() string { return "firecrawl" }

type firecrawlSearchResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
		Markdown    string `json:"markdown"`
	} `json:"data"`
}

type firecrawlScrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"data"`
}

func (f *Firecrawl) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(f.baseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("firecrawl request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%d - %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (f *Firecrawl) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	var resp firecrawlSearchResponse
	err := f.post(ctx, "/v1/search", map[string]any{
		"query":         query,
		"limit":         limit,
		"scrapeOptions": map[string]any{"formats": []string{"markdown"}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(resp.Data))
	for _, d := range resp.Data {
		desc := d.Description
		if desc == "" {
			desc = truncate(d.Markdown, 200)
		}
		hits = append(hits, SearchHit{Title: d.Title, URL: d.URL, Description: desc})
	}
	return hits, nil
}

// Scrape returns the main content of a page as markdown.
func (f *Firecrawl) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	var resp firecrawlScrapeResponse
	err := f.post(ctx, "/v1/scrape", map[string]any{
		"url":             pageURL,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &Page{Title: resp.Data.Metadata.Title, Markdown: resp.Data.Markdown}, nil
}
