// Package mivaa provides a client for the document extraction service that
// surveys catalog PDFs and returns per-page text and image metadata.
package mivaa

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/materialshub/catalog-ingest/internal/pipeline"
	"github.com/materialshub/catalog-ingest/internal/resilience"
)

// Client talks to the extraction service over HTTP and satisfies the
// pipeline's extractor contract.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ pipeline.Extractor = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// NewClient creates an extraction service client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type discoverResponse struct {
	TotalPages   int   `json:"total_pages"`
	ProductPages []int `json:"product_pages"`
}

type pageResponse struct {
	Page    int    `json:"page"`
	Content string `json:"content"`
}

type imagesResponse struct {
	Images []struct {
		URL     string `json:"url"`
		Page    int    `json:"page"`
		Caption string `json:"caption"`
	} `json:"images"`
}

// Discover surveys a document: page count plus the pages flagged as
// product-bearing.
func (c *Client) Discover(ctx context.Context, documentID string) (*pipeline.Discovery, error) {
	var parsed discoverResponse
	path := fmt.Sprintf("/documents/%s/discover", documentID)
	if err := c.get(ctx, path, &parsed); err != nil {
		return nil, err
	}
	return &pipeline.Discovery{
		TotalPages:   parsed.TotalPages,
		ProductPages: parsed.ProductPages,
	}, nil
}

// ExtractPage returns the text content of one page.
func (c *Client) ExtractPage(ctx context.Context, documentID string, page int) (string, error) {
	var parsed pageResponse
	path := fmt.Sprintf("/documents/%s/pages/%d/text", documentID, page)
	if err := c.get(ctx, path, &parsed); err != nil {
		return "", err
	}
	return parsed.Content, nil
}

// ExtractImages returns image references lifted from one page.
func (c *Client) ExtractImages(ctx context.Context, documentID string, page int) ([]pipeline.ImageRef, error) {
	var parsed imagesResponse
	path := fmt.Sprintf("/documents/%s/pages/%d/images", documentID, page)
	if err := c.get(ctx, path, &parsed); err != nil {
		return nil, err
	}

	refs := make([]pipeline.ImageRef, 0, len(parsed.Images))
	for _, img := range parsed.Images {
		refs = append(refs, pipeline.ImageRef{
			URL:     img.URL,
			Page:    img.Page,
			Caption: img.Caption,
		})
	}
	return refs, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "mivaa: create request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "mivaa: request failed")
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return eris.Wrap(readErr, "mivaa: read response body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return resilience.NewFatalError(eris.Errorf("mivaa: not found: %s", path))
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(
			eris.Errorf("mivaa: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	default:
		return eris.Errorf("mivaa: status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "mivaa: decode response")
	}
	return nil
}
