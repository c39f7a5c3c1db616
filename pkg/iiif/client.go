// Package iiif fetches tiled images over the IIIF Image API and
// reassembles them into a single picture.
package iiif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Common errors.
var (
	ErrNotFound    = errors.New("iiif: image not found")
	ErrServerError = errors.New("iiif: server error")
)

// Upstream image servers behind a CDN reject requests without
// browser-like headers, so every request carries this set.
var requestHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:141.0) Gecko/20100101 Firefox/141.0",
	"Accept":          "image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8,*/*;q=0.5",
	"Accept-Language": "en-US,en;q=0.5",
	"Referer":         "https://antenati.cultura.gov.it/",
	"Pragma":          "no-cache",
	"Cache-Control":   "no-cache",
}

// Options configures the IIIF client.
type Options struct {
	// BaseURL is the image service root, e.g.
	// "https://iiif-antenati.cultura.gov.it/iiif/2".
	BaseURL string

	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration

	// RetryAttempts is how many times a tile fetch is tried in total.
	// Default: 3
	RetryAttempts int

	// RetryPause is the wait between tile fetch attempts.
	// Default: 1s
	RetryPause time.Duration
}

// Client fetches image metadata and tiles from a IIIF image service.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new IIIF client with the given options.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryPause == 0 {
		opts.RetryPause = time.Second
	}

	return &Client{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Info fetches and parses info.json for an image.
func (c *Client) Info(ctx context.Context, imageID string) (*Info, error) {
	url := fmt.Sprintf("%s/%s/info.json", c.opts.BaseURL, imageID)
	slog.Info("iiif_info_fetch", "url", url)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var info Info
	if err := json.NewDecoder(body).Decode(&info); err != nil {
		return nil, fmt.Errorf("iiif: parse info.json: %w", err)
	}
	if info.Width <= 0 || info.Height <= 0 || len(info.Tiles) == 0 || info.Tiles[0].Width <= 0 {
		return nil, fmt.Errorf("iiif: malformed info.json for %s", imageID)
	}

	return &info, nil
}

// FetchTile downloads one tile region at full resolution, retrying on
// failure with a fixed pause between attempts.
func (c *Client) FetchTile(ctx context.Context, imageID string, region Region) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%d,%d,%d,%d/full/0/default.jpg",
		c.opts.BaseURL, imageID, region.X, region.Y, region.W, region.H)

	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.RetryPause):
			}
		}

		body, err := c.get(ctx, url)
		if err != nil {
			slog.Warn("iiif_tile_fetch_failed", "url", url, "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			slog.Warn("iiif_tile_read_failed", "url", url, "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		return data, nil
	}

	return nil, fmt.Errorf("iiif: tile fetch failed after %d attempts: %w", c.opts.RetryAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("iiif: create request: %w", err)
	}
	for k, v := range requestHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrServerError, resp.StatusCode, resp.Status)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("iiif: unexpected status code: %d", resp.StatusCode)
	}
}
