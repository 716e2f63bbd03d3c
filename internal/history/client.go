// Package history talks to the orchestrator's read API: the bulk log
// fetch for a run, and the run/pipeline metadata that drives color
// assignment and the live indicator.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/zstd"

	"runview/internal/model"
	"runview/internal/normalize"
)

// ErrFetchFailed wraps any bulk-fetch failure so callers can treat the
// whole class as one error state.
var ErrFetchFailed = errors.New("history fetch failed")

// RunInfo is the run metadata the view needs besides the log records.
type RunInfo struct {
	ID       string          `json:"id"`
	Status   model.RunStatus `json:"status"`
	Pipeline model.Pipeline  `json:"pipeline"`
}

// Client fetches historical run data over HTTP. Responses may arrive
// zstd-encoded; the client advertises support and decompresses
// transparently.
type Client struct {
	baseURL string
	http    *http.Client
	decoder *zstd.Decoder
}

// NewClient creates a client for the given orchestrator base URL.
func NewClient(baseURL string) (*Client, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		decoder: dec,
	}, nil
}

// FetchRunLogs retrieves the ordered historical record sequence for a run.
func (c *Client) FetchRunLogs(ctx context.Context, runID string) ([]normalize.RawRecord, error) {
	var raws []normalize.RawRecord
	path := fmt.Sprintf("/api/runs/%s/logs", url.PathEscape(runID))
	if err := c.getJSON(ctx, path, &raws); err != nil {
		return nil, err
	}
	return raws, nil
}

// FetchRun retrieves the run's status and owning pipeline definition.
func (c *Client) FetchRun(ctx context.Context, runID string) (RunInfo, error) {
	var info RunInfo
	path := fmt.Sprintf("/api/runs/%s", url.PathEscape(runID))
	if err := c.getJSON(ctx, path, &info); err != nil {
		return RunInfo{}, err
	}
	return info, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "zstd")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	if resp.Header.Get("Content-Encoding") == "zstd" {
		body, err = c.decoder.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("%w: zstd decode: %v", ErrFetchFailed, err)
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return nil
}
