// Package indexer reads the status endpoints of a search indexer.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opsbot/internal/apperrors"
	"opsbot/internal/poll"
)

// Status values reported by the indexer.
const (
	StatusIndexing = "indexing"
	StatusWaiting  = "waiting"
)

// Endpoint names, relative to the deployment base URL.
const (
	Primary = "_indexer"
	Visual  = "_visindexer"
)

// maxBody bounds how much of a status response is read.
const maxBody = 1 << 20

// Result is one indexing cycle.
type Result struct {
	CycleTook string `json:"cycle_took"`
}

// Report is the body of an indexer status endpoint.
type Report struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
}

// Phase maps the report status onto the polling phases.
func (r *Report) Phase() poll.Phase {
	switch r.Status {
	case StatusIndexing:
		return poll.Busy
	case StatusWaiting:
		return poll.Settled
	default:
		return poll.Unknown
	}
}

func (r *Report) String() string {
	cycles := make([]string, len(r.Results))
	for i, res := range r.Results {
		cycles[i] = res.CycleTook
	}
	return fmt.Sprintf("status=%s cycles=[%s]", r.Status, strings.Join(cycles, ", "))
}

// Client fetches indexer reports over HTTP.
type Client struct {
	http *http.Client
}

// NewClient creates a Client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Fetch reads <baseURL>/<endpoint>. Transport failures, non-2xx statuses
// and undecodable bodies are all errors.
func (c *Client) Fetch(ctx context.Context, baseURL, endpoint string) (*Report, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.BadInput("url", fmt.Sprintf("invalid indexer url %q", baseURL))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Internal("indexer.fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, apperrors.Unavailable(endpoint, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	var report Report
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&report); err != nil {
		return nil, apperrors.Internal("indexer.decode", err)
	}
	return &report, nil
}

// Fetcher reads one indexer report. Client is the HTTP implementation.
type Fetcher interface {
	Fetch(ctx context.Context, baseURL, endpoint string) (*Report, error)
}

// Query adapts a Fetcher to a polling query for one endpoint.
func Query(f Fetcher, baseURL, endpoint string) poll.Query {
	return func(ctx context.Context) (poll.Status, error) {
		report, err := f.Fetch(ctx, baseURL, endpoint)
		if err != nil {
			return poll.Status{}, err
		}
		return poll.Status{Phase: report.Phase(), Payload: report}, nil
	}
}
