// Package catalog is a client for the remote workflow-template catalog.
//
// Two endpoints are used:
//
//	GET {base}/api/templates/search/?page=N&rows=M   paginated summaries
//	GET {base}/api/templates/workflows/{id}          full template, wrapped in {"workflow": ...}
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/unitalk-ai/autosync/jsontree"
)

// DefaultUserAgent identifies the importer to the catalog.
const DefaultUserAgent = "autosync"

// ErrMissingWorkflow is returned when a detail response has no "workflow".
var ErrMissingWorkflow = errors.New(`response has no "workflow" object`)

// Cursor addresses one page of the catalog. Page starts at 1.
type Cursor struct {
	Page int
	Rows int
}

// Next returns the cursor of the following page.
func (c Cursor) Next() Cursor {
	return Cursor{Page: c.Page + 1, Rows: c.Rows}
}

// Summary is the listing entry of a template.
type Summary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

// Page is one page of search results.
type Page struct {
	TotalWorkflows int       `json:"totalWorkflows"`
	Workflows      []Summary `json:"workflows"`
}

// Source is what the importer needs from the catalog.
type Source interface {
	Templates(ctx context.Context, cur Cursor) (*Page, error)
	Workflow(ctx context.Context, id int64) (jsontree.Value, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Temporary reports whether retrying may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Options configures a Client.
type Options struct {
	// BaseURL is the catalog host, e.g. https://api.n8n.io.
	BaseURL string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	// Timeout is the per-request timeout of the default client. Default: 30s.
	Timeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// MaxRetries is the number of retries on network errors, 429 and 5xx. Default: 2.
	MaxRetries int
	// MinBackoff is the first retry delay. Default: 1s.
	MinBackoff time.Duration
	// OnLog emits log messages.
	OnLog func(format string, args ...any)
}

// Client talks to the catalog over HTTP.
type Client struct {
	base       *url.URL
	http       *http.Client
	userAgent  string
	maxRetries int
	minBackoff time.Duration
	onLog      func(format string, args ...any)
}

// New validates opts and returns a client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("catalog base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing catalog base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("catalog base URL %q: scheme must be http or https", raw)
	}

	c := &Client{
		base:       base,
		http:       opts.HTTPClient,
		userAgent:  opts.UserAgent,
		maxRetries: opts.MaxRetries,
		minBackoff: opts.MinBackoff,
		onLog:      opts.OnLog,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 2
	}
	if c.minBackoff <= 0 {
		c.minBackoff = time.Second
	}
	return c, nil
}

// Templates fetches one page of summaries.
func (c *Client) Templates(ctx context.Context, cur Cursor) (*Page, error) {
	if cur.Page < 1 || cur.Rows < 1 {
		return nil, fmt.Errorf("invalid cursor page=%d rows=%d", cur.Page, cur.Rows)
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(cur.Page))
	q.Set("rows", strconv.Itoa(cur.Rows))

	body, err := c.get(ctx, "/api/templates/search/", q)
	if err != nil {
		return nil, err
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decoding page %d: %w", cur.Page, err)
	}
	return &page, nil
}

// Workflow fetches the full template document with the given ID.
func (c *Client) Workflow(ctx context.Context, id int64) (jsontree.Value, error) {
	body, err := c.get(ctx, "/api/templates/workflows/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}

	doc, err := jsontree.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("decoding workflow %d: %w", id, err)
	}
	obj, ok := doc.(*jsontree.Object)
	if !ok {
		return nil, fmt.Errorf("workflow %d: %w", id, ErrMissingWorkflow)
	}
	wf, ok := obj.Get("workflow")
	if !ok {
		return nil, fmt.Errorf("workflow %d: %w", id, ErrMissingWorkflow)
	}
	if _, ok := wf.(*jsontree.Object); !ok {
		return nil, fmt.Errorf("workflow %d: %w", id, ErrMissingWorkflow)
	}
	return wf, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	endpoint := u.String()

	b := &backoff.Backoff{Min: c.minBackoff, Max: 30 * time.Second, Factor: 2, Jitter: true}

	for attempt := 0; ; attempt++ {
		body, err := c.do(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var se *StatusError
		retryable := !errors.As(err, &se) || se.Temporary()
		if !retryable || attempt >= c.maxRetries {
			return nil, err
		}

		wait := b.Duration()
		if c.onLog != nil {
			c.onLog("catalog: %v, retrying in %v", err, wait.Round(time.Millisecond))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", endpoint, err)
	}
	return body, nil
}
