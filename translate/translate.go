// Package translate machine-translates the text fields of JSON documents
// through HTTP API-based LLM providers: OpenAI, Groq, Ollama, Google AI
// (Gemini), Anthropic, and any OpenAI-compatible endpoint.
//
// Text is exchanged as a Bundle, a flat JSON object keyed by the concrete
// selector path of each value. The provider is asked to return the same
// object with translated values.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/unitalk-ai/autosync/jsontree"
	"github.com/unitalk-ai/autosync/langmeta"
	"github.com/unitalk-ai/autosync/selector"
)

var (
	// ErrTranslation wraps every failure reported by a Translator.
	ErrTranslation = errors.New("translation failed")
	// ErrIncompleteTranslation means the response lacked a requested key or
	// returned a non-string value for it.
	ErrIncompleteTranslation = errors.New("incomplete translation")
	// ErrMissingAPIKey is returned by New for providers that require a key.
	ErrMissingAPIKey = errors.New("API key is required")
)

// Bundle maps concrete selector paths to texts.
type Bundle map[string]string

// Translator translates every value of a bundle from source to target.
// The returned bundle has exactly the keys of the input.
type Translator interface {
	Translate(ctx context.Context, bundle Bundle, source, target string) (Bundle, error)
}

// ---------------------------------------------------------------------------
// System prompt
// ---------------------------------------------------------------------------

// DefaultSystemPrompt is the instruction sent with every bundle.
// {{sourceLang}}, {{targetLang}} and {{targetName}} are substituted.
const DefaultSystemPrompt = `You will receive a JSON object with paths as keys and texts as values. Translate all text values from {{sourceLang}} to {{targetLang}} ({{targetName}}) using BCP 47 standards.
Do not change the paths/keys. Only translate the string values. Return valid JSON only, as a single object with exactly the same keys.
Preserve any markdown formatting, HTML tags, placeholders, URLs, or special characters in the text.`

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls the client behavior.
type Options struct {
	// Provider is the LLM provider configuration.
	Provider Provider
	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string
	// Timeout is the per-request timeout (overrides provider timeout if set).
	Timeout time.Duration
	// MaxRetries is the number of retries on network errors, 429 and 5xx. Default: 3.
	MaxRetries int
	// MinBackoff and MaxBackoff bound the exponential retry delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// RequestsPerSecond paces requests across all goroutines (0 = unlimited).
	RequestsPerSecond float64
	// OnLog emits log messages.
	OnLog func(format string, args ...any)
	// OnError emits error messages.
	OnError func(format string, args ...any)
	// Verbose enables request-level logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if o.Provider.Timeout > 0 {
		return o.Provider.Timeout
	}
	return 120 * time.Second
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveMinBackoff() time.Duration {
	if o.MinBackoff > 0 {
		return o.MinBackoff
	}
	return time.Second
}

func (o *Options) effectiveMaxBackoff() time.Duration {
	if o.MaxBackoff > 0 {
		return o.MaxBackoff
	}
	return 30 * time.Second
}

// resolvedPrompt returns the system prompt with the locale placeholders
// replaced.
func (o *Options) resolvedPrompt(source, target string) string {
	prompt := o.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return strings.NewReplacer(
		"{{sourceLang}}", source,
		"{{targetLang}}", target,
		"{{targetName}}", langmeta.Resolve(target).Name,
	).Replace(prompt)
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause for concurrent callers)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if end := time.Now().Add(duration); end.After(r.pauseEnd) {
		r.pauseEnd = end
	}
	atomic.StoreInt32(&r.paused, 1)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			atomic.StoreInt32(&r.paused, 0)
			return nil
		}
		if err := sleep(ctx, min(remaining, 100*time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is a Translator backed by an HTTP LLM provider. It is safe for
// concurrent use; a 429 seen by one caller pauses all of them.
type Client struct {
	opts    Options
	prov    Provider
	http    *http.Client
	limiter *rate.Limiter
	rl      rateLimitState
}

// New validates the provider configuration and returns a client.
func New(opts Options) (*Client, error) {
	prov := opts.Provider
	if prov.ID == "" {
		prov.ID = ProviderCustomOpenAI
	}
	if prov.Name == "" {
		prov.Name = prov.ID
	}
	if prov.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base URL is required", prov.ID)
	}
	if prov.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", prov.ID)
	}
	if prov.needsAPIKey() && prov.APIKey == "" {
		return nil, fmt.Errorf("provider %s: %w", prov.ID, ErrMissingAPIKey)
	}
	prov.Timeout = opts.effectiveTimeout()

	c := &Client{
		opts: opts,
		prov: prov,
		http: makeHTTPClient(prov.Proxy, prov.Timeout),
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// Provider returns the effective provider configuration.
func (c *Client) Provider() Provider {
	return c.prov
}

// Translate sends the bundle to the provider. An empty bundle is rejected
// with selector.ErrNothingToTranslate without a request being made.
func (c *Client) Translate(ctx context.Context, bundle Bundle, source, target string) (Bundle, error) {
	if len(bundle) == 0 {
		return nil, selector.ErrNothingToTranslate
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding bundle: %w", ErrTranslation, err)
	}

	text, err := c.call(ctx, c.opts.resolvedPrompt(source, target), string(payload))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s -> %s: %w", ErrTranslation, source, target, err)
	}

	out, err := parseBundle(text, bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s: %w", ErrTranslation, source, target, err)
	}
	return out, nil
}

// call posts one prompt and returns the response text. Network errors and
// 5xx responses are retried with exponential backoff; 429 responses wait for
// the delay the server asks for and pause every other caller meanwhile.
func (c *Client) call(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	endpoint, headers, body, err := buildHTTPRequest(c.prov, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	b := &backoff.Backoff{
		Min:    c.opts.effectiveMinBackoff(),
		Max:    c.opts.effectiveMaxBackoff(),
		Factor: 2,
		Jitter: true,
	}
	maxRetries := c.opts.effectiveMaxRetries()

	for attempt := 0; ; attempt++ {
		if err := c.rl.waitIfPaused(ctx); err != nil {
			return "", err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		if c.opts.Verbose {
			c.opts.log("%s attempt %d: POST %s", c.prov.Name, attempt+1, endpoint)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if attempt < maxRetries {
				c.opts.logError("%s request failed, retrying: %v", c.prov.Name, err)
				if err := sleep(ctx, b.Duration()); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("API request failed: %w", err)
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= maxRetries {
				return "", fmt.Errorf("rate limited after %d retries: %s", maxRetries, truncate(string(respBody), 500))
			}
			delay, ok := parseRetryDelay(resp.Header, respBody, time.Now())
			if !ok {
				delay = b.Duration()
			}
			c.opts.log("%s rate limited, waiting %v (attempt %d/%d)", c.prov.Name, delay, attempt+1, maxRetries)
			c.rl.pause(delay)
			if err := c.rl.waitIfPaused(ctx); err != nil {
				return "", err
			}
			continue

		case resp.StatusCode >= 500 && attempt < maxRetries:
			c.opts.logError("%s returned status %d, retrying", c.prov.Name, resp.StatusCode)
			if err := sleep(ctx, b.Duration()); err != nil {
				return "", err
			}
			continue

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
		}

		return extractResponseText(respBody)
	}
}

// ---------------------------------------------------------------------------
// Response bundle parsing
// ---------------------------------------------------------------------------

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseBundle decodes the provider's answer and checks it against the
// request: every requested key must come back as a string. Keys the
// provider invented are dropped.
func parseBundle(text string, request Bundle) (Bundle, error) {
	content := strings.TrimSpace(text)
	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response: %s", truncate(text, 200))
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}

	out := make(Bundle, len(request))
	for key := range request {
		v, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrIncompleteTranslation, key)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: key %q is %T, not a string", ErrIncompleteTranslation, key, v)
		}
		out[key] = s
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Document translation
// ---------------------------------------------------------------------------

// Document translates the fields of doc named by selectors and returns a new
// document. When source equals target, or no selector yields any text, doc
// is returned unchanged and the translator is not called. doc is never
// modified.
func Document(ctx context.Context, tr Translator, doc jsontree.Value, selectors []selector.Selector, source, target string) (jsontree.Value, error) {
	if source == target {
		return doc, nil
	}

	entries := selector.Extract(doc, selectors)
	if len(entries) == 0 {
		return doc, nil
	}

	translated, err := tr.Translate(ctx, Bundle(selector.Map(entries)), source, target)
	if err != nil {
		return nil, err
	}

	picked := make(map[string]string, len(entries))
	for _, e := range entries {
		v, ok := translated[e.Path]
		if !ok {
			return nil, fmt.Errorf("%w: %w: missing key %q", ErrTranslation, ErrIncompleteTranslation, e.Path)
		}
		picked[e.Path] = v
	}
	return selector.Inject(doc, selector.Entries(picked))
}
