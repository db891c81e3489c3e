// Package config loads the autosync settings.
//
// Values come from three layers, later ones winning:
//
//  1. autosync.yaml in the working directory (optional)
//  2. a .env file next to it (optional, never overrides variables already set)
//  3. the process environment
//
// Command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/unitalk-ai/autosync/crawl"
	"github.com/unitalk-ai/autosync/langmeta"
	"github.com/unitalk-ai/autosync/selector"
	"github.com/unitalk-ai/autosync/store"
)

// FileName is the config file looked up in the working directory.
const FileName = "autosync.yaml"

// EnvFileName is the dotenv file loaded before the environment is read.
const EnvFileName = ".env"

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// Config is the merged configuration.
type Config struct {
	// Host is the catalog server base URL.
	Host string `yaml:"host,omitempty"`
	// OutputDir is the entry-locale document directory.
	OutputDir string `yaml:"output_dir,omitempty"`
	// EntryLocale is the locale of the catalog documents.
	EntryLocale string `yaml:"entry_locale,omitempty"`
	// Locales are the translation targets.
	Locales []string `yaml:"locales,omitempty"`

	// PageSize is the number of summaries requested per page.
	PageSize int `yaml:"page_size,omitempty"`
	// WindowMonths limits imports to recent templates; nil means the default,
	// 0 disables the check.
	WindowMonths *int `yaml:"window_months,omitempty"`
	// ExcludeKeywords drops templates mentioning any of them.
	ExcludeKeywords []string `yaml:"exclude_keywords,omitempty"`
	// PageDelay is the pause between page fetches ("1s", "500ms").
	PageDelay string `yaml:"page_delay,omitempty"`
	// Concurrency bounds the parallel locales per template.
	Concurrency int `yaml:"concurrency,omitempty"`
	// MaxPages stops a run after that many pages (0 = unlimited).
	MaxPages int `yaml:"max_pages,omitempty"`

	// Selectors override the translatable template fields.
	Selectors []string `yaml:"selectors,omitempty"`
	// CategorySelectors override the translatable category fields.
	CategorySelectors []string `yaml:"category_selectors,omitempty"`

	Translation Translation `yaml:"translation,omitempty"`

	// APIKey comes from the environment only.
	APIKey string `yaml:"-"`
	// Path is the config file that was read, empty when none exists.
	Path string `yaml:"-"`
}

// Translation configures the LLM backend.
type Translation struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
	// BaseURL overrides the provider endpoint (an OpenAI-compatible proxy).
	BaseURL string `yaml:"base_url,omitempty"`
	// Proxy is an HTTP proxy for the backend requests.
	Proxy string `yaml:"proxy,omitempty"`
	// Prompt replaces the default system prompt.
	Prompt string `yaml:"prompt,omitempty"`
	// Timeout per request ("2m").
	Timeout string `yaml:"timeout,omitempty"`
	// RequestsPerSecond paces the requests (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	// MaxRetries per request.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// env lists the recognized environment variables.
type env struct {
	Host        string `envconfig:"N8N_HOST"`
	EntryLocale string `envconfig:"ENTRY_LOCALE"`
	Model       string `envconfig:"OPENAI_MODEL_NAME"`
	ProxyURL    string `envconfig:"OPENAI_PROXY_URL"`
	OpenAIKey   string `envconfig:"OPENAI_API_KEY"`
	APIKey      string `envconfig:"AUTOSYNC_API_KEY"`
	Provider    string `envconfig:"AUTOSYNC_PROVIDER"`
	Locales     string `envconfig:"AUTOSYNC_LOCALES"`
	OutputDir   string `envconfig:"AUTOSYNC_OUTPUT_DIR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	window := 18
	return &Config{
		OutputDir:       store.DefaultRoot,
		EntryLocale:     "en-US",
		Locales:         []string{"fr-FR"},
		PageSize:        100,
		WindowMonths:    &window,
		ExcludeKeywords: []string{"mcp"},
		PageDelay:       "1s",
		Concurrency:     1,
		Translation: Translation{
			Provider:   "openai",
			Timeout:    "2m",
			MaxRetries: 3,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the configuration from dir and the environment.
func Load(dir string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(dir, EnvFileName)); err != nil {
		return nil, err
	}

	cfg := Default()
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg.Path = path
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		if cfg.Path != "" {
			return nil, fmt.Errorf("%s: %w", cfg.Path, err)
		}
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// decode unmarshals data over cfg, rejecting unknown keys.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.Host, e.Host)
	set(&c.EntryLocale, e.EntryLocale)
	set(&c.OutputDir, e.OutputDir)
	set(&c.Translation.Provider, e.Provider)
	set(&c.Translation.Model, e.Model)
	set(&c.Translation.BaseURL, e.ProxyURL)
	set(&c.APIKey, e.OpenAIKey)
	set(&c.APIKey, e.APIKey)
	if e.Locales != "" {
		c.Locales = SplitList(e.Locales)
	}
	return nil
}

// fillDefaults restores defaults the file cleared and canonicalizes locales.
func (c *Config) fillDefaults() {
	d := Default()
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
	if c.EntryLocale == "" {
		c.EntryLocale = d.EntryLocale
	}
	if c.PageSize == 0 {
		c.PageSize = d.PageSize
	}
	if c.WindowMonths == nil {
		c.WindowMonths = d.WindowMonths
	}
	if c.PageDelay == "" {
		c.PageDelay = d.PageDelay
	}
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Translation.Provider == "" {
		c.Translation.Provider = d.Translation.Provider
	}
	if c.Translation.Timeout == "" {
		c.Translation.Timeout = d.Translation.Timeout
	}
	if c.Translation.MaxRetries == 0 {
		c.Translation.MaxRetries = d.Translation.MaxRetries
	}

	c.EntryLocale = langmeta.Canonicalize(c.EntryLocale)
	c.Locales = canonicalLocales(c.Locales)
}

// Validate checks value ranges and the syntax of durations and selectors.
func (c *Config) Validate() error {
	if c.PageSize < 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.WindowMonths != nil && *c.WindowMonths < 0 {
		return fmt.Errorf("window_months must not be negative, got %d", *c.WindowMonths)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must not be negative, got %d", c.MaxPages)
	}
	if c.Translation.RequestsPerSecond < 0 {
		return fmt.Errorf("translation.requests_per_second must not be negative")
	}
	if _, err := parseDuration("page_delay", c.PageDelay); err != nil {
		return err
	}
	if _, err := parseDuration("translation.timeout", c.Translation.Timeout); err != nil {
		return err
	}
	if _, err := selector.ParseAll(c.Selectors); err != nil {
		return fmt.Errorf("selectors: %w", err)
	}
	if _, err := selector.ParseAll(c.CategorySelectors); err != nil {
		return fmt.Errorf("category_selectors: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Derived values
// ---------------------------------------------------------------------------

// Layout returns the on-disk document layout.
func (c *Config) Layout() store.Layout {
	return store.NewLayout(c.OutputDir, c.EntryLocale)
}

// Crawl converts the configuration into run settings. Load has already
// validated every field it reads.
func (c *Config) Crawl() crawl.Config {
	cc := crawl.DefaultConfig()
	cc.PageSize = c.PageSize
	if c.WindowMonths != nil {
		cc.WindowMonths = *c.WindowMonths
	}
	cc.ExcludeKeywords = c.ExcludeKeywords
	cc.EntryLocale = c.EntryLocale
	cc.Locales = c.Locales
	cc.MaxConcurrentLocales = c.Concurrency
	cc.MaxPages = c.MaxPages
	if d, err := parseDuration("page_delay", c.PageDelay); err == nil {
		cc.PageDelay = d
	}
	if len(c.Selectors) > 0 {
		cc.Selectors = selector.MustParseAll(c.Selectors)
	}
	if len(c.CategorySelectors) > 0 {
		cc.CategorySelectors = selector.MustParseAll(c.CategorySelectors)
	}
	return cc
}

// TranslationTimeout returns the parsed per-request timeout.
func (c *Config) TranslationTimeout() time.Duration {
	d, _ := parseDuration("translation.timeout", c.Translation.Timeout)
	return d
}

// Marshal encodes the configuration as YAML, without secrets.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// SplitList splits a comma or space separated list, dropping empty items.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func canonicalLocales(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = langmeta.Canonicalize(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", key, s)
	}
	return d, nil
}
