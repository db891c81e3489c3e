// Package crawl imports workflow templates from the remote catalog into the
// document store and produces the translated copies.
//
// A run walks the catalog page by page. Every template that passes the
// Filter is fetched in full, its categories are merged into the taxonomy,
// it is stored in the entry locale and, when translation is enabled, in
// each target locale. Failures of a single page, template or locale are
// logged and recorded in the Report; the run carries on. After the last
// page the category list is written for every locale.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/unitalk-ai/autosync/catalog"
	"github.com/unitalk-ai/autosync/category"
	"github.com/unitalk-ai/autosync/jsontree"
	"github.com/unitalk-ai/autosync/manifest"
	"github.com/unitalk-ai/autosync/selector"
	"github.com/unitalk-ai/autosync/store"
	"github.com/unitalk-ai/autosync/translate"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config controls a run.
type Config struct {
	// PageSize is the number of summaries requested per page.
	PageSize int
	// WindowMonths limits imports to templates created in the last N
	// months (0 = any age).
	WindowMonths int
	// ExcludeKeywords drops templates mentioning any keyword.
	ExcludeKeywords []string
	// EntryLocale is the locale of the catalog documents.
	EntryLocale string
	// Locales are the target locales.
	Locales []string
	// Translate enables the per-locale copies.
	Translate bool
	// Refresh overwrites documents that already exist.
	Refresh bool
	// PageDelay is the pause between two page fetches.
	PageDelay time.Duration
	// Selectors name the translatable fields of a template.
	Selectors []selector.Selector
	// CategorySelectors name the translatable fields of the category list.
	CategorySelectors []selector.Selector
	// MaxConcurrentLocales bounds the per-template locale fan-out.
	MaxConcurrentLocales int
	// MaxPages stops the walk after that many page requests (0 = unlimited).
	MaxPages int
	// Now returns the current time.
	Now func() time.Time
}

// DefaultConfig returns the standard run configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:             100,
		WindowMonths:         18,
		ExcludeKeywords:      []string{"mcp"},
		EntryLocale:          "en-US",
		Locales:              []string{"fr-FR"},
		PageDelay:            time.Second,
		Selectors:            selector.MustParseAll(selector.DefaultWorkflow),
		CategorySelectors:    selector.MustParseAll(selector.DefaultCategories),
		MaxConcurrentLocales: 1,
	}
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.EntryLocale == "" {
		c.EntryLocale = "en-US"
	}
	if c.Selectors == nil {
		c.Selectors = selector.MustParseAll(selector.DefaultWorkflow)
	}
	if c.CategorySelectors == nil {
		c.CategorySelectors = selector.MustParseAll(selector.DefaultCategories)
	}
	if c.MaxConcurrentLocales <= 0 {
		c.MaxConcurrentLocales = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// targetLocales returns the configured locales minus the entry locale and
// duplicates.
func (c Config) targetLocales() []string {
	seen := map[string]bool{c.EntryLocale: true}
	var out []string
	for _, l := range c.Locales {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// ---------------------------------------------------------------------------
// Report
// ---------------------------------------------------------------------------

// Report summarizes a run.
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time

	Pages        int // page requests made
	PageFailures int
	Found        int // summaries listed
	Filtered     int // summaries rejected by the filter

	DetailFailures int
	Imported       int // entry documents written
	Skipped        int // entry documents already present

	Translated          int // localized documents written
	TranslationSkipped  int // localized documents already present
	TranslationFailures int

	WriteFailures int
	Categories    int

	// Err aggregates every recorded failure.
	Err error
}

// Failures returns the recorded failures.
func (r *Report) Failures() []error {
	return multierr.Errors(r.Err)
}

func (r *Report) record(err error) {
	r.Err = multierr.Append(r.Err, err)
}

// ---------------------------------------------------------------------------
// Importer
// ---------------------------------------------------------------------------

// Importer runs imports. Source is only needed by Run.
type Importer struct {
	Source     catalog.Source
	Store      *store.Store
	Layout     store.Layout
	Translator translate.Translator
	// Manifest, when set, records the entry checksum of every translation.
	Manifest *manifest.Manifest
	Config   Config
	// OnLog emits progress messages.
	OnLog func(format string, args ...any)
	// OnError emits failure messages.
	OnError func(format string, args ...any)

	// pause replaces sleep in tests.
	pause func(ctx context.Context, d time.Duration) error
}

func (im *Importer) log(format string, args ...any) {
	if im.OnLog != nil {
		im.OnLog(format, args...)
	}
}

func (im *Importer) wait(ctx context.Context, d time.Duration) error {
	if im.pause != nil {
		return im.pause(ctx, d)
	}
	return sleep(ctx, d)
}

func (im *Importer) fail(rep *Report, err error) {
	rep.record(err)
	if im.OnError != nil {
		im.OnError("%v", err)
	} else if im.OnLog != nil {
		im.OnLog("%v", err)
	}
}

func (im *Importer) prepare(needSource bool) (Config, error) {
	cfg := im.Config.withDefaults()
	if im.Store == nil {
		return cfg, errors.New("crawl: no document store")
	}
	if needSource && im.Source == nil {
		return cfg, errors.New("crawl: no catalog source")
	}
	if cfg.Translate && len(cfg.targetLocales()) > 0 && im.Translator == nil {
		return cfg, errors.New("crawl: translation enabled without a translator")
	}
	if im.Layout.Root == "" {
		im.Layout = store.DefaultLayout(cfg.EntryLocale)
	}
	im.Layout.EntryLocale = cfg.EntryLocale
	return cfg, nil
}

func newReport(cfg Config) *Report {
	return &Report{RunID: uuid.New(), StartedAt: cfg.Now()}
}

// Run walks the catalog and imports every accepted template. The returned
// error is non-nil only for invalid configuration or cancellation; all other
// failures are collected in Report.Err.
func (im *Importer) Run(ctx context.Context) (*Report, error) {
	cfg, err := im.prepare(true)
	if err != nil {
		return nil, err
	}
	rep := newReport(cfg)
	defer func() { rep.FinishedAt = cfg.Now() }()

	cats := im.Store.ReadCategories(im.Layout.CategoriesPath(cfg.EntryLocale))
	if len(cats) > 0 {
		im.log("Loaded %d known categories", len(cats))
	}

	filter := NewFilter(cfg.Now(), cfg.WindowMonths, cfg.ExcludeKeywords)
	cur := catalog.Cursor{Page: 1, Rows: cfg.PageSize}

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		im.log("Fetching page %d...", cur.Page)
		page, err := im.Source.Templates(ctx, cur)
		rep.Pages++
		fetched := err == nil

		done := false
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.PageFailures++
			im.fail(rep, fmt.Errorf("fetching page %d: %w", cur.Page, err))
		} else {
			rep.Found += len(page.Workflows)
			im.log("Page %d: %d workflows (%d listed so far, %d in catalog)", cur.Page, len(page.Workflows), rep.Found, page.TotalWorkflows)

			for _, s := range page.Workflows {
				if ok, reason := filter.Allow(s); !ok {
					rep.Filtered++
					im.log("Skipping %q (%d): %s", s.Name, s.ID, reason)
					continue
				}
				cats = im.importOne(ctx, cfg, s, cats, rep)
				if err := ctx.Err(); err != nil {
					return rep, err
				}
			}

			// the last page is the one that reaches totalWorkflows
			done = cur.Page*cur.Rows >= page.TotalWorkflows || len(page.Workflows) == 0
		}

		if done {
			break
		}
		if cfg.MaxPages > 0 && rep.Pages >= cfg.MaxPages {
			im.log("Stopping after %d pages", rep.Pages)
			break
		}
		cur = cur.Next()

		// the delay follows successful fetches only
		if !fetched {
			continue
		}
		if err := im.wait(ctx, cfg.PageDelay); err != nil {
			return rep, err
		}
	}

	im.finalizeCategories(ctx, cfg, cats, rep)
	rep.Categories = len(cats)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// importOne fetches, stores and translates one template and returns the
// updated category list.
func (im *Importer) importOne(ctx context.Context, cfg Config, s catalog.Summary, cats []category.Category, rep *Report) []category.Category {
	doc, err := im.Source.Workflow(ctx, s.ID)
	if err != nil {
		if ctx.Err() == nil {
			rep.DetailFailures++
			im.fail(rep, fmt.Errorf("fetching workflow %d: %w", s.ID, err))
		}
		return cats
	}

	cats = category.Merge(cats, category.FromDocument(doc))

	name := documentName(doc, s)
	path := im.Layout.DocumentPath(cfg.EntryLocale, name)

	wrote, err := im.Store.WriteIfAbsentOrForced(doc, path, cfg.Refresh)
	switch {
	case err != nil:
		rep.WriteFailures++
		im.fail(rep, fmt.Errorf("storing workflow %d: %w", s.ID, err))
	case wrote:
		rep.Imported++
		im.log("Workflow %q (%d) imported", name, s.ID)
	default:
		rep.Skipped++
		im.log("Workflow %q (%d) already present", name, s.ID)
	}

	if cfg.Translate {
		entry, raw := im.canonical(path, doc)
		im.translateLocales(ctx, cfg, name, entry, raw, rep)
	}
	return cats
}

// canonical returns the entry-locale document as stored on disk, falling
// back to doc when the file cannot be read.
func (im *Importer) canonical(path string, doc jsontree.Value) (jsontree.Value, []byte) {
	if raw, err := im.Store.ReadRaw(path); err == nil {
		if disk, err := jsontree.Parse(raw); err == nil {
			return disk, raw
		}
	}
	raw, _ := jsontree.MarshalIndent(doc)
	return doc, raw
}

type localeOutcome struct {
	locale  string
	written bool
	skipped bool
	err     error
	writeFailed bool
}

// translateLocales produces every target-locale copy of one document. A
// failing locale never affects the others.
func (im *Importer) translateLocales(ctx context.Context, cfg Config, name string, doc jsontree.Value, raw []byte, rep *Report) {
	locales := cfg.targetLocales()
	if len(locales) == 0 {
		return
	}

	outcomes := make([]localeOutcome, len(locales))
	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrentLocales)
	for i, locale := range locales {
		i, locale := i, locale
		g.Go(func() error {
			outcomes[i] = im.translateOne(ctx, cfg, locale, name, doc, raw)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch {
		case o.err != nil && ctx.Err() != nil:
			// cancelled, not a failure
		case o.err != nil && o.writeFailed:
			rep.WriteFailures++
			im.fail(rep, o.err)
		case o.err != nil:
			rep.TranslationFailures++
			im.fail(rep, o.err)
		case o.written:
			rep.Translated++
			im.log("  %s: %q translated", o.locale, name)
		case o.skipped:
			rep.TranslationSkipped++
		}
	}
}

func (im *Importer) translateOne(ctx context.Context, cfg Config, locale, name string, doc jsontree.Value, raw []byte) localeOutcome {
	out := localeOutcome{locale: locale}
	path := im.Layout.DocumentPath(locale, name)

	if !cfg.Refresh && im.Store.Exists(path) {
		out.skipped = true
		return out
	}

	translated, err := translate.Document(ctx, im.Translator, doc, cfg.Selectors, cfg.EntryLocale, locale)
	if err != nil {
		out.err = fmt.Errorf("translating %q to %s: %w", name, locale, err)
		return out
	}
	if err := im.Store.Write(translated, path); err != nil {
		out.err = fmt.Errorf("storing %q for %s: %w", name, locale, err)
		out.writeFailed = true
		return out
	}
	if im.Manifest != nil {
		im.Manifest.Record(locale, path, raw)
	}
	out.written = true
	return out
}

// finalizeCategories writes the entry-locale category list, then a
// translated list per target locale whenever a translator is configured,
// even when documents are not translated.
func (im *Importer) finalizeCategories(ctx context.Context, cfg Config, cats []category.Category, rep *Report) {
	if err := im.Store.WriteCategories(cats, im.Layout.Dir(cfg.EntryLocale)); err != nil {
		rep.WriteFailures++
		im.fail(rep, fmt.Errorf("storing categories: %w", err))
	} else {
		im.log("Saved %d categories to %s", len(cats), im.Layout.CategoriesPath(cfg.EntryLocale))
	}

	if im.Translator == nil {
		return
	}

	sorted := category.Merge(nil, cats)
	tree := category.ToTree(sorted)
	for _, locale := range cfg.targetLocales() {
		if ctx.Err() != nil {
			return
		}
		translated, err := translate.Document(ctx, im.Translator, tree, cfg.CategorySelectors, cfg.EntryLocale, locale)
		if err != nil {
			if ctx.Err() == nil {
				rep.TranslationFailures++
				im.fail(rep, fmt.Errorf("translating categories to %s: %w", locale, err))
			}
			continue
		}
		path := im.Layout.CategoriesPath(locale)
		if err := im.Store.Write(translated, path); err != nil {
			rep.WriteFailures++
			im.fail(rep, fmt.Errorf("storing categories for %s: %w", locale, err))
			continue
		}
		im.log("Saved %d categories to %s", len(sorted), path)
	}
}

// ---------------------------------------------------------------------------
// Offline translation
// ---------------------------------------------------------------------------

// TranslateStored translates the documents already present in the entry
// locale directory, without contacting the catalog, then rewrites the
// category lists from the stored entry-locale list.
func (im *Importer) TranslateStored(ctx context.Context) (*Report, error) {
	im.Config.Translate = true
	cfg, err := im.prepare(false)
	if err != nil {
		return nil, err
	}
	rep := newReport(cfg)
	defer func() { rep.FinishedAt = cfg.Now() }()

	dir := im.Layout.Dir(cfg.EntryLocale)
	names, err := im.Store.ListDocuments(dir)
	if err != nil {
		return rep, err
	}
	rep.Found = len(names)
	im.log("Found %d documents in %s", len(names), dir)

	for _, file := range names {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		path := filepath.Join(dir, file)
		raw, err := im.Store.ReadRaw(path)
		if err != nil {
			rep.DetailFailures++
			im.fail(rep, fmt.Errorf("reading %s: %w", path, err))
			continue
		}
		doc, err := jsontree.Parse(raw)
		if err != nil {
			rep.DetailFailures++
			im.fail(rep, fmt.Errorf("parsing %s: %w", path, err))
			continue
		}
		name := strings.TrimSuffix(file, ".json")
		im.translateLocales(ctx, cfg, name, doc, raw, rep)
	}

	cats := im.Store.ReadCategories(im.Layout.CategoriesPath(cfg.EntryLocale))
	im.finalizeCategories(ctx, cfg, cats, rep)
	rep.Categories = len(cats)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// documentName is the name a template is stored under: its "name" field,
// else the listing name, else its ID.
func documentName(doc jsontree.Value, s catalog.Summary) string {
	if obj, ok := doc.(*jsontree.Object); ok {
		if v, ok := obj.Get("name"); ok {
			if name, ok := v.(string); ok && store.SanitizeName(name) != "untitled" {
				return name
			}
		}
	}
	if store.SanitizeName(s.Name) != "untitled" {
		return s.Name
	}
	return fmt.Sprintf("workflow-%d", s.ID)
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
