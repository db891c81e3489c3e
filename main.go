// autosync — imports workflow templates from a template catalog and keeps
// AI-translated copies of them for every configured locale.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/unitalk-ai/autosync/catalog"
	"github.com/unitalk-ai/autosync/config"
	"github.com/unitalk-ai/autosync/crawl"
	"github.com/unitalk-ai/autosync/i18n"
	"github.com/unitalk-ai/autosync/langmeta"
	"github.com/unitalk-ai/autosync/manifest"
	"github.com/unitalk-ai/autosync/settings"
	"github.com/unitalk-ai/autosync/store"
	"github.com/unitalk-ai/autosync/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.BlueString("[INFO]"), fmt.Sprintf(format, args...))
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.GreenString("[OK]"), fmt.Sprintf(format, args...))
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("[WARN]"), fmt.Sprintf(format, args...))
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("[ERROR]"), fmt.Sprintf(format, args...))
}

// logVerbose is logInfo gated by --verbose.
func logVerbose(format string, args ...any) {
	if verbose {
		logInfo(format, args...)
	}
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

var (
	workDir string
	verbose bool
)

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autosync",
		Short: i18n.T("Import workflow templates and translate them with AI"),
		Long: `autosync — imports workflow templates from a template catalog and keeps
AI-translated copies of them for every configured locale.

Documents are stored as JSON files:
  automation/<name>.json                 entry locale (en-US)
  automation/categories.json             category taxonomy
  automation/i18n/<locale>/<name>.json   translations

Settings come from autosync.yaml, a .env file and the environment
(N8N_HOST, OPENAI_API_KEY, OPENAI_MODEL_NAME, OPENAI_PROXY_URL, ENTRY_LOCALE).

Commands:
  import      Crawl the catalog and store (and translate) new templates
  translate   Translate the documents already stored, without the catalog
  status      Show document counts and missing or stale translations
  config      Show the effective configuration
  auth        Manage provider API keys`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&workDir, "dir", ".", "Working directory (autosync.yaml, .env, output)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable detailed logging")

	root.AddCommand(
		newImportCmd(),
		newTranslateCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: i18n.T("Show version information"),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("autosync version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// Shared flags
// ---------------------------------------------------------------------------

// runFlags are the document selection flags of import and translate.
type runFlags struct {
	refresh     bool
	langs       string
	concurrency int
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "Overwrite documents that already exist")
	cmd.Flags().StringVar(&f.langs, "lang", "", "Target locales (comma-separated, default: from config)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Locales translated in parallel per document")
}

func (f *runFlags) apply(cfg *config.Config) {
	if f.langs != "" {
		cfg.Locales = parseLocales(f.langs)
	}
	if f.concurrency > 0 {
		cfg.Concurrency = f.concurrency
	}
}

// providerFlags select and tune the translation backend.
type providerFlags struct {
	provider   string
	model      string
	apiKey     string
	baseURL    string
	proxy      string
	prompt     string
	timeout    time.Duration
	rps        float64
	maxRetries int
}

func (f *providerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "AI provider: "+strings.Join(translate.ProviderIDs(), ", "))
	cmd.Flags().StringVar(&f.model, "model", "", "Model name (default: OPENAI_MODEL_NAME or gpt-4o-mini)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (or AUTOSYNC_API_KEY / OPENAI_API_KEY)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Custom API base URL (or OPENAI_PROXY_URL)")
	cmd.Flags().StringVar(&f.proxy, "proxy", "", "HTTP/HTTPS proxy URL")
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "Custom system prompt ({{sourceLang}}, {{targetLang}}, {{targetName}})")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Request timeout (0 = config or provider default)")
	cmd.Flags().Float64Var(&f.rps, "rps", 0, "Maximum translation requests per second (0 = config)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Retries on network errors, 429 and 5xx (0 = config)")

	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, id := range translate.ProviderIDs() {
			p, _ := translate.LookupProvider(id)
			out = append(out, id+"\t"+p.Name)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// ---------------------------------------------------------------------------
// import
// ---------------------------------------------------------------------------

func newImportCmd() *cobra.Command {
	var (
		rf          runFlags
		pf          providerFlags
		doTranslate bool
		host        string
		rows        int
		window      int
		maxPages    int
		pageDelay   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: i18n.T("Crawl the catalog and store new templates"),
		Long: `Walk the template catalog page by page and store every recent template
in the entry locale. Templates mentioning an excluded keyword ("mcp") or older
than the configured window are skipped. Existing files are kept unless
--refresh is given.

With --translate, every imported template is also translated into each
target locale, and the category list is translated after the last page.

Examples:
  autosync import
  autosync import --translate --lang fr-FR,de-DE
  autosync import --translate --provider groq --model llama-3.3-70b-versatile
  autosync import --refresh --max-pages 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rf.apply(cfg)
			if host != "" {
				cfg.Host = host
			}
			if cmd.Flags().Changed("rows") {
				cfg.PageSize = rows
			}
			if cmd.Flags().Changed("window") {
				cfg.WindowMonths = &window
			}
			if cmd.Flags().Changed("max-pages") {
				cfg.MaxPages = maxPages
			}
			if cmd.Flags().Changed("page-delay") {
				cfg.PageDelay = pageDelay.String()
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, rf, pf, doTranslate)
		},
	}

	rf.register(cmd)
	pf.register(cmd)
	cmd.Flags().BoolVar(&doTranslate, "translate", false, "Also translate into the target locales")
	cmd.Flags().StringVar(&host, "host", "", "Catalog base URL (or N8N_HOST)")
	cmd.Flags().IntVar(&rows, "rows", 100, "Templates per page")
	cmd.Flags().IntVar(&window, "window", 18, "Only import templates created in the last N months (0 = any)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop after N pages (0 = all)")
	cmd.Flags().DurationVar(&pageDelay, "page-delay", time.Second, "Pause between page requests")

	return cmd
}

func runImport(ctx context.Context, cfg *config.Config, rf runFlags, pf providerFlags, doTranslate bool) error {
	if cfg.Host == "" {
		return errors.New(i18n.T("no catalog host configured: set N8N_HOST, host in autosync.yaml or --host"))
	}

	src, err := catalog.New(catalog.Options{
		BaseURL:   cfg.Host,
		UserAgent: "autosync/" + version,
		OnLog:     logVerbose,
	})
	if err != nil {
		return err
	}

	cc := cfg.Crawl()
	cc.Translate = doTranslate
	cc.Refresh = rf.refresh

	st := store.New()
	im := &crawl.Importer{
		Source:  src,
		Store:   st,
		Layout:  cfg.Layout(),
		Config:  cc,
		OnLog:   logVerbose,
		OnError: logWarning,
	}

	var m *manifest.Manifest
	if doTranslate {
		tr, err := newTranslator(cfg, pf)
		if err != nil {
			return err
		}
		im.Translator = tr
		if m, err = manifest.LoadFs(st.Fs(), cfg.OutputDir); err != nil {
			return err
		}
		im.Manifest = m
		logInfo(i18n.T("Translating into %s with %s (%s)"), strings.Join(cc.Locales, ", "), tr.Provider().Name, tr.Provider().Model)
	}

	logInfo(i18n.T("Importing from %s into %s"), cfg.Host, cfg.OutputDir)
	rep, runErr := im.Run(ctx)

	if m != nil {
		if err := m.Save(); err != nil {
			logWarning(i18n.T("Could not save %s: %v"), m.Path(), err)
		} else {
			logVerbose("%s: %s", manifest.FileName, m.Summary())
		}
	}
	if rep != nil {
		printSummary(rep)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New(i18n.T("interrupted"))
		}
		return runErr
	}
	return nil
}

// ---------------------------------------------------------------------------
// translate (offline)
// ---------------------------------------------------------------------------

func newTranslateCmd() *cobra.Command {
	var (
		rf runFlags
		pf providerFlags
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: i18n.T("Translate the stored documents"),
		Long: `Translate the documents already stored in the entry locale directory,
and its categories.json, into every target locale. The catalog is not
contacted. Existing translations are kept unless --refresh is given; run
'autosync status' to find translations made from an older document.

Examples:
  autosync translate
  autosync translate --lang es-ES --provider anthropic --model claude-3-5-haiku-latest
  autosync translate --refresh --lang fr-FR`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rf.apply(cfg)
			return runTranslate(cmd.Context(), cfg, rf, pf)
		},
	}

	rf.register(cmd)
	pf.register(cmd)
	return cmd
}

func runTranslate(ctx context.Context, cfg *config.Config, rf runFlags, pf providerFlags) error {
	tr, err := newTranslator(cfg, pf)
	if err != nil {
		return err
	}
	st := store.New()
	m, err := manifest.LoadFs(st.Fs(), cfg.OutputDir)
	if err != nil {
		return err
	}

	cc := cfg.Crawl()
	cc.Refresh = rf.refresh
	layout := cfg.Layout()

	im := &crawl.Importer{
		Store:      st,
		Layout:     layout,
		Translator: tr,
		Manifest:   m,
		Config:     cc,
		OnLog:      logVerbose,
		OnError:    logWarning,
	}

	logInfo(i18n.T("Translating %s into %s with %s (%s)"), layout.Root, strings.Join(cc.Locales, ", "), tr.Provider().Name, tr.Provider().Model)
	rep, runErr := im.TranslateStored(ctx)

	// forget checksums of entry documents that were deleted
	if entries, err := st.ListDocuments(layout.Root); err == nil {
		for _, locale := range m.Locales() {
			m.Clean(locale, entries)
		}
	}
	if err := m.Save(); err != nil {
		logWarning(i18n.T("Could not save %s: %v"), m.Path(), err)
	} else {
		logVerbose("%s: %s", manifest.FileName, m.Summary())
	}

	if rep != nil {
		printSummary(rep)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New(i18n.T("interrupted"))
		}
		return runErr
	}
	return nil
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

func printSummary(rep *crawl.Report) {
	elapsed := rep.FinishedAt.Sub(rep.StartedAt).Round(time.Second)
	if n := len(rep.Failures()); n > 0 {
		logWarning(i18n.N("Run %s finished in %s with %d failure", "Run %s finished in %s with %d failures", n),
			rep.RunID.String()[:8], elapsed, n)
	} else {
		logSuccess(i18n.T("Run %s finished in %s"), rep.RunID.String()[:8], elapsed)
	}
	for _, line := range summaryLines(rep) {
		fmt.Fprintln(os.Stderr, "  "+line)
	}
}

// summaryLines renders the non-zero report counters.
func summaryLines(rep *crawl.Report) []string {
	n := func(v int) string { return humanize.Comma(int64(v)) }
	with := func(head string, extra ...string) string {
		var parts []string
		for i := 0; i+1 < len(extra); i += 2 {
			if extra[i] != "0" {
				parts = append(parts, extra[i]+" "+extra[i+1])
			}
		}
		if len(parts) == 0 {
			return head
		}
		return head + " (" + strings.Join(parts, ", ") + ")"
	}

	var lines []string
	add := func(label, value string) {
		lines = append(lines, fmt.Sprintf("%-12s %s", label+":", value))
	}

	if rep.Pages > 0 {
		add(i18n.T("Pages"), with(n(rep.Pages), n(rep.PageFailures), i18n.T("failed")))
		add(i18n.T("Listed"), with(n(rep.Found), n(rep.Filtered), i18n.T("filtered")))
		add(i18n.T("Imported"), with(n(rep.Imported), n(rep.Skipped), i18n.T("already present"), n(rep.DetailFailures), i18n.T("failed")))
	} else if rep.Found > 0 {
		add(i18n.T("Documents"), with(n(rep.Found), n(rep.DetailFailures), i18n.T("unreadable")))
	}
	if rep.Translated+rep.TranslationSkipped+rep.TranslationFailures > 0 {
		add(i18n.T("Translated"), with(n(rep.Translated), n(rep.TranslationSkipped), i18n.T("already present"), n(rep.TranslationFailures), i18n.T("failed")))
	}
	if rep.WriteFailures > 0 {
		add(i18n.T("Unwritable"), n(rep.WriteFailures))
	}
	add(i18n.T("Categories"), n(rep.Categories))
	return lines
}

// ---------------------------------------------------------------------------
// status
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: i18n.T("Show document counts and missing or stale translations"),
		Long: `Show the stored documents per locale. A translation is missing when the
entry document has no counterpart in the locale directory, and stale when
the entry document changed after it was translated. Does not modify any
files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st := store.New()
			m, err := manifest.LoadFs(st.Fs(), cfg.OutputDir)
			if err != nil {
				logWarning("%v", err)
			}
			rep, err := collectStatus(st, cfg.Layout(), m, cfg.Locales)
			if err != nil {
				return err
			}
			printStatus(rep)
			return nil
		},
	}
}

// localeStatus holds the document counts of one locale.
type localeStatus struct {
	Locale     string
	Documents  int
	Missing    int
	Stale      int
	Untracked  int
	Bytes      int64
	Categories bool
}

// statusReport is the result of collectStatus.
type statusReport struct {
	Root    string
	Entry   localeStatus
	Locales []localeStatus
}

// collectStatus counts the documents of the entry locale and of every
// configured or present target locale. m may be nil.
func collectStatus(st *store.Store, layout store.Layout, m *manifest.Manifest, configured []string) (*statusReport, error) {
	entries, err := st.ListDocuments(layout.Root)
	if err != nil {
		return nil, err
	}
	onDisk, err := st.ListLocales(layout)
	if err != nil {
		return nil, err
	}

	rep := &statusReport{
		Root: layout.Root,
		Entry: localeStatus{
			Locale:     layout.EntryLocale,
			Documents:  len(entries),
			Bytes:      totalSize(st, layout.Root, entries),
			Categories: st.Exists(layout.CategoriesPath(layout.EntryLocale)),
		},
	}

	raws := make(map[string][]byte, len(entries))
	entryRaw := func(file string) []byte {
		if raw, ok := raws[file]; ok {
			return raw
		}
		raw, _ := st.ReadRaw(filepath.Join(layout.Root, file))
		raws[file] = raw
		return raw
	}

	for _, locale := range mergeLocales(configured, onDisk, layout.EntryLocale) {
		dir := layout.Dir(locale)
		files, err := st.ListDocuments(dir)
		if err != nil {
			return nil, err
		}
		present := make(map[string]bool, len(files))
		for _, f := range files {
			present[f] = true
		}

		ls := localeStatus{
			Locale:     locale,
			Documents:  len(files),
			Bytes:      totalSize(st, dir, files),
			Categories: st.Exists(layout.CategoriesPath(locale)),
		}
		for _, f := range entries {
			if !present[f] {
				ls.Missing++
				continue
			}
			if m == nil {
				continue
			}
			switch m.State(locale, f, entryRaw(f)) {
			case manifest.Stale:
				ls.Stale++
			case manifest.Untracked:
				ls.Untracked++
			}
		}
		rep.Locales = append(rep.Locales, ls)
	}
	return rep, nil
}

func totalSize(st *store.Store, dir string, files []string) int64 {
	var total int64
	for _, f := range files {
		if info, err := st.Fs().Stat(filepath.Join(dir, f)); err == nil {
			total += info.Size()
		}
	}
	return total
}

// mergeLocales returns the configured locales followed by the other locales
// found on disk, without the entry locale.
func mergeLocales(configured, onDisk []string, entry string) []string {
	seen := map[string]bool{entry: true}
	var out []string
	for _, l := range configured {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	var extra []string
	for _, l := range onDisk {
		if !seen[l] {
			seen[l] = true
			extra = append(extra, l)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func printStatus(rep *statusReport) {
	fmt.Fprintf(os.Stderr, "\n%s\n", color.BlueString(i18n.T("Documents")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 72))
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Root:"), rep.Root)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Entry:"), langCell(rep.Entry.Locale, 0))
	fmt.Fprintf(os.Stderr, "  %-12s %s (%s)\n", i18n.T("Documents:"), humanize.Comma(int64(rep.Entry.Documents)), humanize.Bytes(uint64(rep.Entry.Bytes)))
	if !rep.Entry.Categories {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", i18n.T("Categories:"), color.RedString(i18n.T("missing")))
	}
	fmt.Fprintln(os.Stderr)

	if len(rep.Locales) == 0 {
		logInfo(i18n.T("No target locales configured"))
		return
	}

	codes := make([]string, len(rep.Locales))
	for i, ls := range rep.Locales {
		codes[i] = ls.Locale
	}
	width := langColumnWidth(codes)

	fmt.Fprintf(os.Stderr, "  %s  %-24s %8s %8s %6s  %s\n",
		padRight(i18n.T("Locale"), width+3), i18n.T("Language"), i18n.T("Docs"), i18n.T("Missing"), i18n.T("Stale"), i18n.T("Coverage"))
	for _, ls := range rep.Locales {
		percent := 100
		if rep.Entry.Documents > 0 {
			percent = (rep.Entry.Documents - ls.Missing) * 100 / rep.Entry.Documents
		}
		stale := humanize.Comma(int64(ls.Stale))
		if ls.Stale > 0 {
			stale = color.YellowString("%6s", stale)
		}
		fmt.Fprintf(os.Stderr, "  %s  %-24s %8s %8s %6s  %s\n",
			langCell(ls.Locale, width), truncateName(langmeta.Resolve(ls.Locale).Name, 24),
			humanize.Comma(int64(ls.Documents)), humanize.Comma(int64(ls.Missing)), stale,
			progressBar(percent, 20))
		if !ls.Categories {
			fmt.Fprintf(os.Stderr, "  %s  %s\n", padRight("", width+3), color.RedString(i18n.T("categories.json missing")))
		}
	}
	fmt.Fprintln(os.Stderr)

	missing := 0
	for _, ls := range rep.Locales {
		missing += ls.Missing
	}
	if missing > 0 {
		fmt.Fprintf(os.Stderr, "  %s autosync translate\n", i18n.T("Fill the gaps with:"))
	}
	for _, ls := range rep.Locales {
		if ls.Stale > 0 {
			fmt.Fprintf(os.Stderr, "  %s autosync translate --refresh --lang %s\n", i18n.T("Update stale translations with:"), ls.Locale)
		}
	}
}

// progressBar renders percent as a colored bar of width cells.
func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	var colored string
	switch {
	case percent >= 90:
		colored = color.GreenString(bar)
	case percent >= 50:
		colored = color.YellowString(bar)
	default:
		colored = color.RedString(bar)
	}
	return fmt.Sprintf("%s %3d%%", colored, percent)
}

// flagFromRegion returns the emoji flag of a two-letter region code.
func flagFromRegion(region string) string {
	if len(region) != 2 {
		return ""
	}
	region = strings.ToUpper(region)
	var b strings.Builder
	for _, r := range region {
		if r < 'A' || r > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}

// langFlag returns the flag of the region part of a locale, if any.
func langFlag(locale string) string {
	parts := strings.Split(langmeta.Canonicalize(locale), "-")
	if len(parts) < 2 {
		return ""
	}
	return flagFromRegion(parts[len(parts)-1])
}

func langColumnWidth(locales []string) int {
	width := 0
	for _, l := range locales {
		width = max(width, len(l))
	}
	return width
}

// langCell renders "<flag> <locale>" padded to width.
func langCell(locale string, width int) string {
	flag := langFlag(locale)
	if flag == "" {
		flag = "  "
	}
	return flag + " " + padRight(locale, width)
}

func padRight(s string, width int) string {
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func truncateName(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: i18n.T("Show the effective configuration"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Path != "" {
				logInfo(i18n.T("Loaded %s"), cfg.Path)
			} else {
				logInfo(i18n.T("No %s found, using defaults and environment"), config.FileName)
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			if cfg.APIKey != "" {
				fmt.Printf("# api key from environment: %s\n", settings.MaskKey(cfg.APIKey))
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: i18n.T("Manage provider API keys"),
		Long: `Manage the API keys of the translation providers.

Keys are stored in ` + "`$XDG_DATA_HOME/autosync/auth.json`" + ` (mode 0600) and used
when neither --api-key nor AUTOSYNC_API_KEY / OPENAI_API_KEY is set.

Examples:
  autosync auth login                          Interactive provider selection
  autosync auth login --provider openai        Store an OpenAI API key
  autosync auth login --provider custom-openai Store an endpoint and key
  autosync auth logout --provider groq         Remove the Groq key
  autosync auth logout                         Remove all keys
  autosync auth list                           Show stored keys`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
	)
	return cmd
}

// providerHelp holds the key page of each provider.
var providerHelp = map[string]string{
	translate.ProviderOpenAI:    "https://platform.openai.com/api-keys",
	translate.ProviderGroq:      "https://console.groq.com/keys",
	translate.ProviderGoogle:    "https://aistudio.google.com/apikey",
	translate.ProviderAnthropic: "https://console.anthropic.com/settings/keys",
}

func newAuthLoginCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "login",
		Short: i18n.T("Store an API key for a provider"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				if err := survey.AskOne(&survey.Select{
					Message: i18n.T("Provider:"),
					Options: translate.ProviderIDs(),
					Description: func(value string, index int) string {
						p, _ := translate.LookupProvider(value)
						return p.Name
					},
				}, &provider); err != nil {
					return err
				}
			}

			prov, ok := translate.LookupProvider(provider)
			if !ok {
				return fmt.Errorf(i18n.T("unknown provider %q (valid: %s)"), provider, strings.Join(translate.ProviderIDs(), ", "))
			}

			switch prov.ID {
			case translate.ProviderOllama:
				logInfo(i18n.T("Ollama runs locally and needs no API key"))
				return nil
			case translate.ProviderCustomOpenAI:
				return authLoginCustomOpenAI()
			default:
				return authLoginAPIKey(prov)
			}
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to configure")
	return cmd
}

func authLoginAPIKey(prov translate.Provider) error {
	fmt.Fprintf(os.Stderr, "\n%s\n", color.BlueString(prov.Name+" — "+i18n.T("API Key Setup")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	if url := providerHelp[prov.ID]; url != "" {
		fmt.Fprintf(os.Stderr, "  %s %s\n\n", i18n.T("Get your API key from:"), color.GreenString(url))
	}

	message := i18n.T("API key:")
	existing := settings.GetAPIKey(prov.ID)
	if existing != "" {
		message = fmt.Sprintf(i18n.T("API key (Enter keeps %s):"), settings.MaskKey(existing))
	}

	var key string
	if err := survey.AskOne(&survey.Password{Message: message}, &key); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		if existing != "" {
			logInfo(i18n.T("Keeping existing key"))
			return nil
		}
		return errors.New(i18n.T("no API key provided"))
	}

	if err := settings.SetAPIKey(prov.ID, key); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}
	logSuccess(i18n.T("%s API key saved to %s"), prov.Name, settings.FilePath())
	return nil
}

func authLoginCustomOpenAI() error {
	existing := settings.Get(translate.ProviderCustomOpenAI)

	var baseURL string
	input := &survey.Input{Message: i18n.T("Endpoint URL (e.g. https://api.example.com/v1):")}
	if existing != nil {
		input.Default = existing.BaseURL
	}
	if err := survey.AskOne(input, &baseURL, survey.WithValidator(survey.Required)); err != nil {
		return err
	}

	var key string
	if err := survey.AskOne(&survey.Password{Message: i18n.T("API key (optional):")}, &key); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" && existing != nil {
		key = existing.Key
	}

	if err := settings.SetAPIKeyWithBaseURL(translate.ProviderCustomOpenAI, key, strings.TrimSpace(baseURL)); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	logSuccess(i18n.T("Custom OpenAI endpoint saved"))
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: i18n.T("Remove stored API keys"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider != "" {
				if err := settings.Remove(provider); err != nil {
					return fmt.Errorf("removing %s credentials: %w", provider, err)
				}
				logSuccess(i18n.T("%s credentials removed"), provider)
				return nil
			}
			if err := settings.RemoveAll(); err != nil {
				return err
			}
			logSuccess(i18n.T("All stored credentials removed"))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to logout (default: all)")
	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   i18n.T("Show stored API keys"),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "\n%s\n", color.BlueString(i18n.T("Stored Credentials")))
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			stored := settings.Load()
			for _, id := range translate.ProviderIDs() {
				entry := stored[id]
				switch {
				case id == translate.ProviderOllama:
					fmt.Fprintf(os.Stderr, "  %-14s %s\n", id, i18n.T("no key needed"))
				case entry != nil && (entry.Key != "" || entry.BaseURL != ""):
					status := color.GreenString(i18n.T("configured"))
					if entry.Key != "" {
						status += " (" + settings.MaskKey(entry.Key) + ")"
					}
					if entry.BaseURL != "" {
						status += " " + entry.BaseURL
					}
					fmt.Fprintf(os.Stderr, "  %-14s %s\n", id, status)
				default:
					fmt.Fprintf(os.Stderr, "  %-14s %s\n", id, color.RedString(i18n.T("not configured")))
				}
			}

			fmt.Fprintf(os.Stderr, "\n  %s\n", color.YellowString(i18n.T("Environment Variables")))
			for _, name := range []string{"AUTOSYNC_API_KEY", "OPENAI_API_KEY"} {
				if v := os.Getenv(name); v != "" {
					fmt.Fprintf(os.Stderr, "  %-17s %s %s\n", name+":", color.GreenString(settings.MaskKey(v)), i18n.T("(overrides stored keys)"))
				} else {
					fmt.Fprintf(os.Stderr, "  %-17s %s\n", name+":", color.RedString(i18n.T("not set")))
				}
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// loadConfig loads the configuration of workDir and anchors relative output
// paths there.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(cfg.OutputDir) {
		cfg.OutputDir = filepath.Join(workDir, cfg.OutputDir)
	}
	if cfg.Path != "" {
		logVerbose(i18n.T("Loaded %s"), cfg.Path)
	}
	return cfg, nil
}

// parseLocales splits a --lang value into canonical locale tags.
func parseLocales(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range config.SplitList(s) {
		l = langmeta.Canonicalize(l)
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// resolveProvider merges flags, configuration and stored credentials into a
// provider definition. Flags win over the configuration.
func resolveProvider(cfg *config.Config, pf providerFlags) (translate.Provider, settings.KeySource, error) {
	id := strings.ToLower(firstNonEmpty(pf.provider, cfg.Translation.Provider, translate.ProviderOpenAI))
	prov, ok := translate.LookupProvider(id)
	if !ok {
		return prov, settings.SourceNone, fmt.Errorf(i18n.T("unknown provider %q (valid: %s)"), id, strings.Join(translate.ProviderIDs(), ", "))
	}

	prov.BaseURL = firstNonEmpty(pf.baseURL, cfg.Translation.BaseURL, prov.BaseURL)
	if prov.ID == translate.ProviderCustomOpenAI && prov.BaseURL == "" {
		prov.BaseURL = settings.GetBaseURL(prov.ID)
	}
	prov.Model = firstNonEmpty(pf.model, cfg.Translation.Model, prov.Model)
	prov.Proxy = firstNonEmpty(pf.proxy, cfg.Translation.Proxy)
	if pf.timeout > 0 {
		prov.Timeout = pf.timeout
	} else if d := cfg.TranslationTimeout(); d > 0 {
		prov.Timeout = d
	}

	var src settings.KeySource
	prov.APIKey, src = settings.ResolveAPIKey(prov.ID, pf.apiKey, cfg.APIKey)

	switch {
	case prov.BaseURL == "":
		return prov, src, fmt.Errorf(i18n.T("provider %q requires an endpoint URL: run 'autosync auth login --provider %s' or pass --base-url"), prov.ID, prov.ID)
	case prov.Model == "":
		return prov, src, fmt.Errorf(i18n.T("provider %q requires a model: set OPENAI_MODEL_NAME, translation.model or --model"), prov.ID)
	}
	return prov, src, nil
}

// newTranslator builds the translation client for cfg and the flags.
func newTranslator(cfg *config.Config, pf providerFlags) (*translate.Client, error) {
	prov, src, err := resolveProvider(cfg, pf)
	if err != nil {
		return nil, err
	}
	if src != settings.SourceNone {
		logVerbose(i18n.T("Using %s API key from %s"), prov.Name, src)
	}

	opts := translate.Options{
		Provider:          prov,
		SystemPrompt:      firstNonEmpty(pf.prompt, cfg.Translation.Prompt),
		MaxRetries:        cfg.Translation.MaxRetries,
		RequestsPerSecond: cfg.Translation.RequestsPerSecond,
		OnLog:             logVerbose,
		OnError:           logWarning,
		Verbose:           verbose,
	}
	if pf.maxRetries > 0 {
		opts.MaxRetries = pf.maxRetries
	}
	if pf.rps > 0 {
		opts.RequestsPerSecond = pf.rps
	}

	tr, err := translate.New(opts)
	if errors.Is(err, translate.ErrMissingAPIKey) {
		return nil, fmt.Errorf(i18n.T("%w\n\nStore a key with:  autosync auth login --provider %s\nor set AUTOSYNC_API_KEY / OPENAI_API_KEY, or pass --api-key"), err, prov.ID)
	}
	return tr, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
