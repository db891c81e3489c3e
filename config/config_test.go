package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every recognized variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"N8N_HOST", "ENTRY_LOCALE", "OPENAI_MODEL_NAME", "OPENAI_PROXY_URL",
		"OPENAI_API_KEY", "AUTOSYNC_API_KEY", "AUTOSYNC_PROVIDER",
		"AUTOSYNC_LOCALES", "AUTOSYNC_OUTPUT_DIR",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty", cfg.Path)
	}
	if cfg.OutputDir != "automation" || cfg.EntryLocale != "en-US" {
		t.Errorf("OutputDir/EntryLocale = %q/%q", cfg.OutputDir, cfg.EntryLocale)
	}
	if !reflect.DeepEqual(cfg.Locales, []string{"fr-FR"}) {
		t.Errorf("Locales = %v, want [fr-FR]", cfg.Locales)
	}

	cc := cfg.Crawl()
	if cc.PageSize != 100 || cc.WindowMonths != 18 || cc.PageDelay != time.Second {
		t.Errorf("Crawl() = %+v", cc)
	}
	if !reflect.DeepEqual(cc.ExcludeKeywords, []string{"mcp"}) {
		t.Errorf("ExcludeKeywords = %v", cc.ExcludeKeywords)
	}
	if len(cc.Selectors) != 5 {
		t.Errorf("default selectors = %d, want 5", len(cc.Selectors))
	}
	if got := cfg.TranslationTimeout(); got != 2*time.Minute {
		t.Errorf("TranslationTimeout() = %v", got)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
host: https://templates.example.com
output_dir: out
locales: [fr_fr, de-DE, fr-FR]
window_months: 0
page_delay: 0s
selectors:
  - name
  - steps[].title
translation:
  provider: groq
  model: llama-3.3-70b-versatile
  requests_per_second: 2
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != filepath.Join(dir, FileName) {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Host != "https://templates.example.com" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if !reflect.DeepEqual(cfg.Locales, []string{"fr-FR", "de-DE"}) {
		t.Errorf("Locales = %v, want [fr-FR de-DE]", cfg.Locales)
	}
	if cfg.Translation.Provider != "groq" || cfg.Translation.RequestsPerSecond != 2 {
		t.Errorf("Translation = %+v", cfg.Translation)
	}
	if cfg.Translation.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", cfg.Translation.MaxRetries)
	}

	cc := cfg.Crawl()
	if cc.WindowMonths != 0 || cc.PageDelay != 0 {
		t.Errorf("WindowMonths/PageDelay = %d/%v, want 0/0", cc.WindowMonths, cc.PageDelay)
	}
	if len(cc.Selectors) != 2 || cc.Selectors[1].String() != "steps[].title" {
		t.Errorf("Selectors = %v", cc.Selectors)
	}
	if l := cfg.Layout(); l.Root != "out" || l.I18nDir != filepath.Join("out", "i18n") {
		t.Errorf("Layout() = %+v", l)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "host: http://from-file\nlocales: [es-ES]\n")

	t.Setenv("N8N_HOST", "http://from-env")
	t.Setenv("AUTOSYNC_LOCALES", "it-IT, ja-JP")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("AUTOSYNC_API_KEY", "sk-autosync")
	t.Setenv("OPENAI_PROXY_URL", "http://proxy.local/v1")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "http://from-env" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if !reflect.DeepEqual(cfg.Locales, []string{"it-IT", "ja-JP"}) {
		t.Errorf("Locales = %v", cfg.Locales)
	}
	if cfg.APIKey != "sk-autosync" {
		t.Errorf("APIKey = %q, AUTOSYNC_API_KEY must win", cfg.APIKey)
	}
	if cfg.Translation.BaseURL != "http://proxy.local/v1" {
		t.Errorf("BaseURL = %q", cfg.Translation.BaseURL)
	}

	out, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(out), "sk-") {
		t.Errorf("Marshal leaked the API key:\n%s", out)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, EnvFileName), "N8N_HOST=http://dotenv\nENTRY_LOCALE=en_gb\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "http://dotenv" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.EntryLocale != "en-GB" {
		t.Errorf("EntryLocale = %q, want en-GB", cfg.EntryLocale)
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, EnvFileName), "N8N_HOST=http://dotenv\n")
	t.Setenv("N8N_HOST", "http://shell")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "http://shell" {
		t.Errorf("Host = %q, want the shell value", cfg.Host)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "hots: http://typo\n", "hots"},
		{"bad duration", "page_delay: soon\n", "page_delay"},
		{"negative page size", "page_size: -1\n", "page_size"},
		{"negative window", "window_months: -3\n", "window_months"},
		{"bad selector", "selectors: [\"a[].b[].c\"]\n", "selectors"},
		{"not yaml", "host: [unclosed\n", "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, FileName), tt.content)

			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load: want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), FileName) {
				t.Errorf("error %q does not name the file", err)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" fr-FR,de-DE ;; es-ES ")
	want := []string{"fr-FR", "de-DE", "es-ES"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
	if got := SplitList(""); len(got) != 0 {
		t.Errorf("SplitList(\"\") = %v", got)
	}
}
