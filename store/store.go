// Package store persists workflow documents and category lists in the
// on-disk layout served by the read-only automation API:
//
//	automation/<name>.json                  entry-locale documents
//	automation/categories.json              entry-locale categories
//	automation/i18n/<locale>/<name>.json    translated documents
//	automation/i18n/<locale>/categories.json
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/unitalk-ai/autosync/category"
	"github.com/unitalk-ai/autosync/jsontree"
)

const (
	// DefaultRoot is the entry-locale document directory.
	DefaultRoot = "automation"
	// CategoriesFile is the category list file name in every locale directory.
	CategoriesFile = "categories.json"
	// MaxNameLength is the maximum length of a sanitized name, in runes.
	MaxNameLength = 200
)

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// Layout maps locales to directories.
type Layout struct {
	// Root holds entry-locale documents.
	Root string
	// I18nDir holds one sub-directory per target locale.
	I18nDir string
	// EntryLocale is the locale stored directly in Root.
	EntryLocale string
}

// DefaultLayout returns the standard layout rooted at "automation".
func DefaultLayout(entryLocale string) Layout {
	return NewLayout(DefaultRoot, entryLocale)
}

// NewLayout returns a layout rooted at root, with translations under
// root/i18n.
func NewLayout(root, entryLocale string) Layout {
	return Layout{
		Root:        root,
		I18nDir:     filepath.Join(root, "i18n"),
		EntryLocale: entryLocale,
	}
}

// Dir returns the directory holding documents of the given locale.
func (l Layout) Dir(locale string) string {
	if locale == "" || locale == l.EntryLocale {
		return l.Root
	}
	return filepath.Join(l.I18nDir, locale)
}

// DocumentPath returns the file path of the document named name. The
// category list file name is reserved: a document named "categories" is
// stored as "categories-1.json".
func (l Layout) DocumentPath(locale, name string) string {
	stem := SanitizeName(name)
	if strings.EqualFold(stem+".json", CategoriesFile) {
		stem += "-1"
	}
	return filepath.Join(l.Dir(locale), stem+".json")
}

// CategoriesPath returns the path of the locale's category list.
func (l Layout) CategoriesPath(locale string) string {
	return filepath.Join(l.Dir(locale), CategoriesFile)
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

var (
	unsafeChars = regexp.MustCompile(`[\\/:*?"<>|#]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// SanitizeName turns a document name into a portable file name stem:
// path and shell metacharacters become "-", whitespace runs collapse to a
// single space, trailing dots and spaces are removed and the result is cut
// to MaxNameLength runes. A name with nothing left becomes "untitled".
func SanitizeName(raw string) string {
	s := unsafeChars.ReplaceAllString(raw, "-")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, " .")

	if utf8.RuneCountInString(s) > MaxNameLength {
		s = string([]rune(s)[:MaxNameLength])
		s = strings.TrimRight(s, " .")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store reads and writes documents. Writes are atomic (temp file + rename),
// so readers never observe a partially written document. It is safe for
// concurrent use on distinct paths.
type Store struct {
	fs     afero.Fs
	writes atomic.Int64
}

// New returns a store on the real filesystem.
func New() *Store {
	return NewWithFs(afero.NewOsFs())
}

// NewWithFs returns a store on the given filesystem.
func NewWithFs(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Writes returns the number of files written since the store was created.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}

// EnsureDir creates path and its parents. A path ending in ".json" is
// treated as a file and its parent directory is created instead.
func (s *Store) EnsureDir(path string) error {
	dir := path
	if strings.HasSuffix(path, ".json") {
		dir = filepath.Dir(path)
	}
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether path exists.
func (s *Store) Exists(path string) bool {
	_, err := s.fs.Stat(path)
	return err == nil
}

// Write encodes doc as indented JSON and replaces path with it, creating
// parent directories as needed.
func (s *Store) Write(doc jsontree.Value, path string) error {
	data, err := jsontree.MarshalIndent(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return s.writeFile(path, data)
}

// WriteIfAbsentOrForced writes doc unless path already exists and refresh is
// false. It reports whether a write happened.
func (s *Store) WriteIfAbsentOrForced(doc jsontree.Value, path string, refresh bool) (bool, error) {
	if !refresh && s.Exists(path) {
		return false, nil
	}
	if err := s.Write(doc, path); err != nil {
		return false, err
	}
	return true, nil
}

// WriteCategories writes cats, sorted by ID, to dir/categories.json.
func (s *Store) WriteCategories(cats []category.Category, dir string) error {
	sorted := make([]category.Category, len(cats))
	copy(sorted, cats)
	category.Sort(sorted)
	return s.Write(category.ToTree(sorted), filepath.Join(dir, CategoriesFile))
}

func (s *Store) writeFile(path string, data []byte) error {
	if err := s.EnsureDir(path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := s.fs.Chmod(tmpName, 0644); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	s.writes.Add(1)
	return nil
}

// ReadDocument loads a document. A missing or corrupt file yields false.
func (s *Store) ReadDocument(path string) (jsontree.Value, bool) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, false
	}
	doc, err := jsontree.Parse(data)
	if err != nil {
		return nil, false
	}
	return doc, true
}

// ReadRaw returns the bytes of path.
func (s *Store) ReadRaw(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}

// ReadCategories loads a category list. A missing or corrupt file yields an
// empty list.
func (s *Store) ReadCategories(path string) []category.Category {
	doc, ok := s.ReadDocument(path)
	if !ok {
		return nil
	}
	return category.FromTree(doc)
}

// ListDocuments returns the names of the document files in dir, sorted,
// excluding the category list. A missing directory yields no names.
func (s *Store) ListDocuments(dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || !strings.HasSuffix(name, ".json") || name == CategoriesFile || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListLocales returns the locale directories present under the layout's
// i18n directory, sorted.
func (s *Store) ListLocales(l Layout) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, l.I18nDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", l.I18nDir, err)
	}

	var locales []string
	for _, info := range infos {
		if info.IsDir() {
			locales = append(locales, info.Name())
		}
	}
	sort.Strings(locales)
	return locales, nil
}
