// Package manifest implements autosync.lock, which records for every
// translated document the MD5 checksum of the entry-locale document it was
// produced from. Comparing the checksum with the current entry document
// tells which translations are out of date.
//
// The manifest is stored in the output root as autosync.lock.
package manifest

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileName is the manifest file name.
const FileName = "autosync.lock"

// Version is the manifest format version.
const Version = 1

// State describes a translated document relative to its entry document.
type State int

const (
	// Untracked: no checksum recorded (written by hand or by an older run).
	Untracked State = iota
	// Fresh: produced from the current entry document.
	Fresh
	// Stale: the entry document changed since the translation was written.
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "untracked"
	}
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Manifest represents the autosync.lock file structure.
type Manifest struct {
	Version   int                          `yaml:"version"`
	Checksums map[string]map[string]string `yaml:"checksums"` // locale -> file -> md5

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
	fs   afero.Fs   `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads the manifest from dir on the OS filesystem. A missing file
// yields an empty manifest.
func Load(dir string) (*Manifest, error) {
	return LoadFs(afero.NewOsFs(), dir)
}

// LoadFs is Load on fs. Save writes back to the same filesystem.
func LoadFs(fs afero.Fs, dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	m := &Manifest{
		Version:   Version,
		Checksums: make(map[string]map[string]string),
		path:      path,
		fs:        fs,
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m.path = path
	m.fs = fs
	if m.Checksums == nil {
		m.Checksums = make(map[string]map[string]string)
	}
	return m, nil
}

// Save writes the manifest to disk.
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return fmt.Errorf("manifest path not set")
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(m.path), err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := afero.WriteFile(m.fs, m.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", m.path, err)
	}
	return nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// ---------------------------------------------------------------------------
// Checksums
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of data.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// FileKey normalizes a document file name for use as a manifest key.
func FileKey(name string) string {
	return filepath.ToSlash(filepath.Base(name))
}

// Record stores the checksum of the entry document a translation of file
// was produced from.
func (m *Manifest) Record(locale, file string, entry []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Checksums[locale] == nil {
		m.Checksums[locale] = make(map[string]string)
	}
	m.Checksums[locale][FileKey(file)] = Hash(entry)
}

// State compares the recorded checksum with the current entry document.
func (m *Manifest) State(locale, file string, entry []byte) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.Checksums[locale][FileKey(file)]
	if !ok {
		return Untracked
	}
	if old != Hash(entry) {
		return Stale
	}
	return Fresh
}

// Stale reports whether the translation of file was produced from a
// different entry document than entry.
func (m *Manifest) Stale(locale, file string, entry []byte) bool {
	return m.State(locale, file, entry) == Stale
}

// Clean removes checksums of files no longer present in the entry locale.
func (m *Manifest) Clean(locale string, currentFiles []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.Checksums[locale]
	if existing == nil {
		return
	}

	valid := make(map[string]bool, len(currentFiles))
	for _, f := range currentFiles {
		valid[FileKey(f)] = true
	}
	for k := range existing {
		if !valid[k] {
			delete(existing, k)
		}
	}
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of locales and total files in the manifest.
func (m *Manifest) Stats() (locales, files int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	locales = len(m.Checksums)
	for _, f := range m.Checksums {
		files += len(f)
	}
	return
}

// Locales returns the sorted list of locales with recorded checksums.
func (m *Manifest) Locales() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.Checksums))
	for l := range m.Checksums {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Summary returns a human-readable summary string.
func (m *Manifest) Summary() string {
	locales, files := m.Stats()
	if locales == 0 {
		return "empty"
	}

	var parts []string
	for _, l := range m.Locales() {
		m.mu.Lock()
		n := len(m.Checksums[l])
		m.mu.Unlock()
		parts = append(parts, fmt.Sprintf("%s: %d files", l, n))
	}
	return fmt.Sprintf("%d locales, %d files (%s)", locales, files, strings.Join(parts, ", "))
}
