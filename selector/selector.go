// Package selector extracts and re-injects translatable strings inside a
// JSON document tree using declarative path patterns.
//
// A selector is either a fixed path ("a.b.c") or a path with one array
// wildcard ("a[].b.c"), which applies "b.c" to every element of the array
// found at "a". An empty array path ("[].name") addresses a document whose
// root is an array. Extracted entries are keyed by their concrete path
// ("a[2].b.c"), which Inject accepts back unchanged.
//
// Keys containing '.', '[' or ']' cannot be addressed.
package selector

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/unitalk-ai/autosync/jsontree"
)

var (
	// ErrMultipleWildcards is returned for selectors with more than one "[]".
	ErrMultipleWildcards = errors.New("only one [] wildcard is supported")
	// ErrUnknownPath is returned by Inject when a path does not name an
	// existing string value.
	ErrUnknownPath = errors.New("path does not resolve to a string value")
	// ErrNothingToTranslate signals that a document has no extractable text.
	ErrNothingToTranslate = errors.New("nothing to translate")
)

// DefaultWorkflow lists the translatable fields of a workflow template.
var DefaultWorkflow = []string{
	"name",
	"description",
	"categories[].name",
	"nodes[].defaults.name",
	"nodes[].defaults.content",
}

// DefaultCategories addresses the names in a category list.
var DefaultCategories = []string{"[].name"}

// segment is a single path step: an object key or an array index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

// Selector is a parsed path pattern.
type Selector struct {
	raw      string
	wildcard bool
	array    []segment // path to the array, wildcard selectors only
	field    []segment // path relative to each element, or the full fixed path
}

// Entry is one extracted string and its concrete path.
type Entry struct {
	Path  string
	Value string
}

// Parse parses a selector pattern.
func Parse(pattern string) (Selector, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Selector{}, errors.New("empty selector")
	}

	switch strings.Count(pattern, "[]") {
	case 0:
		field, err := parsePath(pattern)
		if err != nil {
			return Selector{}, fmt.Errorf("selector %q: %w", pattern, err)
		}
		return Selector{raw: pattern, field: field}, nil

	case 1:
		arrayPart, fieldPart, _ := strings.Cut(pattern, "[]")
		var array []segment
		if arrayPart != "" {
			var err error
			if array, err = parsePath(arrayPart); err != nil {
				return Selector{}, fmt.Errorf("selector %q: %w", pattern, err)
			}
		}
		var field []segment
		if fieldPart != "" {
			if fieldPart[0] == '.' {
				fieldPart = fieldPart[1:]
			} else if fieldPart[0] != '[' {
				return Selector{}, fmt.Errorf("selector %q: expected '.' after []", pattern)
			}
			var err error
			if field, err = parsePath(fieldPart); err != nil {
				return Selector{}, fmt.Errorf("selector %q: %w", pattern, err)
			}
		}
		return Selector{raw: pattern, wildcard: true, array: array, field: field}, nil

	default:
		return Selector{}, fmt.Errorf("selector %q: %w", pattern, ErrMultipleWildcards)
	}
}

// ParseAll parses every pattern, failing on the first invalid one.
func ParseAll(patterns []string) ([]Selector, error) {
	out := make([]Selector, 0, len(patterns))
	for _, p := range patterns {
		s, err := Parse(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// MustParseAll is like ParseAll but panics on error. Intended for
// package-level defaults.
func MustParseAll(patterns []string) []Selector {
	out, err := ParseAll(patterns)
	if err != nil {
		panic(err)
	}
	return out
}

// String returns the original pattern.
func (s Selector) String() string {
	return s.raw
}

// Wildcard reports whether the selector iterates an array.
func (s Selector) Wildcard() bool {
	return s.wildcard
}

// ---------------------------------------------------------------------------
// Extract / Inject
// ---------------------------------------------------------------------------

// Extract resolves every selector against doc and returns the string values
// that have non-whitespace content. Missing keys, type mismatches and
// non-array wildcard targets produce no entries. Entries follow selector
// order, then array index order; a concrete path is reported once.
func Extract(doc jsontree.Value, selectors []Selector) []Entry {
	var entries []Entry
	seen := make(map[string]bool)

	add := func(path []segment, v jsontree.Value) {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return
		}
		p := formatPath(path)
		if seen[p] {
			return
		}
		seen[p] = true
		entries = append(entries, Entry{Path: p, Value: s})
	}

	for _, sel := range selectors {
		if !sel.wildcard {
			if v, ok := resolve(doc, sel.field); ok {
				add(sel.field, v)
			}
			continue
		}

		target, ok := resolve(doc, sel.array)
		if !ok {
			continue
		}
		items, ok := target.([]any)
		if !ok {
			continue
		}
		for i, item := range items {
			v, ok := resolve(item, sel.field)
			if !ok {
				continue
			}
			path := make([]segment, 0, len(sel.array)+1+len(sel.field))
			path = append(path, sel.array...)
			path = append(path, segment{index: i, isIndex: true})
			path = append(path, sel.field...)
			add(path, v)
		}
	}

	return entries
}

// Inject returns a deep copy of doc with every entry written at its concrete
// path. Every path must name a string that already exists in doc; Inject
// never creates structure. doc itself is never modified.
func Inject(doc jsontree.Value, entries []Entry) (jsontree.Value, error) {
	out := jsontree.Clone(doc)
	for _, e := range entries {
		path, err := parsePath(e.Path)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", e.Path, err)
		}
		if err := assign(out, path, e.Value); err != nil {
			return nil, fmt.Errorf("path %q: %w", e.Path, err)
		}
	}
	return out, nil
}

// Map converts entries into a path → value map.
func Map(entries []Entry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Path] = e.Value
	}
	return m
}

// Entries converts a path → value map into entries sorted by path.
func Entries(m map[string]string) []Entry {
	out := make([]Entry, 0, len(m))
	for p, v := range m {
		out = append(out, Entry{Path: p, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ---------------------------------------------------------------------------
// Path handling
// ---------------------------------------------------------------------------

func resolve(v jsontree.Value, path []segment) (jsontree.Value, bool) {
	cur := v
	for _, seg := range path {
		if seg.isIndex {
			arr, ok := cur.([]any)
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
			continue
		}
		obj, ok := cur.(*jsontree.Object)
		if !ok {
			return nil, false
		}
		if cur, ok = obj.Get(seg.key); !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(root jsontree.Value, path []segment, value string) error {
	if len(path) == 0 {
		return ErrUnknownPath
	}
	parent, ok := resolve(root, path[:len(path)-1])
	if !ok {
		return ErrUnknownPath
	}

	last := path[len(path)-1]
	if last.isIndex {
		arr, ok := parent.([]any)
		if !ok || last.index < 0 || last.index >= len(arr) {
			return ErrUnknownPath
		}
		if _, ok := arr[last.index].(string); !ok {
			return ErrUnknownPath
		}
		arr[last.index] = value
		return nil
	}

	obj, ok := parent.(*jsontree.Object)
	if !ok {
		return ErrUnknownPath
	}
	cur, ok := obj.Get(last.key)
	if !ok {
		return ErrUnknownPath
	}
	if _, ok := cur.(string); !ok {
		return ErrUnknownPath
	}
	obj.Set(last.key, value)
	return nil
}

// parsePath parses a concrete path such as "nodes[3].defaults.name".
func parsePath(s string) ([]segment, error) {
	var path []segment
	i := 0
	for i < len(s) {
		switch s[i] {
		case '.':
			if i == 0 || i+1 >= len(s) || s[i+1] == '.' || s[i+1] == '[' {
				return nil, errors.New("empty key")
			}
			i++

		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, errors.New("unterminated [")
			}
			inner := s[i+1 : i+end]
			if inner == "" {
				return nil, ErrMultipleWildcards
			}
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q", inner)
			}
			path = append(path, segment{index: idx, isIndex: true})
			i += end + 1
			if i < len(s) && s[i] != '.' && s[i] != '[' {
				return nil, fmt.Errorf("unexpected %q after index", s[i])
			}

		case ']':
			return nil, errors.New("unexpected ]")

		default:
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != ']' {
				j++
			}
			path = append(path, segment{key: s[i:j]})
			i = j
		}
	}
	if len(path) == 0 {
		return nil, errors.New("empty path")
	}
	return path, nil
}

func formatPath(path []segment) string {
	var b strings.Builder
	for i, seg := range path {
		if seg.isIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.key)
	}
	return b.String()
}
