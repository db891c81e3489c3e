// Package category collects the category taxonomy referenced by workflow
// templates and keeps it deduplicated by ID.
package category

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/samber/lo"

	"github.com/unitalk-ai/autosync/jsontree"
)

// Category is a taxonomy label attached to workflow templates.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FromDocument returns the categories listed in a workflow document, in
// document order, first occurrence per ID. A missing or malformed
// "categories" field yields nil; entries without a numeric id are skipped.
func FromDocument(doc jsontree.Value) []Category {
	obj, ok := doc.(*jsontree.Object)
	if !ok {
		return nil
	}
	raw, ok := obj.Get("categories")
	if !ok {
		return nil
	}
	return FromTree(raw)
}

// FromTree converts a category list tree ([{"id":1,"name":"AI"}, ...]) into
// records. Elements that are not objects or lack a numeric id are skipped.
func FromTree(v jsontree.Value) []Category {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []Category
	for _, item := range items {
		obj, ok := item.(*jsontree.Object)
		if !ok {
			continue
		}
		rawID, _ := obj.Get("id")
		id, ok := parseID(rawID)
		if !ok {
			continue
		}
		name, _ := obj.Get("name")
		s, _ := name.(string)
		out = append(out, Category{ID: id, Name: s})
	}
	return lo.UniqBy(out, func(c Category) int64 { return c.ID })
}

// ToTree converts categories into a list tree suitable for the selector
// engine and for encoding.
func ToTree(cats []Category) jsontree.Value {
	out := make([]any, 0, len(cats))
	for _, c := range cats {
		obj := jsontree.NewObject()
		obj.Set("id", json.Number(strconv.FormatInt(c.ID, 10)))
		obj.Set("name", c.Name)
		out = append(out, obj)
	}
	return out
}

// Merge unions existing with every list. The first occurrence of an ID wins,
// so names already known are never replaced by later duplicates. The result
// is sorted ascending by ID and shares no memory with the inputs.
func Merge(existing []Category, lists ...[]Category) []Category {
	all := make([]Category, 0, len(existing))
	all = append(all, existing...)
	for _, l := range lists {
		all = append(all, l...)
	}

	out := lo.UniqBy(all, func(c Category) int64 { return c.ID })
	Sort(out)
	return out
}

// Sort orders categories ascending by ID, in place.
func Sort(cats []Category) {
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].ID < cats[j].ID })
}

func parseID(v jsontree.Value) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if id, err := t.Int64(); err == nil {
			return id, true
		}
		// ids such as 3.0
		if f, err := t.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
	}
	return 0, false
}
