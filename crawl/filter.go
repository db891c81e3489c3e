package crawl

import (
	"strings"
	"time"

	"github.com/unitalk-ai/autosync/catalog"
)

// createdAtLayouts are the timestamp formats accepted in catalog summaries.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Filter decides which catalog entries are imported.
type Filter struct {
	// Cutoff is the oldest accepted creation time; zero disables the check.
	Cutoff time.Time
	// Keywords excludes entries whose name or description contains any of
	// them, case-insensitively.
	Keywords []string
}

// NewFilter returns a filter accepting entries created in the last
// windowMonths calendar months before now (0 = any age) that mention none
// of keywords.
func NewFilter(now time.Time, windowMonths int, keywords []string) Filter {
	f := Filter{}
	if windowMonths > 0 {
		f.Cutoff = now.AddDate(0, -windowMonths, 0)
	}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			f.Keywords = append(f.Keywords, k)
		}
	}
	return f
}

// Allow reports whether s passes the filter, and why not when it doesn't.
func (f Filter) Allow(s catalog.Summary) (bool, string) {
	if strings.TrimSpace(s.CreatedAt) == "" {
		return false, "no creation date"
	}
	created, ok := parseCreatedAt(s.CreatedAt)
	if !ok {
		return false, "unreadable creation date " + s.CreatedAt
	}
	if !f.Cutoff.IsZero() && created.Before(f.Cutoff) {
		return false, "created " + created.Format("2006-01-02") + ", before " + f.Cutoff.Format("2006-01-02")
	}

	name := strings.ToLower(s.Name)
	desc := strings.ToLower(s.Description)
	for _, k := range f.Keywords {
		if strings.Contains(name, k) || strings.Contains(desc, k) {
			return false, "mentions " + k
		}
	}
	return true, ""
}

func parseCreatedAt(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
