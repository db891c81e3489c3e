package crawl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/unitalk-ai/autosync/catalog"
)

func TestFilterAllow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	f := NewFilter(now, 18, []string{"MCP"})

	tests := []struct {
		name    string
		summary catalog.Summary
		want    bool
	}{
		{
			name:    "recent",
			summary: catalog.Summary{ID: 1, Name: "Slack digest", CreatedAt: now.AddDate(0, -1, 0).Format(time.RFC3339)},
			want:    true,
		},
		{
			name:    "24 months old without keyword",
			summary: catalog.Summary{ID: 2, Name: "Old flow", Description: "plain", CreatedAt: now.AddDate(0, -24, 0).Format(time.RFC3339)},
			want:    false,
		},
		{
			name:    "1 month old MCP connector",
			summary: catalog.Summary{ID: 3, Name: "MCP Connector", CreatedAt: now.AddDate(0, -1, 0).Format(time.RFC3339)},
			want:    false,
		},
		{
			name:    "keyword in description",
			summary: catalog.Summary{ID: 4, Name: "Agent", Description: "Uses an mcp server", CreatedAt: "2025-05-01T08:00:00.000Z"},
			want:    false,
		},
		{
			name:    "missing createdAt",
			summary: catalog.Summary{ID: 5, Name: "No date"},
			want:    false,
		},
		{
			name:    "unparseable createdAt",
			summary: catalog.Summary{ID: 6, Name: "Bad date", CreatedAt: "yesterday"},
			want:    false,
		},
		{
			name:    "exactly at cutoff",
			summary: catalog.Summary{ID: 7, Name: "Edge", CreatedAt: now.AddDate(0, -18, 0).Format(time.RFC3339)},
			want:    true,
		},
		{
			name:    "date only",
			summary: catalog.Summary{ID: 8, Name: "Date only", CreatedAt: "2025-01-02"},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := f.Allow(tt.summary)
			assert.Equal(t, tt.want, got, reason)
			if !got {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestFilterWithoutWindow(t *testing.T) {
	f := NewFilter(time.Now(), 0, nil)
	ok, _ := f.Allow(catalog.Summary{Name: "MCP", CreatedAt: "2001-01-01"})
	assert.True(t, ok)
}
