package selector

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitalk-ai/autosync/jsontree"
)

func mustTree(t *testing.T, src string) jsontree.Value {
	t.Helper()
	v, err := jsontree.Parse([]byte(src))
	require.NoError(t, err)
	return v
}

func TestParse(t *testing.T) {
	tests := []struct {
		in       string
		wildcard bool
		wantErr  bool
	}{
		{"name", false, false},
		{"nodes[].defaults.name", true, false},
		{"[].name", true, false},
		{"items[]", true, false},
		{"a.b[2].c", false, false},
		{"", false, true},
		{"a[].b[].c", false, true},
		{"a..b", false, true},
		{".a", false, true},
		{"a[x].b", false, true},
		{"a[].", false, true},
		{"a[]b", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sel, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wildcard, sel.Wildcard())
			assert.Equal(t, tt.in, sel.String())
		})
	}
}

func TestParseRejectsSecondWildcard(t *testing.T) {
	_, err := Parse("a[].b[].c")
	assert.ErrorIs(t, err, ErrMultipleWildcards)
}

func TestExtractWildcardSkipsElementsWithoutString(t *testing.T) {
	doc := mustTree(t, `{"items":[{"t":"a"},{"t":"b"},{}]}`)

	got := Extract(doc, MustParseAll([]string{"items[].t"}))

	want := []Entry{
		{Path: "items[0].t", Value: "a"},
		{Path: "items[1].t", Value: "b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractDefaultWorkflow(t *testing.T) {
	doc := mustTree(t, `{
		"id": 7,
		"name": "Send Slack digest",
		"description": "   ",
		"categories": [{"id": 3, "name": "Sales"}, {"id": 4}],
		"nodes": [
			{"type": "n8n-nodes-base.slack", "defaults": {"name": "Slack"}},
			{"type": "n8n-nodes-base.stickyNote", "defaults": {"name": "Note", "content": "## Setup\nAdd your **token**"}},
			{"type": "n8n-nodes-base.noOp"}
		]
	}`)

	got := Extract(doc, MustParseAll(DefaultWorkflow))

	want := []Entry{
		{Path: "name", Value: "Send Slack digest"},
		{Path: "categories[0].name", Value: "Sales"},
		{Path: "nodes[0].defaults.name", Value: "Slack"},
		{Path: "nodes[1].defaults.name", Value: "Note"},
		{Path: "nodes[1].defaults.content", Value: "## Setup\nAdd your **token**"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractToleratesWrongShapes(t *testing.T) {
	doc := mustTree(t, `{"name": 42, "nodes": {"defaults": {"name": "x"}}, "categories": "none"}`)

	got := Extract(doc, MustParseAll(DefaultWorkflow))
	assert.Empty(t, got)

	assert.Empty(t, Extract(nil, MustParseAll(DefaultWorkflow)))
	assert.Empty(t, Extract("plain", MustParseAll(DefaultCategories)))
}

func TestExtractRootArray(t *testing.T) {
	doc := mustTree(t, `[{"id":1,"name":"AI"},{"id":2,"name":"Sales"},{"id":3,"name":""}]`)

	got := Extract(doc, MustParseAll(DefaultCategories))

	want := []Entry{
		{Path: "[0].name", Value: "AI"},
		{Path: "[1].name", Value: "Sales"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractDeduplicatesConcretePaths(t *testing.T) {
	doc := mustTree(t, `{"nodes":[{"name":"a"},{"name":"b"}]}`)

	got := Extract(doc, MustParseAll([]string{"nodes[].name", "nodes[1].name"}))
	assert.Len(t, got, 2)
}

func TestExtractArrayOfStrings(t *testing.T) {
	doc := mustTree(t, `{"tags":["one","",2,"three"]}`)

	got := Extract(doc, MustParseAll([]string{"tags[]"}))

	want := []Entry{
		{Path: "tags[0]", Value: "one"},
		{Path: "tags[3]", Value: "three"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestInjectRoundTrip(t *testing.T) {
	docs := []string{
		`{"id":1,"name":"A","description":"d","categories":[{"id":2,"name":"c"}],"nodes":[{"defaults":{"name":"n","content":"<b>x</b>"}},{"defaults":{}}],"meta":{"n":1.50}}`,
		`[{"id":1,"name":"AI"},{"id":2}]`,
		`{"name":""}`,
		`{}`,
	}
	sets := [][]string{DefaultWorkflow, DefaultCategories, {"nodes[].defaults", "meta.n", "missing.path"}}

	for _, src := range docs {
		for _, set := range sets {
			doc := mustTree(t, src)
			entries := Extract(doc, MustParseAll(set))

			out, err := Inject(doc, entries)
			require.NoError(t, err)

			got, err := jsontree.Marshal(out)
			require.NoError(t, err)
			assert.Equal(t, src, string(got))
		}
	}
}

func TestInjectDoesNotMutateInput(t *testing.T) {
	src := `{"name":"Hello","nodes":[{"defaults":{"name":"Slack"}}]}`
	doc := mustTree(t, src)

	out, err := Inject(doc, []Entry{
		{Path: "name", Value: "Bonjour"},
		{Path: "nodes[0].defaults.name", Value: "Slack FR"},
	})
	require.NoError(t, err)

	before, _ := jsontree.Marshal(doc)
	assert.Equal(t, src, string(before))

	after, _ := jsontree.Marshal(out)
	assert.Equal(t, `{"name":"Bonjour","nodes":[{"defaults":{"name":"Slack FR"}}]}`, string(after))
}

func TestInjectRootArray(t *testing.T) {
	doc := mustTree(t, `[{"id":1,"name":"AI"}]`)

	out, err := Inject(doc, []Entry{{Path: "[0].name", Value: "IA"}})
	require.NoError(t, err)

	got, _ := jsontree.Marshal(out)
	assert.Equal(t, `[{"id":1,"name":"IA"}]`, string(got))
}

func TestInjectUnknownPath(t *testing.T) {
	doc := mustTree(t, `{"name":"x","id":3,"nodes":[{"defaults":{}}]}`)

	for _, p := range []string{"title", "id", "nodes[1].defaults.name", "nodes[0].defaults.name", "name.inner"} {
		_, err := Inject(doc, []Entry{{Path: p, Value: "y"}})
		assert.ErrorIs(t, err, ErrUnknownPath, p)
	}

	_, err := Inject(doc, []Entry{{Path: "nodes[].x", Value: "y"}})
	assert.Error(t, err)
}

func TestMapEntries(t *testing.T) {
	entries := []Entry{{Path: "b", Value: "2"}, {Path: "a", Value: "1"}}

	m := Map(entries)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m)

	back := Entries(m)
	assert.Equal(t, []Entry{{Path: "a", Value: "1"}, {Path: "b", Value: "2"}}, back)
}
