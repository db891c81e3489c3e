package category

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitalk-ai/autosync/jsontree"
)

func TestFromDocument(t *testing.T) {
	doc, err := jsontree.Parse([]byte(`{
		"id": 10,
		"categories": [
			{"id": 5, "name": "Sales"},
			{"id": "x", "name": "Broken"},
			"nope",
			{"id": 2, "name": "AI"},
			{"id": 5, "name": "Sales duplicate"},
			{"id": 7}
		]
	}`))
	require.NoError(t, err)

	want := []Category{{ID: 5, Name: "Sales"}, {ID: 2, Name: "AI"}, {ID: 7, Name: ""}}
	if diff := cmp.Diff(want, FromDocument(doc)); diff != "" {
		t.Fatalf("FromDocument() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromDocumentToleratesMissingData(t *testing.T) {
	for _, src := range []string{`{}`, `{"categories": null}`, `{"categories": {"id": 1}}`, `[]`, `"x"`} {
		doc, err := jsontree.Parse([]byte(src))
		require.NoError(t, err)
		assert.Empty(t, FromDocument(doc), src)
	}
	assert.Empty(t, FromDocument(nil))
}

func TestMergeFirstSeenWins(t *testing.T) {
	existing := []Category{{ID: 3, Name: "Marketing"}, {ID: 1, Name: "AI"}}
	incoming := []Category{{ID: 1, Name: "Artificial Intelligence"}, {ID: 2, Name: "Sales"}}

	got := Merge(existing, incoming)

	want := []Category{{ID: 1, Name: "AI"}, {ID: 2, Name: "Sales"}, {ID: 3, Name: "Marketing"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Merge() mismatch (-want +got):\n%s", diff)
	}

	// inputs untouched
	assert.Equal(t, []Category{{ID: 3, Name: "Marketing"}, {ID: 1, Name: "AI"}}, existing)
	assert.Equal(t, []Category{{ID: 1, Name: "Artificial Intelligence"}, {ID: 2, Name: "Sales"}}, incoming)
}

func TestMergeDedupProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		var lists [][]Category
		distinct := map[int64]bool{}
		numLists := rng.Intn(6)
		for l := 0; l < numLists; l++ {
			var list []Category
			size := rng.Intn(10)
			for i := 0; i < size; i++ {
				id := int64(rng.Intn(15))
				distinct[id] = true
				list = append(list, Category{ID: id, Name: "c"})
			}
			lists = append(lists, list)
		}

		var existing []Category
		if len(lists) > 0 {
			existing, lists = lists[0], lists[1:]
		}
		got := Merge(existing, lists...)

		require.Len(t, got, len(distinct), "round %d", round)
		require.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].ID < got[j].ID }), "round %d", round)
		for i := 1; i < len(got); i++ {
			require.NotEqual(t, got[i-1].ID, got[i].ID, "round %d", round)
		}
	}
}

func TestMergeIncrementalEqualsBulk(t *testing.T) {
	a := []Category{{ID: 4, Name: "d"}, {ID: 1, Name: "a"}}
	b := []Category{{ID: 2, Name: "b"}, {ID: 4, Name: "D"}}
	c := []Category{{ID: 1, Name: "A"}, {ID: 3, Name: "c"}}

	bulk := Merge(nil, a, b, c)

	var incremental []Category
	for _, l := range [][]Category{a, b, c} {
		incremental = Merge(incremental, l)
	}

	if diff := cmp.Diff(bulk, incremental); diff != "" {
		t.Fatalf("incremental != bulk (-bulk +incremental):\n%s", diff)
	}
}

func TestTreeRoundTrip(t *testing.T) {
	cats := []Category{{ID: 1, Name: "AI"}, {ID: 20, Name: "Sales <b>"}}

	tree := ToTree(cats)
	out, err := jsontree.Marshal(tree)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1,"name":"AI"},{"id":20,"name":"Sales <b>"}]`, string(out))

	if diff := cmp.Diff(cats, FromTree(tree)); diff != "" {
		t.Fatalf("FromTree(ToTree()) mismatch (-want +got):\n%s", diff)
	}
}
