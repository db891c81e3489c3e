package jsontree

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePreservesKeyOrderAndNumbers(t *testing.T) {
	src := `{"zeta":1,"alpha":{"b":2.50,"a":[1e3,"x",null,true]},"id":9007199254740993}`

	v, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	obj, ok := v.(*Object)
	if !ok {
		t.Fatalf("Parse() = %T, want *Object", v)
	}
	if diff := cmp.Diff([]string{"zeta", "alpha", "id"}, obj.Keys()); diff != "" {
		t.Fatalf("Keys() mismatch (-want +got):\n%s", diff)
	}

	out, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(out) != src {
		t.Fatalf("Marshal() = %s, want %s", out, src)
	}
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	obj := NewObject()
	obj.Set("content", "<b>Hello</b> & welcome")

	out, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	want := `{"content":"<b>Hello</b> & welcome"}`
	if string(out) != want {
		t.Fatalf("Marshal() = %s, want %s", out, want)
	}
}

func TestMarshalIndent(t *testing.T) {
	v, err := Parse([]byte(`{"b":[1,2],"a":"x"}`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	out, err := MarshalIndent(v)
	if err != nil {
		t.Fatalf("MarshalIndent() error: %v", err)
	}
	want := "{\n  \"b\": [\n    1,\n    2\n  ],\n  \"a\": \"x\"\n}\n"
	if string(out) != want {
		t.Fatalf("MarshalIndent() = %q, want %q", out, want)
	}
}

func TestSetKeepsPositionOfExistingKeys(t *testing.T) {
	obj := NewObject()
	obj.Set("a", "1")
	obj.Set("b", "2")
	obj.Set("a", "3")

	if diff := cmp.Diff([]string{"a", "b"}, obj.Keys()); diff != "" {
		t.Fatalf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if v, _ := obj.Get("a"); v != "3" {
		t.Fatalf("Get(a) = %v, want 3", v)
	}
}

func TestCloneIsDeep(t *testing.T) {
	v, err := Parse([]byte(`{"nodes":[{"name":"a"}]}`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	c := Clone(v)

	nodes, _ := c.(*Object).Get("nodes")
	nodes.([]any)[0].(*Object).Set("name", "changed")

	if Equal(v, c) {
		t.Fatal("mutating the clone changed the original")
	}
	orig, _ := Marshal(v)
	if string(orig) != `{"nodes":[{"name":"a"}]}` {
		t.Fatalf("original = %s", orig)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatal("Parse() with trailing value: want error")
	}
	if _, err := Parse([]byte(`{"a":`)); err == nil {
		t.Fatal("Parse() with truncated input: want error")
	}
}

func TestMarshalAcceptsGoNumbers(t *testing.T) {
	obj := NewObject()
	obj.Set("id", 42)
	obj.Set("ratio", 0.5)
	obj.Set("n", json.Number("7"))

	out, err := Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(out) != `{"id":42,"ratio":0.5,"n":7}` {
		t.Fatalf("Marshal() = %s", out)
	}
}

