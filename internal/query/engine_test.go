package query

import (
	"testing"
	"time"

	"github.com/CageChen/markkeep/internal/index"
)

type staticSource []index.TrackedFile

func (s staticSource) List() []index.TrackedFile {
	out := make([]index.TrackedFile, len(s))
	copy(out, s)
	return out
}

func hour(h int) time.Time {
	return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC)
}

func testEngine() *Engine {
	return NewEngine(staticSource{
		{Path: "something.md", Created: hour(5), Modified: hour(6)},
		{Path: "about.md", Created: hour(9), Modified: hour(11), Frontmatter: map[string]any{
			"tag": "blue", "tags": []any{"go", "notes"}, "weight": 10,
		}},
		{Path: "blah.md", Created: hour(15), Modified: hour(16), Frontmatter: map[string]any{
			"tag": "blue", "tags": []any{"notes", "yaml"}, "weight": 2.5,
		}},
	})
}

func names(summaries []Summary) []string {
	out := make([]string, len(summaries))
	for i, s := range summaries {
		out[i] = s.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEngine_List(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name  string
		query Query
		sort  Sort
		page  Page
		want  []string
		total int
	}{
		{"created desc by default", Query{}, Sort{}, Page{}, []string{"blah.md", "about.md", "something.md"}, 3},
		{"created asc", Query{}, Sort{Key: "created", Asc: true}, Page{}, []string{"something.md", "about.md", "blah.md"}, 3},
		{"numeric sort", Query{Match: map[string]any{"tag": "blue"}}, Sort{Key: "weight", Asc: true}, Page{}, []string{"blah.md", "about.md"}, 2},
		{"name", Query{}, Sort{Key: "name", Asc: true}, Page{}, []string{"about.md", "blah.md", "something.md"}, 3},
		{"filtered", Query{Match: map[string]any{"tag": "blue"}}, Sort{}, Page{}, []string{"blah.md", "about.md"}, 2},
		{"paged", Query{}, Sort{}, Page{Offset: 1, Limit: 1}, []string{"about.md"}, 3},
		{"offset past end", Query{}, Sort{}, Page{Offset: 5}, []string{}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total := e.List(tt.query, tt.sort, tt.page)
			if !equal(names(got), tt.want) {
				t.Errorf("List() = %v, want %v", names(got), tt.want)
			}
			if total != tt.total {
				t.Errorf("total = %d, want %d", total, tt.total)
			}
		})
	}
}

func TestEngine_Single(t *testing.T) {
	e := testEngine()

	res, ok := e.Single("about.md", Query{}, Sort{Key: "created"})
	if !ok {
		t.Fatal("about.md not found")
	}
	if res.Next != "blah.md" || res.Prev != "something.md" {
		t.Errorf("neighbours = prev %q next %q", res.Prev, res.Next)
	}

	res, _ = e.Single("blah.md", Query{}, Sort{Key: "created"})
	if res.Next != "" || res.Prev != "about.md" {
		t.Errorf("first entry neighbours = prev %q next %q", res.Prev, res.Next)
	}

	if _, ok := e.Single("missing.md", Query{}, Sort{}); ok {
		t.Error("expected miss for untracked file")
	}
}

func TestEngine_SingleKeepsNamedFile(t *testing.T) {
	e := testEngine()
	q := Query{Match: map[string]any{"tag": "blue"}}

	res, ok := e.Single("something.md", q, Sort{Key: "created"})
	if !ok {
		t.Fatal("named file must be part of the listing even when it does not match")
	}
	if res.Prev != "" || res.Next != "about.md" {
		t.Errorf("neighbours = prev %q next %q", res.Prev, res.Next)
	}

	res, _ = e.Single("about.md", q, Sort{Key: "created"})
	if res.Prev != "" || res.Next != "blah.md" {
		t.Errorf("filtered neighbours = prev %q next %q", res.Prev, res.Next)
	}
}

func TestEngine_Collate(t *testing.T) {
	e := testEngine()

	if got := e.Collate("tags", Query{}); !equal(got, []string{"go", "notes", "yaml"}) {
		t.Errorf("Collate(tags) = %v", got)
	}
	if got := e.Collate("tag", Query{}); !equal(got, []string{"blue"}) {
		t.Errorf("Collate(tag) = %v", got)
	}
	q := Query{Match: map[string]any{"tags": []any{"yaml"}}, Intersect: true}
	if got := e.Collate("tags", q); !equal(got, []string{"notes", "yaml"}) {
		t.Errorf("Collate with query = %v", got)
	}
	if got := e.Collate("weight", Query{}); got == nil || len(got) != 0 {
		t.Errorf("non-string values should collate to an empty list, got %v", got)
	}
}
