package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/CageChen/markkeep/internal/index"
)

// sortTimeLayout is fixed width so timestamps order correctly as strings.
const sortTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Source supplies the current set of tracked files
type Source interface {
	List() []index.TrackedFile
}

// Sort orders results by a front matter key. Files lacking the key sort
// by the built-in field of the same name (name, created, modified),
// falling back to their created time. Descending is the default order.
type Sort struct {
	Key string
	Asc bool
}

// Page selects a window of results. A zero Limit means no limit.
type Page struct {
	Offset int
	Limit  int
}

// Summary is the list view of a tracked file
type Summary struct {
	Name        string         `json:"name" msgpack:"name"`
	Frontmatter map[string]any `json:"frontmatter" msgpack:"frontmatter"`
	Title       string         `json:"title" msgpack:"title"`
	OneLiner    string         `json:"one_liner" msgpack:"one_liner"`
	Created     time.Time      `json:"created" msgpack:"created"`
	Modified    time.Time      `json:"modified" msgpack:"modified"`
	Generation  uint64         `json:"generation" msgpack:"generation"`
}

// Single is a file together with its neighbours in a sorted listing.
// Next is the entry listed before the file and Prev the one listed after
// it, so in the default descending order Prev is the older neighbour.
type Single struct {
	File index.TrackedFile
	Prev string
	Next string
}

// Engine answers front matter queries against a Source
type Engine struct {
	src Source
}

// NewEngine creates a query engine reading from src
func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// List returns one page of matching files and the number of matches
// before pagination.
func (e *Engine) List(q Query, s Sort, p Page) ([]Summary, int) {
	files := filter(e.src.List(), q, "")
	sortFiles(files, s)

	total := len(files)
	files = paginate(files, p)

	out := make([]Summary, 0, len(files))
	for _, f := range files {
		out = append(out, Summary{
			Name:        f.Path,
			Frontmatter: f.Frontmatter,
			Title:       f.Title,
			OneLiner:    f.OneLiner,
			Created:     f.Created,
			Modified:    f.Modified,
			Generation:  f.Generation,
		})
	}
	return out, total
}

// Single looks up name and its neighbours among the files matching q.
// The named file is always part of the listing, matched or not.
func (e *Engine) Single(name string, q Query, s Sort) (Single, bool) {
	files := filter(e.src.List(), q, name)
	sortFiles(files, s)

	i := slices.IndexFunc(files, func(f index.TrackedFile) bool {
		return f.Path == name
	})
	if i < 0 {
		return Single{}, false
	}

	res := Single{File: files[i]}
	if i > 0 {
		res.Next = files[i-1].Path
	}
	if i+1 < len(files) {
		res.Prev = files[i+1].Path
	}
	return res, true
}

// Collate returns the sorted distinct string values stored under key in
// the files matching q. Lists contribute their string elements.
func (e *Engine) Collate(key string, q Query) []string {
	values := []string{}
	for _, f := range filter(e.src.List(), q, "") {
		switch v := f.Frontmatter[key].(type) {
		case string:
			values = append(values, v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
		}
	}
	slices.Sort(values)
	return slices.Compact(values)
}

func filter(files []index.TrackedFile, q Query, keep string) []index.TrackedFile {
	out := files[:0]
	for _, f := range files {
		if f.Path == keep || q.Matches(f.Frontmatter) {
			out = append(out, f)
		}
	}
	return out
}

func sortFiles(files []index.TrackedFile, s Sort) {
	slices.SortStableFunc(files, func(a, b index.TrackedFile) int {
		c := compareValues(sortValue(a, s.Key), sortValue(b, s.Key))
		if c == 0 {
			c = strings.Compare(a.Path, b.Path)
		}
		if !s.Asc {
			c = -c
		}
		return c
	})
}

func sortValue(f index.TrackedFile, key string) any {
	if v, ok := f.Frontmatter[key]; ok && key != "" {
		return v
	}
	switch key {
	case "name":
		return f.Path
	case "modified":
		return f.Modified
	}
	return f.Created
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return cmp.Compare(af, bf)
	}
	return strings.Compare(sortString(a), sortString(b))
}

func sortString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(sortTimeLayout)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func paginate(files []index.TrackedFile, p Page) []index.TrackedFile {
	if p.Offset > 0 {
		if p.Offset >= len(files) {
			return nil
		}
		files = files[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(files) {
		files = files[:p.Limit]
	}
	return files
}
