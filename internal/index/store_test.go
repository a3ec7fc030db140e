package index

import (
	"sync"
	"testing"
	"time"

	"github.com/CageChen/markkeep/internal/markdown"
)

func TestStore_GetMissing(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("never.md"); ok {
		t.Error("expected miss on empty store")
	}
	if s.Remove("never.md") {
		t.Error("Remove of absent path should report false")
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := NewStore()
	mtime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	f, changed := s.Upsert("test.md", "Just call me mark!\n", FileMeta{
		ModTime:     mtime,
		Frontmatter: map[string]any{"tags": []any{"a"}},
		Outline:     markdown.Outline{Title: "Mark"},
	})
	if !changed {
		t.Fatal("first upsert should change the store")
	}
	if f.Generation == 0 {
		t.Error("generation should be positive")
	}

	got, ok := s.Get("test.md")
	if !ok {
		t.Fatal("expected hit after upsert")
	}
	if got.Content != "Just call me mark!\n" {
		t.Errorf("content = %q", got.Content)
	}
	if got.Title != "Mark" {
		t.Errorf("title = %q", got.Title)
	}
	if !got.Created.Equal(mtime) || !got.Modified.Equal(mtime) {
		t.Errorf("created/modified = %v/%v, want %v", got.Created, got.Modified, mtime)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestStore_IdenticalUpsertIsNoop(t *testing.T) {
	s := NewStore()
	first, _ := s.Upsert("a.md", "same", FileMeta{ModTime: time.Now()})
	second, changed := s.Upsert("a.md", "same", FileMeta{ModTime: time.Now().Add(time.Hour)})

	if changed {
		t.Error("identical content should not change the store")
	}
	if second.Generation != first.Generation {
		t.Errorf("generation moved from %d to %d", first.Generation, second.Generation)
	}
}

func TestStore_GenerationNeverResets(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first, _ := s.Upsert("a.md", "one", FileMeta{ModTime: t0})
	second, _ := s.Upsert("a.md", "two", FileMeta{ModTime: t0.Add(time.Minute)})
	if second.Generation <= first.Generation {
		t.Fatalf("update generation %d not above %d", second.Generation, first.Generation)
	}
	if !second.Created.Equal(t0) {
		t.Errorf("created should be preserved across updates, got %v", second.Created)
	}

	s.Remove("a.md")
	third, _ := s.Upsert("a.md", "one", FileMeta{ModTime: t0.Add(time.Hour)})
	if third.Generation <= second.Generation {
		t.Errorf("recreated generation %d not above %d", third.Generation, second.Generation)
	}
	if !third.Created.Equal(t0.Add(time.Hour)) {
		t.Errorf("recreated file should get a fresh created time, got %v", third.Created)
	}
}

func TestStore_ListAndPathsSorted(t *testing.T) {
	s := NewStore()
	for _, p := range []string{"c.md", "a.md", "sub/b.md"} {
		s.Upsert(p, p, FileMeta{})
	}

	paths := s.Paths()
	want := []string{"a.md", "c.md", "sub/b.md"}
	if len(paths) != len(want) {
		t.Fatalf("Paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("Paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}

	files := s.List()
	if len(files) != 3 || files[0].Path != "a.md" || files[2].Path != "sub/b.md" {
		t.Errorf("List order wrong: %v", files)
	}
}

func TestStore_OnChange(t *testing.T) {
	s := NewStore()
	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	s.Upsert("a.md", "x", FileMeta{})
	s.Upsert("a.md", "x", FileMeta{})
	s.Upsert("a.md", "y", FileMeta{})
	s.Remove("a.md")
	s.Remove("a.md")

	if len(changes) != 3 {
		t.Fatalf("expected 3 notifications, got %d: %v", len(changes), changes)
	}
	if changes[0].Kind != Upserted || changes[1].Kind != Upserted || changes[2].Kind != Deleted {
		t.Errorf("unexpected kinds: %v", changes)
	}
	if changes[1].Generation <= changes[0].Generation {
		t.Errorf("generations not increasing: %v", changes)
	}
	if changes[2].Kind.String() != "remove" || changes[0].Kind.String() != "upsert" {
		t.Errorf("kind names: %s %s", changes[0].Kind, changes[2].Kind)
	}
}

func TestStore_CallbackMayReadStore(t *testing.T) {
	s := NewStore()
	var seen string
	s.OnChange(func(c Change) {
		if f, ok := s.Get(c.Path); ok {
			seen = f.Content
		}
	})

	s.Upsert("a.md", "hello", FileMeta{})
	if seen != "hello" {
		t.Errorf("callback saw %q", seen)
	}
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if f, ok := s.Get("a.md"); ok && f.Content != "v1" && f.Content != "v2" {
					t.Errorf("torn read: %q", f.Content)
					return
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			s.Upsert("a.md", "v1", FileMeta{})
		} else {
			s.Upsert("a.md", "v2", FileMeta{})
		}
	}
	close(done)
	wg.Wait()
}
