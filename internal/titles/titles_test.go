package titles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestCreateAndMeta(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	m := Meta{ID: "news-42", Name: "Evening news", SourceLang: "en", TargetLang: "vi"}
	if err := s.Create(m); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Meta("news-42")
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if got.Name != "Evening news" || got.SourceLang != "en" || got.TargetLang != "vi" {
		t.Errorf("meta = %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	// Re-creating keeps CreatedAt but updates the name.
	m.Name = "Morning news"
	if err := s.Create(m); err != nil {
		t.Fatalf("Create again: %v", err)
	}
	again, _ := s.Meta("news-42")
	if again.Name != "Morning news" {
		t.Errorf("name = %q after update", again.Name)
	}
	if !again.CreatedAt.Equal(got.CreatedAt) {
		t.Error("CreatedAt changed on update")
	}
}

func TestMetaNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if _, err := s.Meta("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// A brand-new title reads back empty without error.
	src, tgt, err := s.Transcript("fresh")
	if err != nil || src != "" || tgt != "" {
		t.Fatalf("fresh transcript = (%q, %q, %v)", src, tgt, err)
	}

	if err := s.SaveTranscript("fresh", "hello.\nworld.\n", "xin chào.\nthế giới.\n"); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	src, tgt, err = s.Transcript("fresh")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if !strings.Contains(src, "world.") || !strings.Contains(tgt, "thế giới.") {
		t.Errorf("transcript = (%q, %q)", src, tgt)
	}
}

func TestSaveTranscriptReplacesCleanly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Create(Meta{ID: "t1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.SaveTranscript("t1", "one.\n", "một.\n"); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveTranscript("t1", "one.\ntwo.\n", "một.\nhai.\n"); err != nil {
		t.Fatalf("second save: %v", err)
	}

	src, tgt, err := s.Transcript("t1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if !strings.Contains(src, "two.") || !strings.Contains(tgt, "hai.") {
		t.Errorf("transcript = (%q, %q)", src, tgt)
	}

	// The tmp+rename writes must not leave scratch files behind.
	entries, err := os.ReadDir(filepath.Join(dir, "titles", "t1"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover scratch file %q", e.Name())
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, id := range []string{"a", "b"} {
		if err := s.Create(Meta{ID: id, Name: id}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	// Touch "a" so it becomes the most recently updated.
	if err := s.SaveTranscript("a", "x", "y"); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	metas, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len = %d, want 2", len(metas))
	}
	if metas[0].ID != "a" {
		t.Errorf("first = %q, want a", metas[0].ID)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Create(Meta{ID: "gone"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Meta("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Meta after delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestSanitizedIDsStayUnderRoot(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.Create(Meta{ID: "../escape"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	metas, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 {
		t.Errorf("len = %d, want 1 (sanitized dir under root)", len(metas))
	}
}

func TestContextTail(t *testing.T) {
	t.Parallel()

	t.Run("empty source", func(t *testing.T) {
		t.Parallel()
		if got := ContextTail("", "anything"); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})

	t.Run("pairs joined with separator", func(t *testing.T) {
		t.Parallel()
		got := ContextTail("one\ntwo\n", "một\nhai\n")
		want := "SOURCE: one\nTARGET: một\n---\nSOURCE: two\nTARGET: hai"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("unpaired source keeps empty target", func(t *testing.T) {
		t.Parallel()
		got := ContextTail("one\ntwo\n", "một\n")
		if !strings.HasSuffix(got, "SOURCE: two\nTARGET: ") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("caps at last twelve pairs", func(t *testing.T) {
		t.Parallel()
		var src, tgt strings.Builder
		for i := 0; i < 20; i++ {
			fmt.Fprintf(&src, "s%d\n", i)
			fmt.Fprintf(&tgt, "t%d\n", i)
		}
		got := ContextTail(src.String(), tgt.String())
		if strings.Count(got, "SOURCE: ") != 12 {
			t.Errorf("pair count = %d, want 12", strings.Count(got, "SOURCE: "))
		}
		if !strings.Contains(got, "SOURCE: s8\n") || strings.Contains(got, "SOURCE: s7\n") {
			t.Error("window not anchored at the last 12 pairs")
		}
	})

	t.Run("blank lines skipped", func(t *testing.T) {
		t.Parallel()
		got := ContextTail("one\n\n\ntwo\n", "một\n\nhai\n")
		if strings.Count(got, "SOURCE: ") != 2 {
			t.Errorf("pair count = %d, want 2", strings.Count(got, "SOURCE: "))
		}
	})
}
