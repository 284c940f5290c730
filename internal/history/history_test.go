package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndLoad(t *testing.T) {
	t.Parallel()
	s := NewStore(filepath.Join(t.TempDir(), "history.json"), 0)

	if got := s.Load(); len(got) != 0 {
		t.Fatalf("fresh store has %d turns", len(got))
	}
	if err := s.Append("what time is it", "It is noon."); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append("thanks", "You are welcome."); err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns := s.Load()
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[0].Q != "what time is it" || turns[1].A != "You are welcome." {
		t.Errorf("turns = %+v", turns)
	}
}

func TestAppendTruncatesToMax(t *testing.T) {
	t.Parallel()
	s := NewStore(filepath.Join(t.TempDir(), "history.json"), 3)

	for i := 0; i < 5; i++ {
		if err := s.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	turns := s.Load()
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3", len(turns))
	}
	if turns[0].Q != "q2" || turns[2].Q != "q4" {
		t.Errorf("turns = %+v, want q2..q4", turns)
	}
}

func TestTail(t *testing.T) {
	t.Parallel()
	s := NewStore(filepath.Join(t.TempDir(), "history.json"), 0)
	for i := 0; i < 4; i++ {
		if err := s.Append(fmt.Sprintf("q%d", i), "a"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	tail := s.Tail(2)
	if len(tail) != 2 || tail[0].Q != "q2" || tail[1].Q != "q3" {
		t.Errorf("tail = %+v", tail)
	}
	if got := s.Tail(100); len(got) != 4 {
		t.Errorf("oversized tail = %d turns, want 4", len(got))
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path, 0)
	if got := s.Load(); len(got) != 0 {
		t.Errorf("corrupt file yielded %d turns", len(got))
	}
	// And the store recovers on the next write.
	if err := s.Append("q", "a"); err != nil {
		t.Fatalf("Append after corruption: %v", err)
	}
	if got := s.Load(); len(got) != 1 {
		t.Errorf("len = %d after recovery, want 1", len(got))
	}
}

func TestFileIsValidJSONArray(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.json")
	s := NewStore(path, 0)
	if err := s.Append("q", "a"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var arr []map[string]string
	if err := json.Unmarshal(data, &arr); err != nil {
		t.Fatalf("file is not a JSON array: %v", err)
	}
	if arr[0]["q"] != "q" || arr[0]["a"] != "a" {
		t.Errorf("file contents = %v", arr)
	}
}
