// Package titles persists per-title bilingual transcripts on disk.
//
// Each title owns a directory under the store root:
//
//	<root>/titles/<title_id>/
//	    meta.json    — identity and language pair
//	    source.txt   — committed source text, one segment per line
//	    target.txt   — committed target text, one segment per line
//
// Source and target are written as two separate files, source first, so that
// a crash between the writes leaves recoverable state.
package titles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// contextTailPairs is the number of trailing aligned line pairs included in
// the bilingual context tail handed to the translation prompt.
const contextTailPairs = 12

// ErrNotFound is returned when a title directory does not exist.
var ErrNotFound = errors.New("titles: not found")

// Meta identifies a title and its language pair.
type Meta struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is a directory-backed title store. Safe for concurrent use across
// distinct titles; callers serialize writes to the same title (each live
// session owns its title exclusively).
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir, creating the titles directory if
// needed.
func NewStore(dir string) (*Store, error) {
	root := filepath.Join(dir, "titles")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("titles: create root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) titleDir(id string) string {
	// Flatten path separators so a hostile title_id cannot escape the root.
	return filepath.Join(s.root, sanitizeID(id))
}

func sanitizeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	out := r.Replace(id)
	if out == "" {
		out = "_"
	}
	return out
}

// Create makes the title directory and writes its meta.json. Creating an
// existing title updates its name and languages but keeps the transcripts.
func (s *Store) Create(meta Meta) error {
	if meta.ID == "" {
		return errors.New("titles: id must not be empty")
	}
	dir := s.titleDir(meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("titles: create %q: %w", dir, err)
	}
	now := time.Now().UTC()
	if existing, err := s.Meta(meta.ID); err == nil {
		meta.CreatedAt = existing.CreatedAt
	} else {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("titles: marshal meta: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "meta.json"), data); err != nil {
		return fmt.Errorf("titles: write meta: %w", err)
	}
	return nil
}

// writeFileAtomic writes through a sibling tmp file and rename so a crash
// mid-write never leaves a truncated file. Filesystems that reject the
// rename fall back to a direct write.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err == nil {
		if err := os.Rename(tmp, path); err == nil {
			return nil
		}
		os.Remove(tmp)
	}
	return os.WriteFile(path, data, 0o644)
}

// Meta reads a title's meta.json.
func (s *Store) Meta(id string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(filepath.Join(s.titleDir(id), "meta.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return m, fmt.Errorf("titles: read meta: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("titles: parse meta: %w", err)
	}
	return m, nil
}

// List returns the metas of all stored titles, newest first.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("titles: list: %w", err)
	}
	metas := make([]Meta, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := s.Meta(e.Name())
		if err != nil {
			continue // skip directories without a readable meta.json
		}
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].UpdatedAt.After(metas[j].UpdatedAt) })
	return metas, nil
}

// Transcript returns the persisted source and target text for a title. A
// missing title yields empty transcripts, not an error: a first session on a
// new title starts from nothing.
func (s *Store) Transcript(id string) (source, target string, err error) {
	dir := s.titleDir(id)
	src, err := os.ReadFile(filepath.Join(dir, "source.txt"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("titles: read source: %w", err)
	}
	tgt, err := os.ReadFile(filepath.Join(dir, "target.txt"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("titles: read target: %w", err)
	}
	return string(src), string(tgt), nil
}

// SaveTranscript persists the full source and target text for a title.
// Source is written before target; a failure after the first write still
// returns an error but leaves the source on disk.
func (s *Store) SaveTranscript(id, source, target string) error {
	dir := s.titleDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("titles: create %q: %w", dir, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "source.txt"), []byte(source)); err != nil {
		return fmt.Errorf("titles: write source: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, "target.txt"), []byte(target)); err != nil {
		return fmt.Errorf("titles: write target: %w", err)
	}
	if m, err := s.Meta(id); err == nil {
		m.UpdatedAt = time.Now().UTC()
		if data, err := json.MarshalIndent(m, "", "  "); err == nil {
			_ = writeFileAtomic(filepath.Join(dir, "meta.json"), data)
		}
	}
	return nil
}

// Delete removes a title and its transcripts.
func (s *Store) Delete(id string) error {
	dir := s.titleDir(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return os.RemoveAll(dir)
}

// ContextTail builds the bilingual context block injected into translation
// prompts: the last [contextTailPairs] aligned non-empty line pairs rendered
// as "SOURCE: …\nTARGET: …" blocks joined by "\n---\n". A trailing source
// line without a matching target keeps an empty TARGET.
func ContextTail(source, target string) string {
	src := nonEmptyLines(source)
	tgt := nonEmptyLines(target)

	n := len(src)
	if n == 0 {
		return ""
	}
	start := n - contextTailPairs
	if start < 0 {
		start = 0
	}

	var blocks []string
	for i := start; i < n; i++ {
		t := ""
		if i < len(tgt) {
			t = tgt[i]
		}
		blocks = append(blocks, "SOURCE: "+src[i]+"\nTARGET: "+t)
	}
	return strings.Join(blocks, "\n---\n")
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
