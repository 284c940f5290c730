package music

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tracks/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("client_id") != "cid" || q.Get("search") != "lofi beats" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"results":[
			{"id":"t1","name":"Rainy","artist_name":"A","audio":"http://cdn/a.mp3"},
			{"id":"t2","name":"Sunny","artist_name":"B","audio":"http://cdn/b.mp3"}
		]}`))
	}))
	defer srv.Close()

	c := New("cid", t.TempDir(), WithAPIURL(srv.URL))
	tracks, err := c.Search(context.Background(), "lofi beats")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != "t1" || tracks[0].AudioURL != "http://cdn/a.mp3" {
		t.Errorf("tracks = %+v", tracks)
	}
}

func TestSearchNoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New("cid", t.TempDir(), WithAPIURL(srv.URL))
	if _, err := c.Search(context.Background(), "xyzzy"); !errors.Is(err, ErrNoResults) {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}

func TestSearchDisabledWithoutClientID(t *testing.T) {
	t.Parallel()
	c := New("", t.TempDir())
	if _, err := c.Search(context.Background(), "anything"); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

// fakeFFmpeg writes a shell script that copies its input to its output,
// standing in for a real transcode.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n# args: -y -i SRC ... DST\nfor last; do :; done\ncp \"$3\" \"$last\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	t.Parallel()

	payload := []byte("fake-mp3-bytes")
	var downloads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		downloads++
		w.Write(payload)
	}))
	defer srv.Close()

	cache := t.TempDir()
	c := New("cid", cache, WithFFmpeg(fakeFFmpeg(t)))

	track := Track{ID: "t9", AudioURL: srv.URL + "/a.mp3"}
	got, err := c.Fetch(context.Background(), track)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("fetched bytes = %q", got)
	}

	// Second fetch is served from the WAV cache without another download.
	if _, err := c.Fetch(context.Background(), track); err != nil {
		t.Fatalf("Fetch (cached): %v", err)
	}
	if downloads != 1 {
		t.Errorf("downloads = %d, want 1", downloads)
	}
}

func TestFetchRejectsTrackWithoutAudio(t *testing.T) {
	t.Parallel()
	c := New("cid", t.TempDir())
	if _, err := c.Fetch(context.Background(), Track{ID: "t0"}); err == nil {
		t.Error("Fetch succeeded for track without audio URL")
	}
}

func TestTranscodeFailureSurfacesStderr(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a unix shell")
	}

	bad := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(bad, []byte("#!/bin/sh\necho 'invalid data' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("junk"))
	}))
	defer srv.Close()

	c := New("cid", t.TempDir(), WithFFmpeg(bad))
	_, err := c.Fetch(context.Background(), Track{ID: "bad", AudioURL: srv.URL})
	if err == nil {
		t.Fatal("Fetch succeeded despite ffmpeg failure")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid data")) {
		t.Errorf("err = %v, want ffmpeg stderr included", err)
	}
}
