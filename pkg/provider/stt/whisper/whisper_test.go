package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServerTranscribe(t *testing.T) {
	t.Parallel()

	var gotLanguage string
	var gotFileBytes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		buf := make([]byte, 1<<20)
		n, _ := f.Read(buf)
		gotFileBytes = n
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello world \n"})
	}))
	defer srv.Close()

	s := NewServer(srv.URL)
	pcm := make([]byte, 3200) // 100 ms of silence
	text, err := s.Transcribe(context.Background(), pcm, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want %q", text, "hello world")
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q, want %q", gotLanguage, "en")
	}
	// 44-byte WAV header plus the PCM payload.
	if gotFileBytes != 44+len(pcm) {
		t.Errorf("uploaded %d bytes, want %d", gotFileBytes, 44+len(pcm))
	}
}

func TestServerTranscribeHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewServer(srv.URL)
	_, err := s.Transcribe(context.Background(), make([]byte, 320), "en")
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("error %q does not mention status", err)
	}
}

func TestServerTranscribeOmitsEmptyLanguage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if _, ok := r.MultipartForm.Value["language"]; ok {
			t.Error("language field present, want omitted")
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	s := NewServer(srv.URL)
	if _, err := s.Transcribe(context.Background(), make([]byte, 320), ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}
