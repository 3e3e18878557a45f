package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFetchStreamsBody(t *testing.T) {
	body := strings.Repeat("v", 4096)
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{UserAgent: "vidjoin-test"}, zerolog.Nop())
	dest := filepath.Join(t.TempDir(), "a.mp4")
	if err := f.Fetch(context.Background(), srv.URL+"/a.mp4", dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != body {
		t.Errorf("downloaded %d bytes, want %d", len(data), len(body))
	}
	if gotUA != "vidjoin-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestFetchNon2xxNamesURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(FetcherOptions{}, zerolog.Nop())
	dest := filepath.Join(t.TempDir(), "b.mp4")
	u := srv.URL + "/missing.mp4"
	err := f.Fetch(context.Background(), u, dest)

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.URL != u || !strings.Contains(err.Error(), u) || !strings.Contains(err.Error(), "404") {
		t.Errorf("error does not name the source: %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("no file should be left behind")
	}
}

func TestFetchSizeLimitRemovesPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked, so the limit is only discovered while streaming.
		w.(http.Flusher).Flush()
		w.Write(make([]byte, 2*bytesPerMB))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherOptions{MaxFileSizeMB: 1}, zerolog.Nop())
	dest := filepath.Join(t.TempDir(), "c.mp4")
	err := f.Fetch(context.Background(), srv.URL+"/c.mp4", dest)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial file should be removed")
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(FetcherOptions{}, zerolog.Nop())
	err := f.Fetch(ctx, srv.URL+"/d.mp4", filepath.Join(t.TempDir(), "d.mp4"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDestName(t *testing.T) {
	tests := []struct {
		i    int
		url  string
		want string
	}{
		{0, "https://cdn.example.com/clips/intro.mp4", "000_intro.mp4"},
		{1, "https://cdn.example.com/clips/part.MKV?token=abc", "001_part.MKV"},
		{2, "https://cdn.example.com/stream?id=7", "002_stream.mp4"},
		{3, "https://cdn.example.com/", "003_video.mp4"},
		{12, "https://cdn.example.com/it's.webm", "012_it_s.webm"},
	}
	for _, tt := range tests {
		if got := DestName(tt.i, tt.url); got != tt.want {
			t.Errorf("DestName(%d, %q) = %q, want %q", tt.i, tt.url, got, tt.want)
		}
	}
}
