package replicate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fixedDownloader(t *testing.T) *Downloader {
	t.Helper()
	d := NewDownloader(t.TempDir(), nil)
	d.now = func() time.Time { return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC) }
	return d
}

func TestDownloader_Download(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/out-0.webp", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("webp-bytes"))
	})
	mux.HandleFunc("GET /files/missing.png", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := fixedDownloader(t)
	results := d.Download(context.Background(),
		[]string{srv.URL + "/files/out-0.webp", srv.URL + "/files/missing.png"},
		"black-forest-labs/flux-schnell", "red fox")

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	ok := results[0]
	wantName := "black-forest-labs_flux-schnell_red_fox_20250314_092653_0.webp"
	if ok.Error != "" || filepath.Base(ok.LocalPath) != wantName {
		t.Fatalf("result[0] = %+v, want local file %s", ok, wantName)
	}
	data, err := os.ReadFile(ok.LocalPath)
	if err != nil || string(data) != "webp-bytes" {
		t.Errorf("file content = %q, %v", data, err)
	}

	sidecar := filepath.Join(d.Dir(), "black-forest-labs_flux-schnell_red_fox_20250314_092653_0"+MetadataSuffix)
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		t.Fatalf("decoding sidecar: %v", err)
	}
	if md.Model != "black-forest-labs/flux-schnell" || md.Tag != "red fox" || md.LocalPath != ok.LocalPath {
		t.Errorf("metadata = %+v", md)
	}

	if results[1].Error == "" || results[1].LocalPath != "" {
		t.Errorf("result[1] = %+v, want an error", results[1])
	}
}

func TestDownloader_DataURL(t *testing.T) {
	d := fixedDownloader(t)
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	results := d.Download(context.Background(), []string{"data:image/png;base64," + payload}, "owner/m:v1", "t")
	if len(results) != 1 || results[0].Error != "" {
		t.Fatalf("results = %+v", results)
	}
	if got := filepath.Base(results[0].LocalPath); got != "owner_m_v1_t_20250314_092653.png" {
		t.Errorf("file name = %q", got)
	}
	data, _ := os.ReadFile(results[0].LocalPath)
	if string(data) != "png-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestURLExtension(t *testing.T) {
	tests := map[string]string{
		"https://x/a/b.JPG":         ".jpg",
		"https://x/a/b.mp4?sig=1":   ".mp4",
		"https://x/a/noext":         ".png",
		"https://x/a/b.verylongext": ".png",
	}
	for in, want := range tests {
		if got := urlExtension(in); got != want {
			t.Errorf("urlExtension(%q) = %q, want %q", in, got, want)
		}
	}
}
