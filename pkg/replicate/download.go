package replicate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rhuss/atelier/pkg/debug"
)

// MetadataSuffix marks the JSON sidecar written next to every download.
const MetadataSuffix = "_metadata.json"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
	"audio/wav":  ".wav",
	"audio/mpeg": ".mp3",
}

// DownloadResult describes one saved output. Exactly one of LocalPath and
// Error is set.
type DownloadResult struct {
	URL       string `json:"url"`
	LocalPath string `json:"local_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Metadata is the content of a download's sidecar file.
type Metadata struct {
	Model        string `json:"model"`
	Tag          string `json:"tag"`
	SourceURL    string `json:"source_url"`
	DownloadedAt string `json:"downloaded_at"`
	LocalPath    string `json:"local_path"`
}

// Downloader saves prediction outputs into a storage directory.
type Downloader struct {
	dir        string
	httpClient *http.Client
	now        func() time.Time
}

// NewDownloader creates a Downloader writing into dir. A nil client gets a
// 5 minute timeout.
func NewDownloader(dir string, hc *http.Client) *Downloader {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Downloader{dir: dir, httpClient: hc, now: time.Now}
}

// Dir returns the directory downloads are written to.
func (d *Downloader) Dir() string {
	return d.dir
}

// Download fetches every URL and writes it as
// <model>_<tag>_<timestamp>[_<i>]<ext>, plus a metadata sidecar. Failures are
// reported per URL; one bad URL does not stop the rest.
func (d *Downloader) Download(ctx context.Context, urls []string, model, tag string) []DownloadResult {
	stamp := d.now().Format("20060102_150405")
	base := cleanName(model) + "_" + cleanName(tag) + "_" + stamp

	results := make([]DownloadResult, 0, len(urls))
	for i, u := range urls {
		name := base
		if len(urls) > 1 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		local, err := d.fetch(ctx, u, name)
		if err != nil {
			debug.Log("replicate", "download failed", "url", debug.Truncate(u, 120), "error", err)
			results = append(results, DownloadResult{URL: u, Error: err.Error()})
			continue
		}
		if err := d.writeMetadata(local, Metadata{
			Model:        model,
			Tag:          tag,
			SourceURL:    sidecarURL(u),
			DownloadedAt: d.now().Format(time.RFC3339),
			LocalPath:    local,
		}); err != nil {
			results = append(results, DownloadResult{URL: u, LocalPath: local, Error: err.Error()})
			continue
		}
		results = append(results, DownloadResult{URL: u, LocalPath: local})
	}
	return results
}

func (d *Downloader) fetch(ctx context.Context, rawURL, name string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating storage dir: %w", err)
	}

	if strings.HasPrefix(rawURL, "data:") {
		data, ext, err := decodeDataURL(rawURL)
		if err != nil {
			return "", err
		}
		local := filepath.Join(d.dir, name+ext)
		return local, os.WriteFile(local, data, 0o644)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	local := filepath.Join(d.dir, name+urlExtension(rawURL))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(local)
		return "", fmt.Errorf("writing %s: %w", filepath.Base(local), err)
	}
	return local, f.Close()
}

func (d *Downloader) writeMetadata(local string, md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	stem := strings.TrimSuffix(local, filepath.Ext(local))
	return os.WriteFile(stem+MetadataSuffix, data, 0o644)
}

func cleanName(s string) string {
	s = strings.NewReplacer("/", "_", ":", "_").Replace(s)
	s = unsafeNameChars.ReplaceAllString(s, "_")
	if s == "" {
		return "output"
	}
	return s
}

func urlExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".png"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 6 {
		return ".png"
	}
	return ext
}

func decodeDataURL(s string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("unsupported data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL: %w", err)
	}
	ext, ok := mimeExtensions[strings.TrimSuffix(header, ";base64")]
	if !ok {
		ext = ".bin"
	}
	return data, ext, nil
}

// sidecarURL keeps inline data URLs out of the metadata file.
func sidecarURL(u string) string {
	if strings.HasPrefix(u, "data:") {
		return "data:inline"
	}
	return u
}
