// Package artifact finds media files that a query produced in the storage
// directory. Correlation is by modification time: anything recent enough
// is attributed to the query that just finished.
package artifact

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rhuss/atelier/pkg/debug"
)

// DefaultWindow is how far back a scan looks.
const DefaultWindow = 30 * time.Second

// MediaExtensions lists the recognized artifact extensions.
var MediaExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".mp4", ".wav", ".mp3"}

// IsMedia reports whether name has a recognized media extension.
func IsMedia(name string) bool {
	return slices.Contains(MediaExtensions, strings.ToLower(filepath.Ext(name)))
}

// Config configures a Scanner.
type Config struct {
	// Dir is the storage directory on disk.
	Dir string

	// PublicURL is the base URL the storage directory is served under,
	// for example http://localhost:8080/data.
	PublicURL string

	// Window defaults to DefaultWindow.
	Window time.Duration
}

// Scanner lists recent artifacts in one directory.
type Scanner struct {
	dir       string
	publicURL string
	window    time.Duration
}

// NewScanner creates a Scanner.
func NewScanner(cfg Config) *Scanner {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Scanner{
		dir:       cfg.Dir,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		window:    cfg.Window,
	}
}

// Scan returns the public URLs of media files in the storage directory
// modified within the window before now, sorted by name. Subdirectories
// and metadata sidecars are skipped. A missing directory yields no URLs.
func (s *Scanner) Scan(now time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.dir, err)
	}

	cutoff := now.Add(-s.window)
	var urls []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasSuffix(name, "_metadata.json") || !IsMedia(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		if info.ModTime().After(cutoff) {
			urls = append(urls, s.URL(name))
		}
	}
	debug.Log("storage", "artifact scan", "dir", s.dir, "found", len(urls))
	return urls, nil
}

// URL returns the public URL of a file name in the storage directory.
func (s *Scanner) URL(name string) string {
	return s.publicURL + "/" + url.PathEscape(name)
}
