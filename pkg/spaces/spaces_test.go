package spaces

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhuss/atelier/pkg/pathguard"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Space", "my-space"},
		{"  Foxes & Hounds!! ", "foxes-hounds"},
		{"already-normal", "already-normal"},
		{"UPPER__case--x", "upper-case-x"},
		{"***", DefaultID},
		{"", DefaultID},
		{"../../etc", "etc"},
	}
	for _, tt := range tests {
		if got := NormalizeID(tt.in); got != tt.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("my-big-space"); got != "My Big Space" {
		t.Errorf("DisplayName = %q", got)
	}
}

func TestStampAndRemoveNode(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Canvas{
		"nodes":    []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}},
		"viewport": map[string]any{"zoom": 1.0},
	}
	c := Stamp(in, "My Space", now)
	if _, ok := in["metadata"]; ok {
		t.Error("Stamp should not modify its input")
	}
	meta := c["metadata"].(map[string]any)
	if meta["space_id"] != "My Space" || meta["version"] != Version || meta["saved_at"] != "2025-03-01T12:00:00.000000Z" {
		t.Errorf("metadata = %v", meta)
	}

	later := now.Add(time.Minute)
	if RemoveNode(c, "missing", later) {
		t.Error("RemoveNode(missing) = true")
	}
	if !RemoveNode(c, "a", later) {
		t.Fatal("RemoveNode(a) = false")
	}
	if nodes := c["nodes"].([]any); len(nodes) != 1 {
		t.Errorf("nodes = %v", nodes)
	}
	if meta["saved_at"] != "2025-03-01T12:01:00.000000Z" {
		t.Errorf("saved_at = %v", meta["saved_at"])
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize("my-space", nil)
	if s.HasCanvas || s.NodeCount != nil || s.Name != "My Space" {
		t.Errorf("empty summary = %+v", s)
	}

	s = Summarize("x", Stamp(Canvas{"nodes": []any{map[string]any{}}}, "x", time.Unix(0, 0)))
	if !s.HasCanvas || s.NodeCount == nil || *s.NodeCount != 1 || s.SavedAt == "" {
		t.Errorf("summary = %+v", s)
	}
}

func TestImagesMove(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "data")
	os.MkdirAll(storage, 0o755)
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png"} {
		os.WriteFile(filepath.Join(storage, name), []byte(name), 0o644)
	}
	im, err := NewImages(storage)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		source string
		want   string
	}{
		{"data/a.png", "data/spaces/my-space/a.png"},
		{"http://localhost:8080/data/b.png", "data/spaces/my-space/b.png"},
		{"c.png", "data/spaces/my-space/c.png"},
		{filepath.Join(im.guard.Root(), "d.png"), "data/spaces/my-space/d.png"},
	}
	for _, tt := range tests {
		got, err := im.Move(tt.source, "My Space")
		if err != nil {
			t.Errorf("Move(%q) error: %v", tt.source, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Move(%q) = %q, want %q", tt.source, got, tt.want)
		}
		if _, err := os.Stat(filepath.Join(filepath.Dir(storage), got)); err != nil {
			t.Errorf("moved file missing: %v", err)
		}
	}

	if _, err := im.Move("data/a.png", "x"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("moving a missing file: err = %v, want ErrNotExist", err)
	}
	if _, err := im.Move("../../../etc/passwd", "x"); !errors.Is(err, pathguard.ErrPermission) {
		t.Errorf("escape: err = %v, want ErrPermission", err)
	}
}
