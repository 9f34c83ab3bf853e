// Package filesystem stores space canvases as <root>/<id>/canvas.json.
package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/spaces"
)

// CanvasFile is the canvas document name inside a space directory.
const CanvasFile = "canvas.json"

var _ spaces.Store = (*Store)(nil)

// Store is a directory-backed spaces.Store.
type Store struct {
	root string
	now  func() time.Time

	// mu serializes read-modify-write cycles within the process.
	mu sync.Mutex
}

// New creates a Store under root, creating it if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating spaces root: %w", err)
	}
	return &Store{root: root, now: time.Now}, nil
}

func (s *Store) canvasPath(id string) string {
	return filepath.Join(s.root, spaces.NormalizeID(id), CanvasFile)
}

// Save writes the canvas atomically.
func (s *Store) Save(_ context.Context, id string, canvas spaces.Canvas) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(s.canvasPath(id), spaces.Stamp(canvas, id, s.now()))
}

// Load reads the canvas of space id.
func (s *Store) Load(_ context.Context, id string) (spaces.Canvas, error) {
	return s.read(s.canvasPath(id))
}

// List returns every space directory, most recently saved first.
func (s *Store) List(_ context.Context) ([]spaces.Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}

	list := make([]spaces.Summary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := s.read(filepath.Join(s.root, e.Name(), CanvasFile))
		sum := spaces.Summarize(e.Name(), c)
		if err != nil && !errors.Is(err, spaces.ErrNotFound) {
			slog.Warn("unreadable canvas", "space", e.Name(), "error", err.Error())
			sum.HasCanvas = true
		}
		list = append(list, sum)
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].SavedAt > list[j].SavedAt
	})
	return list, nil
}

// Delete removes the space directory and everything in it.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, spaces.NormalizeID(id))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return spaces.ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting space: %w", err)
	}
	debug.Log("storage", "space deleted", "space", id)
	return nil
}

// DeleteNode removes one node from the canvas.
func (s *Store) DeleteNode(_ context.Context, id, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.canvasPath(id)
	c, err := s.read(path)
	if err != nil {
		return err
	}
	if !spaces.RemoveNode(c, nodeID, s.now()) {
		return spaces.ErrNodeNotFound
	}
	return s.write(path, c)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) read(path string) (spaces.Canvas, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, spaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading canvas: %w", err)
	}
	var c spaces.Canvas
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if c == nil {
		c = spaces.Canvas{}
	}
	return c, nil
}

func (s *Store) write(path string, c spaces.Canvas) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding canvas: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating space dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".canvas-*.json")
	if err != nil {
		return fmt.Errorf("writing canvas: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing canvas: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing canvas: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing canvas: %w", err)
	}
	debug.Log("storage", "canvas saved", "path", path, "bytes", len(data))
	return nil
}
