package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhuss/atelier/pkg/spaces"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "spaces"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.Load(ctx, "My Space"); !errors.Is(err, spaces.ErrNotFound) {
		t.Fatalf("Load() before save: err = %v, want ErrNotFound", err)
	}

	canvas := spaces.Canvas{
		"nodes":    []any{map[string]any{"id": "img-1", "src": "/data/fox.png"}},
		"viewport": map[string]any{"x": 0.0, "y": 0.0, "zoom": 1.0},
	}
	if err := s.Save(ctx, "My Space", canvas); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "my-space", CanvasFile)); err != nil {
		t.Fatalf("canvas file not written under the normalized id: %v", err)
	}

	got, err := s.Load(ctx, "my-space")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	meta, ok := got["metadata"].(map[string]any)
	if !ok || meta["space_id"] != "My Space" || meta["version"] != spaces.Version {
		t.Errorf("metadata = %v", got["metadata"])
	}
	if nodes := got["nodes"].([]any); len(nodes) != 1 {
		t.Errorf("nodes = %v", nodes)
	}
}

func TestStore_List(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	s.Save(ctx, "older", spaces.Canvas{"nodes": []any{}})
	clock = clock.Add(time.Hour)
	s.Save(ctx, "newer", spaces.Canvas{"nodes": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}})
	os.MkdirAll(filepath.Join(s.root, "empty-space"), 0o755)

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() = %+v", list)
	}
	if list[0].ID != "newer" || list[1].ID != "older" || list[2].ID != "empty-space" {
		t.Errorf("order = %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
	}
	if *list[0].NodeCount != 2 || list[0].Name != "Newer" {
		t.Errorf("newer = %+v", list[0])
	}
	if list[2].HasCanvas || list[2].Name != "Empty Space" {
		t.Errorf("empty = %+v", list[2])
	}
}

func TestStore_Delete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "ghost"); !errors.Is(err, spaces.ErrNotFound) {
		t.Errorf("Delete(ghost) = %v, want ErrNotFound", err)
	}
	s.Save(ctx, "doomed", spaces.Canvas{})
	os.WriteFile(filepath.Join(s.root, "doomed", "fox.png"), []byte("x"), 0o644)

	if err := s.Delete(ctx, "Doomed"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "doomed")); !os.IsNotExist(err) {
		t.Error("space directory should be gone")
	}
}

func TestStore_DeleteNode(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.DeleteNode(ctx, "ghost", "a"); !errors.Is(err, spaces.ErrNotFound) {
		t.Errorf("missing space: err = %v", err)
	}

	s.Save(ctx, "board", spaces.Canvas{"nodes": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}})
	if err := s.DeleteNode(ctx, "board", "zzz"); !errors.Is(err, spaces.ErrNodeNotFound) {
		t.Errorf("missing node: err = %v", err)
	}
	if err := s.DeleteNode(ctx, "board", "a"); err != nil {
		t.Fatalf("DeleteNode() error: %v", err)
	}

	got, _ := s.Load(ctx, "board")
	nodes := got["nodes"].([]any)
	if len(nodes) != 1 || nodes[0].(map[string]any)["id"] != "b" {
		t.Errorf("nodes = %v", nodes)
	}
}
