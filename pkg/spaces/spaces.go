package spaces

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a space has no canvas.
	ErrNotFound = errors.New("space not found")

	// ErrNodeNotFound is returned when a canvas has no node with the given ID.
	ErrNodeNotFound = errors.New("node not found")
)

// DefaultID is used when a name normalizes to nothing.
const DefaultID = "default"

// Version is written into saved canvas metadata.
const Version = "1.0"

// TimeFormat is the layout of metadata.saved_at. It sorts lexically.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Canvas is a canvas document.
type Canvas map[string]any

// Summary describes one space in a listing.
type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HasCanvas bool   `json:"has_canvas"`
	SavedAt   string `json:"saved_at,omitempty"`
	NodeCount *int   `json:"node_count,omitempty"`
}

// Store persists canvases. Implementations normalize IDs with NormalizeID.
type Store interface {
	// Save replaces the canvas of space id.
	Save(ctx context.Context, id string, canvas Canvas) error

	// Load returns the canvas of space id, or ErrNotFound.
	Load(ctx context.Context, id string) (Canvas, error)

	// List returns all spaces, most recently saved first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes space id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// DeleteNode removes the node nodeID from the canvas of space id.
	// It returns ErrNotFound or ErrNodeNotFound.
	DeleteNode(ctx context.Context, id, nodeID string) error

	Close() error
}

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	dashes   = regexp.MustCompile(`-+`)
)

// NormalizeID maps a space name to a safe identifier: lowercase, runs of
// other characters collapsed to a single hyphen, no leading or trailing
// hyphens.
func NormalizeID(name string) string {
	id := nonAlnum.ReplaceAllString(strings.ToLower(name), "-")
	id = dashes.ReplaceAllString(strings.Trim(id, "-"), "-")
	if id == "" {
		return DefaultID
	}
	return id
}

// DisplayName turns an ID back into a title, "my-space" into "My Space".
func DisplayName(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Stamp returns a copy of c with its metadata set for a save of space id
// at now. The ID is recorded as given by the caller.
func Stamp(c Canvas, id string, now time.Time) Canvas {
	out := make(Canvas, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out["metadata"] = map[string]any{
		"space_id": id,
		"saved_at": now.UTC().Format(TimeFormat),
		"version":  Version,
	}
	return out
}

// RemoveNode deletes the nodes whose "id" equals nodeID and refreshes
// metadata.saved_at. It reports whether anything was removed; c is left
// untouched when nothing matches.
func RemoveNode(c Canvas, nodeID string, now time.Time) bool {
	nodes, _ := c["nodes"].([]any)
	kept := make([]any, 0, len(nodes))
	for _, n := range nodes {
		if m, ok := n.(map[string]any); ok && m["id"] == nodeID {
			continue
		}
		kept = append(kept, n)
	}
	if len(kept) == len(nodes) {
		return false
	}
	c["nodes"] = kept

	meta, ok := c["metadata"].(map[string]any)
	if !ok {
		meta = make(map[string]any)
		c["metadata"] = meta
	}
	meta["saved_at"] = now.UTC().Format(TimeFormat)
	return true
}

// Summarize builds the listing entry for space id. c is nil when the space
// has no readable canvas.
func Summarize(id string, c Canvas) Summary {
	s := Summary{ID: id, Name: DisplayName(id), HasCanvas: c != nil}
	if c == nil {
		return s
	}
	if meta, ok := c["metadata"].(map[string]any); ok {
		s.SavedAt, _ = meta["saved_at"].(string)
	}
	nodes, _ := c["nodes"].([]any)
	n := len(nodes)
	s.NodeCount = &n
	return s
}
