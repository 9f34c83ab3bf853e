package spaces

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/pathguard"
)

// SpacesDir is the subdirectory of the storage directory holding spaces.
const SpacesDir = "spaces"

// Images moves artifact files from the storage directory into spaces.
type Images struct {
	guard   *pathguard.Guard
	dirName string
}

// NewImages creates an Images rooted at storageDir, which must exist.
func NewImages(storageDir string) (*Images, error) {
	g, err := pathguard.New(storageDir)
	if err != nil {
		return nil, fmt.Errorf("guarding storage dir: %w", err)
	}
	return &Images{guard: g, dirName: filepath.Base(g.Root())}, nil
}

// Move moves source into the directory of space id and returns the new
// location relative to the storage directory's parent, for example
// "data/spaces/my-space/fox.png". source may be a URL, a path relative to
// the storage directory's parent ("data/fox.png"), a path relative to the
// storage directory, or an absolute path. A missing source yields an error
// matching fs.ErrNotExist; a source outside the storage directory yields a
// pathguard.ErrPermission.
func (im *Images) Move(source, id string) (string, error) {
	rel := im.relative(source)
	src, err := im.guard.Resolve(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: %w", source, fs.ErrNotExist)
	}

	id = NormalizeID(id)
	dstDir, err := im.guard.Resolve(SpacesDir, id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("creating space dir: %w", err)
	}

	name := filepath.Base(src)
	dst := filepath.Join(dstDir, name)
	if src != dst {
		if err := os.Rename(src, dst); err != nil {
			return "", fmt.Errorf("moving %s: %w", name, err)
		}
	}
	debug.Log("storage", "image moved", "from", src, "to", dst)
	return path.Join(im.dirName, SpacesDir, id, name), nil
}

// relative strips the URL, storage-directory prefix and leading slashes
// from source.
func (im *Images) relative(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	if filepath.IsAbs(p) {
		if _, err := im.guard.Resolve(p); err == nil {
			return p
		}
	}
	p = strings.TrimLeft(p, "/")
	if rest, ok := strings.CutPrefix(p, im.dirName+"/"); ok {
		return rest
	}
	return p
}
