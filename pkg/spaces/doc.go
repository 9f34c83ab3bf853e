// Package spaces persists canvas documents grouped into named spaces.
//
// A space is identified by a normalized ID and holds one canvas: an
// arbitrary JSON object whose "nodes" array lists the items placed on it.
// Saving stamps the document with a "metadata" object. Backends live in
// the filesystem and postgres subpackages.
package spaces
