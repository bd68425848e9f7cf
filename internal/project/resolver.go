// Package project resolves the project root for a target file by walking
// parent directories looking for marker files.
package project

import (
	"os"
	"path/filepath"
)

// DefaultMaxDepth bounds the upward walk so a file deep in an unmarked tree
// cannot trigger an unbounded traversal.
const DefaultMaxDepth = 10

// DefaultMarkers are the filenames that identify a project root. ".git" may
// be a directory; either form counts.
var DefaultMarkers = []string{"package.json", "deno.json", "deno.jsonc", ".git"}

type Resolver struct {
	Markers  []string
	MaxDepth int
}

func NewResolver(markers []string, maxDepth int) *Resolver {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{Markers: markers, MaxDepth: maxDepth}
}

// ResolveRoot returns the closest ancestor of filePath containing a marker,
// checking at most MaxDepth directories starting from the file's own. When
// no marker is found, or on any internal error, it returns the file's own
// directory: resolution failures degrade, they never abort a session.
func (r *Resolver) ResolveRoot(filePath string) string {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return filepath.Dir(filePath)
	}
	own := filepath.Dir(abs)

	dir := own
	for i := 0; i < r.MaxDepth; i++ {
		for _, marker := range r.Markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return own
}
