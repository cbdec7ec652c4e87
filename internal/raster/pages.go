package raster

import (
	"os"
	"sync"
)

// Pages is the ordered set of rendered page images of one PDF, stored in a
// temporary directory owned by this value.
type Pages struct {
	dir   string
	paths []string

	once       sync.Once
	releaseErr error
}

// NewPages wraps an existing directory and its page paths. Release removes dir.
func NewPages(dir string, paths []string) *Pages {
	return &Pages{dir: dir, paths: paths}
}

// Paths returns the page image paths in page order (1..N).
func (p *Pages) Paths() []string {
	out := make([]string, len(p.paths))
	copy(out, p.paths)
	return out
}

// Len returns the number of pages.
func (p *Pages) Len() int {
	return len(p.paths)
}

// Dir returns the directory holding the page images.
func (p *Pages) Dir() string {
	return p.dir
}

// Release removes the temporary directory. Removal runs exactly once; later
// calls return the result of the first.
func (p *Pages) Release() error {
	p.once.Do(func() {
		p.releaseErr = os.RemoveAll(p.dir)
	})
	return p.releaseErr
}
