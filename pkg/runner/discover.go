package runner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/comtihon/catcher/pkg/schema"
)

// Filter selects root tests by doublestar patterns matched against the path
// relative to the searched directory. An empty Include matches everything.
type Filter struct {
	Include []string
	Exclude []string
}

func (f Filter) match(rel string) (bool, error) {
	rel = filepath.ToSlash(rel)
	for _, p := range f.Exclude {
		ok, err := doublestar.Match(p, rel)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		if ok {
			return false, nil
		}
	}
	if len(f.Include) == 0 {
		return true, nil
	}
	for _, p := range f.Include {
		ok, err := doublestar.Match(p, rel)
		if err != nil {
			return false, fmt.Errorf("include pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Discover returns the test documents under path. A file is returned as is;
// a directory is walked recursively for .yaml, .yml and .json files, sorted.
func Discover(path string, f Filter) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tests: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var out []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !schema.IsDocument(p) {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		ok, err := f.match(rel)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
