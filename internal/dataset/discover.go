package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var imageRegexp = regexp.MustCompile(`(?i)\.(jpe?g|png)$`)

// Entry is one labeled image file inside a class folder.
type Entry struct {
	Path  string
	Label int
}

// Discover scans a directory-per-class image folder. Every immediate
// subdirectory of root is a class; class indices follow sorted
// directory names.
func Discover(root string) ([]Entry, []string, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("read root: %w", err)
	}
	classes := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			classes = append(classes, d.Name())
		}
	}
	sort.Strings(classes)
	if len(classes) == 0 {
		return nil, nil, fmt.Errorf("no class folders under %s", root)
	}

	entries := make([]Entry, 0)
	for label, class := range classes {
		classRoot := filepath.Join(root, class)
		err := filepath.WalkDir(classRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if imageRegexp.MatchString(d.Name()) {
				entries = append(entries, Entry{Path: path, Label: label})
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("discover images in %s: %w", class, err)
		}
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("no images under %s", root)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, classes, nil
}
