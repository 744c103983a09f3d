// Package fsutil provides file system utility functions.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FindFiles resolves each argument to the files ending with extension.
// Directories are searched recursively, arguments containing glob
// metacharacters are matched with doublestar (`patches/**/*.hcl`), and any
// other argument must name a file. The result is sorted and free of
// duplicates.
func FindFiles(extension string, args ...string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		path = filepath.Clean(path)
		if !seen[path] && strings.HasSuffix(path, extension) {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, arg := range args {
		if strings.ContainsAny(arg, "*?[{") {
			matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("glob %s: %w", arg, err)
			}
			for _, m := range matches {
				add(m)
			}
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(filepath.Join(arg, "**", "*"+extension), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", arg, err)
		}
		for _, m := range matches {
			add(m)
		}
	}
	slices.Sort(files)
	return files, nil
}
