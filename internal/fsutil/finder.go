// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
)

// FindFiles recursively collects the regular files under root whose base name
// satisfies match, in lexical order. A missing root yields no files.
func FindFiles(root string, match func(name string) bool) ([]string, error) {
	if match == nil {
		panic("match must not be nil")
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() && match(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
