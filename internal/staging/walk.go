package staging

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrNoSegment is returned when no file with the wanted extension
// exists anywhere under the root.
var ErrNoSegment = errors.New("no data segment found")

// FindByExt walks the tree under root depth-first in lexical order and
// returns the path of the first regular file whose name has the given
// extension (e.g. ".json"). The traversal order is deterministic, so
// repeated calls over the same tree return the same file.
func FindByExt(root, ext string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ext) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", ErrNoSegment
	}
	return found, nil
}
