package actor

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateName rejects empty names and anything outside [a-zA-Z0-9_-].
func validateName(name string) error {
	if !nameRe.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func parentPath(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func pathName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
