// Package pathutil implements path resolution helpers: appending the
// default PATH, resolving an executable name
// against a colon-separated path list, and taking the directory portion
// of a path.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath is the colon-separated default search path appended by
// AppendDefault when no environment override is present.
const DefaultPath = "/usr/bin:/bin:/usr/sbin:/sbin"

// AppendDefault returns "path:$DEFAULT_PATH", or just $DEFAULT_PATH when
// path is empty.
func AppendDefault(path string) string {
	if path == "" {
		return DefaultPath
	}
	return path + ":" + DefaultPath
}

// ErrNotFound indicates Resolve could not find an executable regular file
// for name anywhere on the given path.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "path: executable not found" }

// Resolve returns the first directory in which name is an executable
// regular file. Absolute paths are canonicalized directly; "./"-prefixed
// and other non-slash-relative names are canonicalized against the
// current working directory; bare names are searched across each
// directory in colonSepPath in order.
func Resolve(name string, colonSepPath string) (string, error) {
	if filepath.IsAbs(name) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", err
		}
		if isExecutableRegularFile(abs) {
			return filepath.Dir(abs), nil
		}
		return "", ErrNotFound
	}

	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") || strings.Contains(name, "/") {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		abs := filepath.Join(cwd, name)
		if isExecutableRegularFile(abs) {
			return filepath.Dir(abs), nil
		}
		return "", ErrNotFound
	}

	for _, dir := range strings.Split(colonSepPath, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if isExecutableRegularFile(candidate) {
			return dir, nil
		}
	}

	return "", ErrNotFound
}

func isExecutableRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode()&0111 != 0
}

// Dirname returns the longest prefix of p up to (but not including) the
// last "/". An empty string or a path with no slash returns ".".
func Dirname(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "."
	}
	if idx == 0 {
		return "/"
	}
	return p[:idx]
}
