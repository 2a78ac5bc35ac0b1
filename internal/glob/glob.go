// Package glob wraps doublestar matching with the pattern dialect used in
// asset configuration: "**" across directories, "{a,b}" alternatives, and
// the "+(a|b)" extglob form, which is rewritten to "{a,b}".
package glob

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var extglob = regexp.MustCompile(`[+@]\(([^()]*)\)`)

// Normalize converts a pattern to slash form and rewrites extglob groups.
func Normalize(pattern string) string {
	p := filepath.ToSlash(pattern)
	p = strings.TrimPrefix(p, "./")
	return extglob.ReplaceAllStringFunc(p, func(group string) string {
		inner := group[2 : len(group)-1]
		return "{" + strings.ReplaceAll(inner, "|", ",") + "}"
	})
}

// Validate reports whether pattern is well formed.
func Validate(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern")
	}
	if !doublestar.ValidatePattern(Normalize(pattern)) {
		return fmt.Errorf("malformed pattern %q", pattern)
	}
	return nil
}

// Match reports whether name matches pattern. Both are compared in slash
// form relative to the same base; a bad pattern never matches.
func Match(pattern, name string) bool {
	ok, err := doublestar.Match(Normalize(pattern), Normalize(name))
	return err == nil && ok
}

// Join places a pattern below a root directory.
func Join(root, pattern string) string {
	return path.Join(Normalize(root), Normalize(pattern))
}

// Base returns the longest leading directory of pattern without meta
// characters. Watching that directory covers every possible match.
func Base(pattern string) string {
	base, _ := doublestar.SplitPattern(Normalize(pattern))
	if base == "" {
		return "."
	}
	return filepath.FromSlash(base)
}

// Absolute anchors the static prefix of pattern at an absolute directory so
// it can be matched against absolute event paths.
func Absolute(pattern string) (string, error) {
	base, rest := doublestar.SplitPattern(Normalize(pattern))
	abs, err := filepath.Abs(filepath.FromSlash(base))
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", pattern, err)
	}
	return path.Join(filepath.ToSlash(abs), rest), nil
}

// Files returns the regular files under root whose root-relative path
// matches pattern, sorted, in slash-separated relative form. Directories
// listed in exclude, and everything below them, are skipped. A missing
// root yields no files.
func Files(root, pattern string, exclude ...string) ([]string, error) {
	pattern = Normalize(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("malformed pattern %q", pattern)
	}

	excluded := make(map[string]bool, len(exclude))
	for _, dir := range exclude {
		if abs, err := filepath.Abs(dir); err == nil {
			excluded[abs] = true
		}
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && len(excluded) > 0 {
				if abs, absErr := filepath.Abs(p); absErr == nil && excluded[abs] {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ok, _ := doublestar.Match(pattern, rel); ok {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}
