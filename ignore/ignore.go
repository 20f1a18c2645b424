// Package ignore provides gitignore-style pattern matching used when
// capturing project snapshots.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type pattern struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher filters paths against an ordered list of ignore patterns. Later
// patterns override earlier ones, negation included.
type Matcher struct {
	patterns []pattern
}

// New creates an empty matcher.
func New() *Matcher {
	return &Matcher{}
}

// Compile creates a matcher from pattern strings.
func Compile(patterns []string) *Matcher {
	m := New()
	m.AddPatterns(patterns)
	return m
}

// AddPattern parses and appends one gitignore-style pattern line. Blank lines
// and comments are skipped.
func (m *Matcher) AddPattern(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	p := pattern{}
	if strings.HasPrefix(line, "!") {
		p.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		p.anchored = true
		line = line[1:]
	}
	// Unanchored patterns without a slash match the basename at any depth.
	if !p.anchored && !strings.Contains(line, "/") {
		line = "**/" + line
	}

	p.glob = line
	m.patterns = append(m.patterns, p)
}

// AddPatterns appends multiple pattern lines.
func (m *Matcher) AddPatterns(lines []string) {
	for _, line := range lines {
		m.AddPattern(line)
	}
}

// LoadFile appends patterns from a gitignore-style file. A missing file is
// not an error.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPattern(scanner.Text())
	}
	return scanner.Err()
}

// Match reports whether a slash-separated relative path should be ignored.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")

	ignored := false
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			if insideMatchingDir(p.glob, path) {
				ignored = !p.negated
			}
			continue
		}
		if matchGlob(p.glob, path) {
			ignored = !p.negated
		}
	}
	return ignored
}

// insideMatchingDir reports whether any strict parent of path matches glob.
func insideMatchingDir(glob, path string) bool {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(glob, path string) bool {
	if ok, _ := doublestar.Match(glob, path); ok {
		return true
	}
	// "node_modules" should also cover "node_modules/a/b".
	if !strings.HasSuffix(glob, "/**") {
		if ok, _ := doublestar.Match(glob+"/**", path); ok {
			return true
		}
	}
	return false
}

// Defaults are the patterns always excluded from snapshot capture.
var Defaults = []string{
	".git/",
	".kod/",
	".svn/",
	".hg/",
	".DS_Store",
	"Thumbs.db",
	"*.tmp",
	"*.swp",
	"*.bak",
	"*.log",
	"node_modules/",
	"dist/",
	"build/",
	"out/",
	"coverage/",
	"__pycache__/",
	"target/",
	"bin/",
	"*.db-shm",
	"*.db-wal",
	"*.sqlite*",
}

// LoadFromDir builds a matcher for a project directory: defaults first, then
// .gitignore, then .kodignore so project patterns can override with negation.
func LoadFromDir(dir string) (*Matcher, error) {
	m := New()
	m.AddPatterns(Defaults)
	if err := m.LoadFile(filepath.Join(dir, ".gitignore")); err != nil {
		return nil, err
	}
	if err := m.LoadFile(filepath.Join(dir, ".kodignore")); err != nil {
		return nil, err
	}
	return m, nil
}
