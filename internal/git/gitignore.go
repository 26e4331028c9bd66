package git

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnoreFile is the ignore file read from the project root.
const DefaultIgnoreFile = ".gitignore"

// pattern represents a single gitignore pattern.
type pattern struct {
	pattern  string
	negation bool // starts with !
	dirOnly  bool // ends with /
	anchored bool // contains / before the last character
	line     int
}

// PatternError reports an ignore-file line the glob compiler rejects.
type PatternError struct {
	File    string
	Line    int
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid ignore pattern %q at %s:%d", e.Pattern, e.File, e.Line)
}

// GitIgnore parses and matches the patterns of a single ignore file.
type GitIgnore struct {
	workDir  string
	file     string
	patterns []pattern
	mu       sync.RWMutex
	loaded   bool
}

// NewGitIgnore creates a matcher for <workDir>/.gitignore.
func NewGitIgnore(workDir string) *GitIgnore {
	return NewGitIgnoreFile(workDir, DefaultIgnoreFile)
}

// NewGitIgnoreFile creates a matcher for an ignore file relative to workDir.
func NewGitIgnoreFile(workDir, file string) *GitIgnore {
	if file == "" {
		file = DefaultIgnoreFile
	}
	return &GitIgnore{
		workDir: workDir,
		file:    file,
	}
}

// Load reads the ignore file once. A missing file matches nothing; a pattern
// doublestar cannot compile is returned as *PatternError.
func (g *GitIgnore) Load() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.patterns = g.patterns[:0]
	g.loaded = true

	full := filepath.Join(g.workDir, g.file)
	if err := g.loadFile(full); err != nil && !os.IsNotExist(err) {
		return err
	}

	// .git is never part of the tree we reason about.
	g.patterns = append(g.patterns, pattern{
		pattern: ".git",
		dirOnly: true,
	})
	return nil
}

func (g *GitIgnore) loadFile(full string) error {
	file, err := os.Open(full)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		p := parseLine(scanner.Text())
		if p == nil {
			continue
		}
		p.line = lineNo
		if !doublestar.ValidatePattern(p.pattern) {
			return &PatternError{File: g.file, Line: lineNo, Pattern: scanner.Text()}
		}
		g.patterns = append(g.patterns, *p)
	}
	return scanner.Err()
}

// parseLine parses a single gitignore line. Blank lines and comments yield nil.
func parseLine(line string) *pattern {
	line = strings.TrimRight(line, " \t\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	p := &pattern{}

	if strings.HasPrefix(line, "!") {
		p.negation = true
		line = line[1:]
	}
	// \# and \! escape a leading literal.
	if strings.HasPrefix(line, `\#`) || strings.HasPrefix(line, `\!`) {
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	if strings.Contains(line, "/") {
		p.anchored = true
	}
	line = strings.TrimPrefix(line, "/")

	if line == "" {
		return nil
	}
	p.pattern = line
	return p
}

// AddPattern adds a pattern programmatically.
func (g *GitIgnore) AddPattern(pat string) error {
	p := parseLine(pat)
	if p == nil {
		return nil
	}
	if !doublestar.ValidatePattern(p.pattern) {
		return &PatternError{File: "<inline>", Pattern: pat}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.patterns = append(g.patterns, *p)
	g.loaded = true
	return nil
}

// Match reports whether rel (slash separated, relative to the work dir)
// is ignored on its own, without looking at parent directories.
// The last matching pattern wins, so negations can re-include a path.
func (g *GitIgnore) Match(rel string, isDir bool) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.loaded {
		return false
	}
	rel = strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "./")

	ignored := false
	for _, p := range g.patterns {
		if matchPattern(p, rel, isDir) {
			ignored = !p.negation
		}
	}
	return ignored
}

// IsIgnoredRel reports whether rel or any of its parent directories is ignored.
func (g *GitIgnore) IsIgnoredRel(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "./")
	if rel == "." || rel == "" {
		return false
	}

	segments := strings.Split(rel, "/")
	for i := 1; i < len(segments); i++ {
		if g.Match(strings.Join(segments[:i], "/"), true) {
			return true
		}
	}
	return g.Match(rel, isDir)
}

// IsIgnored checks an absolute or work-dir relative path, including its
// parent directories. Directory-ness is taken from the filesystem.
func (g *GitIgnore) IsIgnored(p string) bool {
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(g.workDir, p)
	}
	rel, err := filepath.Rel(g.workDir, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}

	info, err := os.Stat(full)
	isDir := err == nil && info.IsDir()
	return g.IsIgnoredRel(rel, isDir)
}

// matchPattern checks if a path matches a gitignore pattern.
func matchPattern(p pattern, rel string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}

	if p.anchored {
		return globMatch(p.pattern, rel)
	}
	// Unanchored patterns match at any depth; **/ also matches zero directories.
	return globMatch("**/"+p.pattern, rel)
}

func globMatch(pattern, name string) bool {
	matched, err := doublestar.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}

// IsLoaded returns whether the ignore file has been loaded.
func (g *GitIgnore) IsLoaded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loaded
}

// PatternCount returns the number of active patterns.
func (g *GitIgnore) PatternCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.patterns)
}
