// Package graph builds the module dependency graph of a specification tree
// and assigns each module a topological level.
package graph

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultDepsFile is the dependency declaration inside each module directory.
const DefaultDepsFile = "dependencies.txt"

// ErrMissingDependencyFile is matched when a module has no dependency file.
var ErrMissingDependencyFile = errors.New("missing dependency file")

// MissingDepsError names the module whose dependency file is absent.
type MissingDepsError struct {
	Module string
	File   string
}

func (e *MissingDepsError) Error() string {
	return fmt.Sprintf("module %s: %v %s", e.Module, ErrMissingDependencyFile, e.File)
}

func (e *MissingDepsError) Unwrap() error { return ErrMissingDependencyFile }

// CycleError reports a dependency cycle. Path starts and ends at Module.
type CycleError struct {
	Module string
	Path   []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle at module %s: %s", e.Module, strings.Join(e.Path, " -> "))
}

// Node is one module.
type Node struct {
	// Path is the module directory, slash-separated and relative to the
	// project root.
	Path string
	// SpecPath is the specification file the module was discovered from.
	SpecPath string
	// Dependencies are the known modules this one declares, in file order.
	Dependencies []string
	Level        int
}

// Graph is the set of modules with their levels.
type Graph struct {
	nodes map[string]*Node
}

// Build reads <module>/<depsFile> for every spec path and computes levels.
// Spec paths are relative to root. Unknown dependencies are dropped.
func Build(root string, specPaths []string, depsFile string) (*Graph, error) {
	if depsFile == "" {
		depsFile = DefaultDepsFile
	}

	g := &Graph{nodes: make(map[string]*Node, len(specPaths))}
	for _, sp := range specPaths {
		sp = path.Clean(filepath.ToSlash(sp))
		dir := path.Dir(sp)
		g.nodes[dir] = &Node{Path: dir, SpecPath: sp}
	}

	for _, name := range g.names() {
		n := g.nodes[name]
		file := path.Join(n.Path, depsFile)
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
		if errors.Is(err, os.ErrNotExist) {
			return nil, &MissingDepsError{Module: n.Path, File: file}
		}
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", n.Path, err)
		}

		seen := make(map[string]bool)
		for _, dep := range ParseDependencies(data) {
			if _, known := g.nodes[dep]; !known || seen[dep] {
				continue
			}
			seen[dep] = true
			n.Dependencies = append(n.Dependencies, dep)
		}
	}

	if err := g.computeLevels(); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseDependencies returns the module directories listed in a dependency
// file. Blank lines and lines starting with # or // are skipped.
func ParseDependencies(data []byte) []string {
	var deps []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		deps = append(deps, path.Clean(strings.ReplaceAll(line, `\`, "/")))
	}
	return deps
}

// computeLevels runs a depth-first search with an explicit on-stack set.
func (g *Graph) computeLevels() error {
	resolved := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool)
	var stack []string

	var visit func(name string) (int, error)
	visit = func(name string) (int, error) {
		n := g.nodes[name]
		if resolved[name] {
			return n.Level, nil
		}
		if onStack[name] {
			start := 0
			for i, s := range stack {
				if s == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), stack[start:]...), name)
			return 0, &CycleError{Module: name, Path: cycle}
		}

		onStack[name] = true
		stack = append(stack, name)

		level := 0
		for _, dep := range n.Dependencies {
			l, err := visit(dep)
			if err != nil {
				return 0, err
			}
			if l+1 > level {
				level = l + 1
			}
		}

		stack = stack[:len(stack)-1]
		delete(onStack, name)
		n.Level = level
		resolved[name] = true
		return level, nil
	}

	// Sorted roots make the reported cycle deterministic.
	for _, name := range g.names() {
		if _, err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) names() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Node returns the module at dir.
func (g *Graph) Node(dir string) (*Node, bool) {
	n, ok := g.nodes[dir]
	return n, ok
}

// Level returns the level of the module at dir, or -1 when unknown.
func (g *Graph) Level(dir string) int {
	if n, ok := g.nodes[dir]; ok {
		return n.Level
	}
	return -1
}

// Len returns the number of modules.
func (g *Graph) Len() int { return len(g.nodes) }

// Order returns the modules sorted by level, then path.
func (g *Graph) Order() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, name := range g.names() {
		out = append(out, g.nodes[name])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}
