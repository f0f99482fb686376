// Package discover walks a Rust workspace and enumerates its crates and
// their source files.
package discover

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// IGNORE_PATTERNS are directory names to skip during discovery.
var IGNORE_PATTERNS = map[string]bool{
	".cache": true, ".cargo": true, ".git": true, ".github": true,
	".hg": true, ".idea": true, ".svn": true, ".tmp": true,
	".vs": true, ".vscode": true, "node_modules": true, "target": true,
	"dist": true, "out": true, "tmp": true, "vendor": true,
}

// IGNORE_SUFFIXES are file suffixes to skip.
var IGNORE_SUFFIXES = map[string]bool{
	".tmp": true, "~": true, ".o": true, ".a": true,
	".so": true, ".rlib": true, ".rmeta": true,
}

// FileInfo is one discovered Rust source file.
type FileInfo struct {
	Path    string // absolute path
	RelPath string // relative to the crate root
	IsTest  bool   // tests/, examples/, benches/ path convention
}

// Crate is one discovered compilation unit.
type Crate struct {
	Name         string // normalized package name
	RawName      string // package name as written in the manifest
	Root         string // absolute path to the directory holding Cargo.toml
	ManifestPath string
	Dependencies []string // names of workspace-internal and external deps
	Files        []FileInfo
}

// Workspace is the discovery result for one workspace root.
type Workspace struct {
	Root   string
	Crates []Crate
}

// FileCount is the total number of source files across all crates.
func (w *Workspace) FileCount() int {
	total := 0
	for i := range w.Crates {
		total += len(w.Crates[i].Files)
	}
	return total
}

// Options configures workspace discovery.
type Options struct {
	IgnoreFile    string   // path to .crategraphignore (optional)
	ExcludeCrates []string // crate names to skip
}

// ErrNoCrates is returned when the workspace contains no analyzable units.
// It is the only fatal discovery condition.
var ErrNoCrates = fmt.Errorf("no crates found")

type manifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Dependencies    map[string]any `toml:"dependencies"`
	DevDependencies map[string]any `toml:"dev-dependencies"`
	Workspace       *struct {
		Members []string `toml:"members"`
	} `toml:"workspace"`
}

// Discover walks root and returns every crate (directory with a Cargo.toml
// declaring a [package]) together with its .rs files.
func Discover(ctx context.Context, root string, opts *Options) (*Workspace, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var extraIgnore []string
	if opts != nil && opts.IgnoreFile != "" {
		extraIgnore, _ = loadIgnoreFile(opts.IgnoreFile)
	} else {
		extraIgnore, _ = loadIgnoreFile(filepath.Join(root, ".crategraphignore"))
	}
	excluded := map[string]bool{}
	if opts != nil {
		for _, name := range opts.ExcludeCrates {
			excluded[name] = true
		}
	}

	var manifests []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(root, path)
		if info.IsDir() {
			if path != root && shouldSkipDir(info.Name(), rel, extraIgnore) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() == "Cargo.toml" {
			manifests = append(manifests, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ws := &Workspace{Root: root}
	for _, mpath := range manifests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crate, cerr := loadCrate(ctx, mpath, extraIgnore)
		if cerr != nil {
			// A broken manifest skips that crate, not the run.
			continue
		}
		if crate == nil || excluded[crate.RawName] {
			continue
		}
		ws.Crates = append(ws.Crates, *crate)
	}
	sort.Slice(ws.Crates, func(i, j int) bool { return ws.Crates[i].Name < ws.Crates[j].Name })

	if len(ws.Crates) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoCrates, root)
	}
	return ws, nil
}

func loadCrate(ctx context.Context, manifestPath string, extraIgnore []string) (*Crate, error) {
	var m manifest
	if _, err := toml.DecodeFile(manifestPath, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
	}
	if m.Package.Name == "" {
		// Virtual workspace manifest; its members are discovered by their
		// own Cargo.toml files.
		return nil, nil
	}

	crateRoot := filepath.Dir(manifestPath)
	crate := &Crate{
		Name:         strings.ReplaceAll(m.Package.Name, "-", "_"),
		RawName:      m.Package.Name,
		Root:         crateRoot,
		ManifestPath: manifestPath,
	}
	for dep := range m.Dependencies {
		crate.Dependencies = append(crate.Dependencies, strings.ReplaceAll(dep, "-", "_"))
	}
	sort.Strings(crate.Dependencies)

	err := filepath.Walk(crateRoot, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(crateRoot, path)
		if info.IsDir() {
			if path != crateRoot && shouldSkipDir(info.Name(), rel, extraIgnore) {
				return filepath.SkipDir
			}
			// Nested crates own their files.
			if path != crateRoot {
				if _, statErr := os.Stat(filepath.Join(path, "Cargo.toml")); statErr == nil {
					return filepath.SkipDir
				}
			}
			return nil
		}
		for suffix := range IGNORE_SUFFIXES {
			if strings.HasSuffix(path, suffix) {
				return nil
			}
		}
		if filepath.Ext(path) != ".rs" {
			return nil
		}
		crate.Files = append(crate.Files, FileInfo{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			IsTest:  isTestPath(rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return crate, nil
}

// isTestPath reports whether a crate-relative path is test context by
// directory convention.
func isTestPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		switch part {
		case "tests", "examples", "benches":
			return true
		}
	}
	return false
}

func shouldSkipDir(name, rel string, extraIgnore []string) bool {
	if IGNORE_PATTERNS[name] {
		return true
	}
	for _, pattern := range extraIgnore {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
