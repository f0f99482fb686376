package fqn

import (
	"path/filepath"
	"strings"
)

// NormalizeCrate converts a Cargo package name to its identifier form.
// Cargo allows hyphens in package names; Rust paths do not.
func NormalizeCrate(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// ModulePath returns the Rust module path for a source file inside a crate.
// relPath is relative to the crate root (the directory holding Cargo.toml).
// Examples:
//   - src/lib.rs        -> mycrate
//   - src/main.rs       -> mycrate
//   - src/io.rs         -> mycrate::io
//   - src/io/mod.rs     -> mycrate::io
//   - src/io/socket.rs  -> mycrate::io::socket
//   - tests/smoke.rs    -> mycrate::smoke
func ModulePath(crate, relPath string) string {
	crate = NormalizeCrate(crate)
	relPath = strings.TrimSuffix(filepath.ToSlash(relPath), ".rs")
	parts := strings.Split(relPath, "/")

	// Strip the source-root directory.
	if len(parts) > 0 {
		switch parts[0] {
		case "src", "tests", "benches", "examples":
			parts = parts[1:]
		}
	}
	// Crate-root and module-root files do not contribute a segment.
	if n := len(parts); n > 0 {
		switch parts[n-1] {
		case "lib", "main", "mod":
			parts = parts[:n-1]
		}
	}

	if len(parts) == 0 {
		return crate
	}
	return crate + "::" + strings.Join(parts, "::")
}

// Join appends name segments to a module path.
func Join(modulePath string, names ...string) string {
	elems := append([]string{modulePath}, names...)
	return strings.Join(elems, "::")
}

// SimpleName returns the last segment of a :: qualified path.
func SimpleName(qualified string) string {
	if i := strings.LastIndex(qualified, "::"); i >= 0 {
		return qualified[i+2:]
	}
	return qualified
}

// CrateOf returns the first segment of a :: qualified path.
func CrateOf(qualified string) string {
	if i := strings.Index(qualified, "::"); i >= 0 {
		return qualified[:i]
	}
	return qualified
}

// RerootCrateAlias rewrites a crate-relative path ("crate::x::Y") to the
// concrete crate name. Paths not starting with "crate::" are returned as is.
func RerootCrateAlias(path, crate string) string {
	if path == "crate" {
		return NormalizeCrate(crate)
	}
	if rest, ok := strings.CutPrefix(path, "crate::"); ok {
		return NormalizeCrate(crate) + "::" + rest
	}
	return path
}
