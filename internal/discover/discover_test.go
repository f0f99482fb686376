package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverBasic(t *testing.T) {
	dir := t.TempDir()

	write(t, filepath.Join(dir, "Cargo.toml"), `[package]
name = "my-app"
version = "0.1.0"

[dependencies]
serde = "1"
core-lib = { path = "../core-lib" }
`)
	write(t, filepath.Join(dir, "src", "main.rs"), "fn main() {}\n")
	write(t, filepath.Join(dir, "src", "db.rs"), "pub struct Pool;\n")
	write(t, filepath.Join(dir, "tests", "smoke.rs"), "#[test]\nfn smoke() {}\n")
	write(t, filepath.Join(dir, "README.md"), "not rust\n")

	ws, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(ws.Crates) != 1 {
		t.Fatalf("expected 1 crate, got %d", len(ws.Crates))
	}

	c := ws.Crates[0]
	if c.Name != "my_app" || c.RawName != "my-app" {
		t.Errorf("crate name = %q / %q", c.Name, c.RawName)
	}
	if len(c.Files) != 3 {
		t.Fatalf("expected 3 source files, got %d", len(c.Files))
	}
	deps := map[string]bool{}
	for _, d := range c.Dependencies {
		deps[d] = true
	}
	if !deps["serde"] || !deps["core_lib"] {
		t.Errorf("dependencies = %v", c.Dependencies)
	}

	byRel := map[string]FileInfo{}
	for _, f := range c.Files {
		byRel[f.RelPath] = f
		if f.Path == "" || !filepath.IsAbs(f.Path) {
			t.Errorf("file %s has bad absolute path %q", f.RelPath, f.Path)
		}
	}
	if byRel["src/main.rs"].IsTest {
		t.Error("src/main.rs flagged as test context")
	}
	if !byRel["tests/smoke.rs"].IsTest {
		t.Error("tests/smoke.rs not flagged as test context")
	}
}

func TestDiscoverVirtualWorkspace(t *testing.T) {
	dir := t.TempDir()

	write(t, filepath.Join(dir, "Cargo.toml"), `[workspace]
members = ["core", "api"]
`)
	write(t, filepath.Join(dir, "core", "Cargo.toml"), `[package]
name = "core"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "core", "src", "lib.rs"), "pub fn id() {}\n")
	write(t, filepath.Join(dir, "api", "Cargo.toml"), `[package]
name = "api"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "api", "src", "lib.rs"), "pub fn serve() {}\n")

	ws, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	// The virtual root manifest yields no crate of its own.
	if len(ws.Crates) != 2 {
		t.Fatalf("expected 2 crates, got %d", len(ws.Crates))
	}
	if ws.Crates[0].Name != "api" || ws.Crates[1].Name != "core" {
		t.Errorf("crates not sorted by name: %s, %s", ws.Crates[0].Name, ws.Crates[1].Name)
	}
}

func TestDiscoverNestedCrateOwnsFiles(t *testing.T) {
	dir := t.TempDir()

	write(t, filepath.Join(dir, "Cargo.toml"), `[package]
name = "outer"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "src", "lib.rs"), "pub fn outer() {}\n")
	write(t, filepath.Join(dir, "inner", "Cargo.toml"), `[package]
name = "inner"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "inner", "src", "lib.rs"), "pub fn inner() {}\n")

	ws, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(ws.Crates) != 2 {
		t.Fatalf("expected 2 crates, got %d", len(ws.Crates))
	}
	for _, c := range ws.Crates {
		if len(c.Files) != 1 {
			t.Errorf("crate %s has %d files, want 1", c.Name, len(c.Files))
		}
	}
}

func TestDiscoverSkipsTargetDir(t *testing.T) {
	dir := t.TempDir()

	write(t, filepath.Join(dir, "Cargo.toml"), `[package]
name = "app"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "src", "main.rs"), "fn main() {}\n")
	write(t, filepath.Join(dir, "target", "debug", "build", "gen.rs"), "fn generated() {}\n")

	ws, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := ws.Crates[0].Files; len(got) != 1 || got[0].RelPath != "src/main.rs" {
		t.Errorf("files = %v", got)
	}
}

func TestDiscoverExcludeCrates(t *testing.T) {
	dir := t.TempDir()

	write(t, filepath.Join(dir, "keep", "Cargo.toml"), `[package]
name = "keep"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "keep", "src", "lib.rs"), "pub fn k() {}\n")
	write(t, filepath.Join(dir, "skip-me", "Cargo.toml"), `[package]
name = "skip-me"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "skip-me", "src", "lib.rs"), "pub fn s() {}\n")

	ws, err := Discover(context.Background(), dir, &Options{ExcludeCrates: []string{"skip-me"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(ws.Crates) != 1 || ws.Crates[0].Name != "keep" {
		t.Errorf("crates = %v", ws.Crates)
	}
}

func TestDiscoverIgnoreFile(t *testing.T) {
	dir := t.TempDir()

	write(t, filepath.Join(dir, ".crategraphignore"), "# local scratch\nscratch\n")
	write(t, filepath.Join(dir, "Cargo.toml"), `[package]
name = "app"
version = "0.1.0"
`)
	write(t, filepath.Join(dir, "src", "main.rs"), "fn main() {}\n")
	write(t, filepath.Join(dir, "scratch", "junk.rs"), "fn junk() {}\n")

	ws, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := ws.Crates[0].Files; len(got) != 1 || got[0].RelPath != "src/main.rs" {
		t.Errorf("files = %v", got)
	}
}

func TestDiscoverNoCrates(t *testing.T) {
	_, err := Discover(context.Background(), t.TempDir(), nil)
	if !errors.Is(err, ErrNoCrates) {
		t.Fatalf("expected ErrNoCrates, got %v", err)
	}
}

func TestDiscoverCancellation(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "Cargo.toml"), `[package]
name = "app"
version = "0.1.0"
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Discover(ctx, dir, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
