package fqn

import "testing"

func TestNormalizeCrate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"my-crate", "my_crate"},
		{"my_crate", "my_crate"},
		{"plain", "plain"},
		{"a-b-c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := NormalizeCrate(tt.in); got != tt.want {
			t.Errorf("NormalizeCrate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestModulePath(t *testing.T) {
	tests := []struct {
		crate   string
		relPath string
		want    string
	}{
		{"mycrate", "src/lib.rs", "mycrate"},
		{"mycrate", "src/main.rs", "mycrate"},
		{"mycrate", "src/io.rs", "mycrate::io"},
		{"mycrate", "src/io/mod.rs", "mycrate::io"},
		{"mycrate", "src/io/socket.rs", "mycrate::io::socket"},
		{"mycrate", "tests/smoke.rs", "mycrate::smoke"},
		{"mycrate", "benches/throughput.rs", "mycrate::throughput"},
		{"my-crate", "src/lib.rs", "my_crate"},
		{"mycrate", "src/bin/tool.rs", "mycrate::bin::tool"},
	}
	for _, tt := range tests {
		if got := ModulePath(tt.crate, tt.relPath); got != tt.want {
			t.Errorf("ModulePath(%q, %q) = %q, want %q", tt.crate, tt.relPath, got, tt.want)
		}
	}
}

func TestJoin(t *testing.T) {
	if got := Join("a::b", "c"); got != "a::b::c" {
		t.Errorf("Join = %q", got)
	}
	if got := Join("a", "b", "c"); got != "a::b::c" {
		t.Errorf("Join = %q", got)
	}
}

func TestSimpleNameAndCrateOf(t *testing.T) {
	if got := SimpleName("a::b::c"); got != "c" {
		t.Errorf("SimpleName = %q", got)
	}
	if got := SimpleName("bare"); got != "bare" {
		t.Errorf("SimpleName = %q", got)
	}
	if got := CrateOf("a::b::c"); got != "a" {
		t.Errorf("CrateOf = %q", got)
	}
	if got := CrateOf("bare"); got != "bare" {
		t.Errorf("CrateOf = %q", got)
	}
}

func TestRerootCrateAlias(t *testing.T) {
	tests := []struct {
		path  string
		crate string
		want  string
	}{
		{"crate::io::Socket", "my-app", "my_app::io::Socket"},
		{"crate", "my-app", "my_app"},
		{"other::thing", "my-app", "other::thing"},
		{"crateish::thing", "my-app", "crateish::thing"},
	}
	for _, tt := range tests {
		if got := RerootCrateAlias(tt.path, tt.crate); got != tt.want {
			t.Errorf("RerootCrateAlias(%q, %q) = %q, want %q", tt.path, tt.crate, got, tt.want)
		}
	}
}
