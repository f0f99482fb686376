package extract

import (
	"testing"

	"github.com/DeusData/crate-graph-mcp/internal/symbols"
)

func extractSource(t *testing.T, ctx FileContext, source string) *symbols.FileSymbols {
	t.Helper()
	result := File(ctx, []byte(source))
	if result.Err != nil {
		t.Fatalf("File: %v", result.Err)
	}
	t.Cleanup(func() { result.Tree.Close() })
	return &result.Symbols
}

func findFunction(t *testing.T, fs *symbols.FileSymbols, name string) *symbols.Function {
	t.Helper()
	for i := range fs.Functions {
		if fs.Functions[i].Name == name {
			return &fs.Functions[i]
		}
	}
	t.Fatalf("function %q not extracted; have %d functions", name, len(fs.Functions))
	return nil
}

func TestExtractFunctions(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
/// Starts the service.
pub async fn start(cfg: Config) -> Result<(), Error> {
    init();
    Ok(())
}

unsafe fn raw_access() {}

fn plain<T>(value: T) {}
`)

	start := findFunction(t, fs, "start")
	if start.QualifiedName != "app::start" {
		t.Errorf("qualified name = %q", start.QualifiedName)
	}
	if !start.IsAsync {
		t.Error("start not marked async")
	}
	if start.Visibility != "pub" {
		t.Errorf("visibility = %q", start.Visibility)
	}
	if start.DocComment != "Starts the service." {
		t.Errorf("doc comment = %q", start.DocComment)
	}
	if start.Signature != "(cfg: Config) -> Result<(), Error>" {
		t.Errorf("signature = %q", start.Signature)
	}

	if raw := findFunction(t, fs, "raw_access"); !raw.IsUnsafe {
		t.Error("raw_access not marked unsafe")
	}
	if plain := findFunction(t, fs, "plain"); !plain.IsGeneric {
		t.Error("plain not marked generic")
	}
}

func TestExtractTypes(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/model.rs"}, `
pub struct Order {
    id: u64,
}

enum Status { Open, Closed }

pub trait Repository {
    fn save(&self, order: Order);
}

type OrderId = u64;
`)

	kinds := map[string]symbols.TypeKind{}
	for _, td := range fs.Types {
		kinds[td.Name] = td.Kind
		if td.QualifiedName != "app::model::"+td.Name {
			t.Errorf("%s qualified as %q", td.Name, td.QualifiedName)
		}
	}
	want := map[string]symbols.TypeKind{
		"Order":      symbols.TypeStruct,
		"Status":     symbols.TypeEnum,
		"Repository": symbols.TypeTrait,
		"OrderId":    symbols.TypeAlias,
	}
	for name, kind := range want {
		if kinds[name] != kind {
			t.Errorf("%s kind = %q, want %q", name, kinds[name], kind)
		}
	}

	// Required trait methods come out as functions qualified by the trait
	// even without a body.
	save := findFunction(t, fs, "save")
	if save.QualifiedName != "app::model::Repository::save" {
		t.Errorf("trait method qualified as %q", save.QualifiedName)
	}
}

func TestExtractImplMethods(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
struct Widget;

impl Widget {
    pub fn new() -> Self {
        Self
    }

    fn render(&self) {
        self.prepare();
        Self::layout();
    }
}

impl Drop for Widget {
    fn drop(&mut self) {}
}
`)

	render := findFunction(t, fs, "render")
	if render.QualifiedName != "app::Widget::render" {
		t.Errorf("method qualified as %q", render.QualifiedName)
	}
	if render.IsTraitImpl {
		t.Error("inherent method marked trait impl")
	}
	if drop := findFunction(t, fs, "drop"); !drop.IsTraitImpl {
		t.Error("trait method not marked trait impl")
	}

	var traitImpls int
	for _, im := range fs.Impls {
		if im.TraitName == "Drop" && im.TypeName == "Widget" {
			traitImpls++
		}
	}
	if traitImpls != 1 {
		t.Errorf("expected 1 Drop impl block, got %d", traitImpls)
	}
}

func TestSelfCallRewrite(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
struct Widget;

impl Widget {
    fn render(&self) {
        self.prepare();
        Self::layout();
        helper();
    }
}
`)

	callees := map[string]symbols.CallKind{}
	for _, c := range fs.Calls {
		callees[c.CalleeName] = c.Kind
	}
	if callees["Widget::prepare"] != symbols.CallMethod {
		t.Errorf("self.prepare() extracted as %v", callees)
	}
	if callees["Widget::layout"] != symbols.CallAssociated {
		t.Errorf("Self::layout() extracted as %v", callees)
	}
	if callees["helper"] != symbols.CallDirect {
		t.Errorf("helper() extracted as %v", callees)
	}
}

func TestExtractCallKinds(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
fn run() {
    load();
    store::save(1);
    value.finish();
    parse::<u32>("7");
    println!("done");
}
`)

	byName := map[string]symbols.Call{}
	for _, c := range fs.Calls {
		byName[c.CalleeName] = c
	}

	if byName["load"].Kind != symbols.CallDirect {
		t.Errorf("load kind = %q", byName["load"].Kind)
	}
	if byName["store::save"].Kind != symbols.CallAssociated {
		t.Errorf("store::save kind = %q", byName["store::save"].Kind)
	}
	if byName["finish"].Kind != symbols.CallMethod {
		t.Errorf("finish kind = %q", byName["finish"].Kind)
	}
	if byName["parse"].Kind != symbols.CallDirect {
		t.Errorf("parse kind = %q", byName["parse"].Kind)
	}
	if byName["println!"].Kind != symbols.CallMacro {
		t.Errorf("println! kind = %q", byName["println!"].Kind)
	}
	for _, c := range fs.Calls {
		if c.CallerQN != "app::run" {
			t.Errorf("call %q attributed to %q", c.CalleeName, c.CallerQN)
		}
		if c.QualifiedCallee != "" {
			t.Errorf("call %q already resolved to %q", c.CalleeName, c.QualifiedCallee)
		}
	}
}

func TestUseGroupExpansion(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
use std::collections::{HashMap, HashSet as Set};
use crate::model::Order;
use serde::*;
use tokio;
`)

	byPath := map[string]symbols.Import{}
	for _, im := range fs.Imports {
		byPath[im.Path] = im
	}

	if im := byPath["std::collections::HashMap"]; im.Alias != "HashMap" || im.Kind != symbols.ImportGrouped {
		t.Errorf("HashMap import = %+v", im)
	}
	if im := byPath["std::collections::HashSet"]; im.Alias != "Set" {
		t.Errorf("HashSet alias = %q", im.Alias)
	}
	if im := byPath["app::model::Order"]; im.Alias != "Order" {
		t.Errorf("crate:: import not rerooted: %+v", byPath)
	}
	if im := byPath["serde"]; im.Kind != symbols.ImportGlob {
		t.Errorf("glob import = %+v", im)
	}
	if im := byPath["tokio"]; im.Kind != symbols.ImportModule {
		t.Errorf("whole-crate import = %+v", im)
	}
}

func TestCfgTestDetection(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
pub fn shipped() {}

#[test]
fn annotated_test() {}

#[cfg(test)]
mod tests {
    fn helper() {}
}
`)

	if findFunction(t, fs, "shipped").IsTest {
		t.Error("shipped marked as test")
	}
	if !findFunction(t, fs, "annotated_test").IsTest {
		t.Error("#[test] fn not marked as test")
	}
	if !findFunction(t, fs, "helper").IsTest {
		t.Error("fn inside #[cfg(test)] mod not marked as test")
	}

	// Path convention marks everything.
	tfs := extractSource(t, FileContext{Crate: "app", RelPath: "tests/smoke.rs", IsTest: true}, `
fn exercise() {}
`)
	if !findFunction(t, tfs, "exercise").IsTest {
		t.Error("tests/ file fn not marked as test")
	}
}

func TestClosureCallsKeepOuterCaller(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
fn run(items: Vec<u32>) {
    items.iter().for_each(|x| handle(x));
}
`)
	var found bool
	for _, c := range fs.Calls {
		if c.CalleeName == "handle" {
			found = true
			if c.CallerQN != "app::run" {
				t.Errorf("closure call attributed to %q", c.CallerQN)
			}
		}
	}
	if !found {
		t.Error("call inside closure not extracted")
	}
}

func TestModuleRecords(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/io/mod.rs"}, `
mod socket;
pub mod framing;
`)
	paths := map[string]bool{}
	for _, m := range fs.Modules {
		paths[m.Path] = true
	}
	for _, want := range []string{"app::io", "app::io::socket", "app::io::framing"} {
		if !paths[want] {
			t.Errorf("module %q missing; have %v", want, paths)
		}
	}
}

func TestForeignImplSkipped(t *testing.T) {
	fs := extractSource(t, FileContext{Crate: "app", RelPath: "src/lib.rs"}, `
impl fmt::Display for other::Thing {
    fn fmt(&self, f: &mut fmt::Formatter) -> fmt::Result {
        Ok(())
    }
}
`)
	if len(fs.Impls) != 0 {
		t.Errorf("foreign-type impl recorded: %+v", fs.Impls)
	}
}
