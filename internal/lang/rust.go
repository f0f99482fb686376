package lang

// Rust is the structural spec for Rust source files.
var Rust = func() *Spec {
	s := &Spec{
		FileExtensions: []string{".rs"},
		FunctionNodeTypes: []string{
			"function_item",
			"function_signature_item",
		},
		TypeNodeTypes: []string{
			"struct_item",
			"enum_item",
			"union_item",
			"trait_item",
			"type_item",
		},
		ImplNodeTypes:     []string{"impl_item"},
		ModuleNodeTypes:   []string{"mod_item"},
		CallNodeTypes:     []string{"call_expression", "macro_invocation"},
		ImportNodeTypes:   []string{"use_declaration"},
		AttributeTypes:    []string{"attribute_item"},
		PackageIndicators: []string{"Cargo.toml"},
	}
	s.init()
	return s
}()
