package loader

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	hcljson "github.com/hashicorp/hcl/v2/json"
	"github.com/zclconf/go-cty/cty"
)

// rootSchema lists every top-level block a module may contain.
var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "import"},
		{Type: "locals"},
		{Type: "source", LabelNames: []string{"type", "id"}},
		{Type: "pipeline", LabelNames: []string{"id"}},
	},
}

var importSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{{Name: "path", Required: true}},
}

// Module is one fetched and compiled definition file.
type Module struct {
	Location Location
	Source   []byte
	File     *hcl.File
	// Content holds the top-level blocks of the file.
	Content *hcl.BodyContent
	Imports []Import
}

// Import is a static import found in a module.
type Import struct {
	Specifier string
	Range     hcl.Range
}

// compile parses module source. hclsyntax and the JSON parser are safe to
// call concurrently, unlike hclparse.Parser.
func compile(loc Location, src []byte) (*Module, hcl.Diagnostics) {
	var (
		file  *hcl.File
		diags hcl.Diagnostics
	)
	name := loc.String()
	if loc.IsJSON() {
		file, diags = hcljson.Parse(src, name)
	} else {
		file, diags = hclsyntax.ParseConfig(src, name, hcl.InitialPos)
	}
	if diags.HasErrors() {
		return nil, diags
	}

	content, contentDiags := file.Body.Content(rootSchema)
	diags = append(diags, contentDiags...)
	if diags.HasErrors() {
		return nil, diags
	}

	m := &Module{Location: loc, Source: src, File: file, Content: content}
	imports, importDiags := discoverImports(content)
	diags = append(diags, importDiags...)
	m.Imports = imports
	return m, diags
}

// discoverImports reads import specifiers without an evaluation context,
// so only literal paths are accepted.
func discoverImports(content *hcl.BodyContent) ([]Import, hcl.Diagnostics) {
	var (
		imports []Import
		diags   hcl.Diagnostics
	)
	for _, block := range content.Blocks.OfType("import") {
		body, bodyDiags := block.Body.Content(importSchema)
		diags = append(diags, bodyDiags...)
		if bodyDiags.HasErrors() {
			continue
		}
		attr := body.Attributes["path"]
		val, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() || val.IsNull() || !val.Type().Equals(cty.String) {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid import path",
				Detail:   "An import path must be a literal string; it is read before anything is evaluated.",
				Subject:  attr.Expr.Range().Ptr(),
			})
			continue
		}
		imports = append(imports, Import{Specifier: val.AsString(), Range: attr.Expr.Range()})
	}
	return imports, diags
}

// diagError converts diagnostics to an error, keeping nil for diagnostics
// without errors.
func diagError(diags hcl.Diagnostics) error {
	if !diags.HasErrors() {
		return nil
	}
	return diags
}
