package extractor

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageSpec describes how to find definitions in one tree-sitter grammar.
// Query captures are named after the kind they produce: @class, @function
// or @method, and always capture the definition's name node.
type LanguageSpec interface {
	Name() string
	GetLanguage() *sitter.Language
	GetQuery() string
	// ClassScopes are node types whose nested functions are methods.
	ClassScopes() []string
}

type goSpec struct{}

func (goSpec) Name() string                  { return "go" }
func (goSpec) GetLanguage() *sitter.Language { return golang.GetLanguage() }
func (goSpec) ClassScopes() []string         { return nil }
func (goSpec) GetQuery() string {
	return `
		(function_declaration name: (identifier) @function)
		(method_declaration name: (field_identifier) @method)
		(type_spec name: (type_identifier) @class)
	`
}

type pythonSpec struct{}

func (pythonSpec) Name() string                  { return "python" }
func (pythonSpec) GetLanguage() *sitter.Language { return python.GetLanguage() }
func (pythonSpec) ClassScopes() []string         { return []string{"class_definition"} }
func (pythonSpec) GetQuery() string {
	return `
		(class_definition name: (identifier) @class)
		(function_definition name: (identifier) @function)
	`
}

type javascriptSpec struct{}

func (javascriptSpec) Name() string                  { return "javascript" }
func (javascriptSpec) GetLanguage() *sitter.Language { return javascript.GetLanguage() }
func (javascriptSpec) ClassScopes() []string         { return []string{"class_declaration", "class"} }
func (javascriptSpec) GetQuery() string {
	return `
		(class_declaration name: (identifier) @class)
		(function_declaration name: (identifier) @function)
		(method_definition name: (property_identifier) @method)
	`
}

type typescriptSpec struct{}

func (typescriptSpec) Name() string                  { return "typescript" }
func (typescriptSpec) GetLanguage() *sitter.Language { return typescript.GetLanguage() }
func (typescriptSpec) ClassScopes() []string         { return []string{"class_declaration", "class"} }
func (typescriptSpec) GetQuery() string {
	return `
		(class_declaration name: (type_identifier) @class)
		(interface_declaration name: (type_identifier) @class)
		(function_declaration name: (identifier) @function)
		(method_definition name: (property_identifier) @method)
	`
}

var languagesByExt = map[string]LanguageSpec{
	".go":  goSpec{},
	".py":  pythonSpec{},
	".pyi": pythonSpec{},
	".js":  javascriptSpec{},
	".mjs": javascriptSpec{},
	".cjs": javascriptSpec{},
	".jsx": javascriptSpec{},
	".ts":  typescriptSpec{},
	".mts": typescriptSpec{},
}

func languageFor(path string) (LanguageSpec, bool) {
	spec, ok := languagesByExt[strings.ToLower(filepath.Ext(path))]
	return spec, ok
}

// SupportedExtensions lists the file extensions the syntax-tree extractor parses.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(languagesByExt))
	for ext := range languagesByExt {
		exts = append(exts, ext)
	}
	return exts
}

func hasAnySuffix(name string, suffixes ...string) bool {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
