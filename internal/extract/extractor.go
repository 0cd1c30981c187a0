// Package extract turns Python source files into flat entity records
// (functions, classes, methods, imports) for graph construction.
package extract

import (
	"fmt"
	"os"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

// Extractor parses Python sources with tree-sitter. It is not safe for
// concurrent use; create one per worker.
type Extractor struct {
	parser *sitter.Parser
}

// New creates an Extractor with the Python grammar loaded.
func New() *Extractor {
	parser := sitter.NewParser()
	parser.SetLanguage(sitter.NewLanguage(tree_sitter_python.Language()))
	return &Extractor{parser: parser}
}

// Close releases the underlying parser.
func (e *Extractor) Close() {
	e.parser.Close()
}

// ExtractFile parses the file at path. I/O and parse failures are recorded on
// the Result rather than returned, so callers can treat every file uniformly.
func (e *Extractor) ExtractFile(path string) *Result {
	source, err := os.ReadFile(path)
	if err != nil {
		return &Result{
			Functions: []Function{},
			Classes:   []Class{},
			Imports:   []Import{},
			Err:       fmt.Sprintf("read %s: %v", path, err),
		}
	}
	return e.Extract(source)
}

// Extract parses source text and collects entity records.
func (e *Extractor) Extract(source []byte) *Result {
	res := &Result{
		Functions: []Function{},
		Classes:   []Class{},
		Imports:   []Import{},
	}

	tree := e.parser.Parse(source, nil)
	if tree == nil {
		res.Err = "parse failed"
		return res
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		res.Err = "empty syntax tree"
		return res
	}

	for i := uint(0); i < root.NamedChildCount(); i++ {
		e.collectTopLevel(root.NamedChild(i), source, res)
	}
	return res
}

func (e *Extractor) collectTopLevel(n *sitter.Node, source []byte, res *Result) {
	switch n.Kind() {
	case "function_definition":
		res.Functions = append(res.Functions, e.processFunction(n, source))
	case "class_definition":
		res.Classes = append(res.Classes, e.processClass(n, source))
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			e.collectTopLevel(def, source, res)
		}
	case "import_statement":
		res.Imports = append(res.Imports, e.processImport(n, source)...)
	case "import_from_statement":
		res.Imports = append(res.Imports, e.processImportFrom(n, source)...)
	}
}

func (e *Extractor) processFunction(n *sitter.Node, source []byte) Function {
	fn := Function{
		Args:   []string{},
		Calls:  []string{},
		Lineno: lineOf(n),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		fn.Name = name.Utf8Text(source)
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := uint(0); i < params.NamedChildCount(); i++ {
			if arg := paramName(params.NamedChild(i), source); arg != "" {
				fn.Args = append(fn.Args, arg)
			}
		}
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		fn.Returns = ret.Utf8Text(source)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		fn.Docstring = docstring(body, source)
		collectCalls(body, source, &fn.Calls)
	}
	fn.IsAsync = isAsync(n)
	return fn
}

func (e *Extractor) processClass(n *sitter.Node, source []byte) Class {
	cls := Class{
		Bases:   []string{},
		Methods: []Function{},
		Lineno:  lineOf(n),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		cls.Name = name.Utf8Text(source)
	}
	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for i := uint(0); i < supers.NamedChildCount(); i++ {
			arg := supers.NamedChild(i)
			switch arg.Kind() {
			case "identifier", "attribute":
				cls.Bases = append(cls.Bases, arg.Utf8Text(source))
			case "keyword_argument":
				// metaclass=ABCMeta and friends
				if val := arg.ChildByFieldName("value"); val != nil &&
					strings.HasSuffix(val.Utf8Text(source), "ABCMeta") {
					cls.IsAbstract = true
				}
			}
		}
	}
	for _, base := range cls.Bases {
		if base == "ABC" || base == "abc.ABC" {
			cls.IsAbstract = true
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		cls.Docstring = docstring(body, source)
		for i := uint(0); i < body.NamedChildCount(); i++ {
			child := body.NamedChild(i)
			if child.Kind() == "decorated_definition" {
				child = child.ChildByFieldName("definition")
				if child == nil {
					continue
				}
			}
			if child.Kind() == "function_definition" {
				cls.Methods = append(cls.Methods, e.processFunction(child, source))
			}
		}
	}
	return cls
}

func (e *Extractor) processImport(n *sitter.Node, source []byte) []Import {
	var out []Import
	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
		switch child.Kind() {
		case "dotted_name":
			out = append(out, Import{
				Type:   ImportPlain,
				Name:   child.Utf8Text(source),
				Lineno: lineOf(n),
			})
		case "aliased_import":
			imp := Import{Type: ImportPlain, Lineno: lineOf(n)}
			if name := child.ChildByFieldName("name"); name != nil {
				imp.Name = name.Utf8Text(source)
			}
			if alias := child.ChildByFieldName("alias"); alias != nil {
				imp.Asname = alias.Utf8Text(source)
			}
			out = append(out, imp)
		}
	}
	return out
}

func (e *Extractor) processImportFrom(n *sitter.Node, source []byte) []Import {
	var module string
	moduleNode := n.ChildByFieldName("module_name")
	if moduleNode != nil {
		module = moduleNode.Utf8Text(source)
	}

	var out []Import
	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
		if moduleNode != nil && child.StartByte() == moduleNode.StartByte() {
			continue
		}
		switch child.Kind() {
		case "dotted_name", "wildcard_import":
			out = append(out, Import{
				Type:   ImportFrom,
				Name:   child.Utf8Text(source),
				Module: module,
				Lineno: lineOf(n),
			})
		case "aliased_import":
			imp := Import{Type: ImportFrom, Module: module, Lineno: lineOf(n)}
			if name := child.ChildByFieldName("name"); name != nil {
				imp.Name = name.Utf8Text(source)
			}
			if alias := child.ChildByFieldName("alias"); alias != nil {
				imp.Asname = alias.Utf8Text(source)
			}
			out = append(out, imp)
		}
	}
	return out
}

// collectCalls gathers raw callee name tokens under n. Identifier calls yield
// the bare name; attribute calls on a simple receiver yield "recv.attr", and
// anything deeper falls back to the attribute name alone.
func collectCalls(n *sitter.Node, source []byte, calls *[]string) {
	if n.Kind() == "call" {
		if fn := n.ChildByFieldName("function"); fn != nil {
			switch fn.Kind() {
			case "identifier":
				*calls = append(*calls, fn.Utf8Text(source))
			case "attribute":
				obj := fn.ChildByFieldName("object")
				attr := fn.ChildByFieldName("attribute")
				if attr != nil {
					if obj != nil && obj.Kind() == "identifier" {
						*calls = append(*calls, obj.Utf8Text(source)+"."+attr.Utf8Text(source))
					} else {
						*calls = append(*calls, attr.Utf8Text(source))
					}
				}
			}
		}
	}
	for i := uint(0); i < n.NamedChildCount(); i++ {
		collectCalls(n.NamedChild(i), source, calls)
	}
}

// docstring returns the leading string literal of a block, if any.
func docstring(body *sitter.Node, source []byte) string {
	if body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Kind() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Kind() != "string" {
		return ""
	}
	return stripStringLiteral(str.Utf8Text(source))
}

// paramName extracts the identifier of a parameter node, keeping the splat
// markers Python programmers expect to see.
func paramName(n *sitter.Node, source []byte) string {
	switch n.Kind() {
	case "identifier":
		return n.Utf8Text(source)
	case "typed_parameter", "default_parameter", "typed_default_parameter":
		if name := n.ChildByFieldName("name"); name != nil {
			return name.Utf8Text(source)
		}
		for i := uint(0); i < n.NamedChildCount(); i++ {
			if c := n.NamedChild(i); c.Kind() == "identifier" {
				return c.Utf8Text(source)
			}
		}
	case "list_splat_pattern":
		if n.NamedChildCount() > 0 {
			return "*" + n.NamedChild(0).Utf8Text(source)
		}
	case "dictionary_splat_pattern":
		if n.NamedChildCount() > 0 {
			return "**" + n.NamedChild(0).Utf8Text(source)
		}
	}
	return ""
}

func isAsync(n *sitter.Node) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if child.Kind() == "async" {
			return true
		}
		if child.Kind() == "def" {
			break
		}
	}
	return false
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

// stripStringLiteral removes prefixes and quotes from a Python string token.
func stripStringLiteral(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}
