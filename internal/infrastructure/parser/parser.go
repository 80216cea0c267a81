// Package parser extracts structural summaries from source files using
// tree-sitter. The summaries are coarse on purpose: the verifier compares
// shapes, not syntax, so cosmetic rewrites do not register as differences.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/refactory-tech/refactory/internal/domain/transform"
	rferrors "github.com/refactory-tech/refactory/internal/errors"
	"github.com/refactory-tech/refactory/internal/verify"
)

// maxFileSize is the largest file the parser will accept.
const maxFileSize = 10 * 1024 * 1024

// sideEffectPattern matches callee names that are observable from outside
// the calling function: I/O, persistence, messaging, and process control.
// Lexical on purpose; the engine has no type information for downstream
// languages.
var sideEffectPattern = regexp.MustCompile(
	`(?i)(write|print|log|save|store|persist|insert|update|delete|remove|drop|` +
		`send|publish|emit|dispatch|post|put|fetch|request|exec|spawn|kill|exit|` +
		`panic|fatal|commit|flush|sync|close|open|create|mkdir|chmod|rename|set[A-Z_])`)

// TreeSitter parses Go, JavaScript, TypeScript, and Python sources into
// structural summaries. Each Parse call creates its own tree-sitter parser,
// so a single instance is safe for concurrent use.
type TreeSitter struct {
	logger *slog.Logger
}

// NewTreeSitter creates a parser adapter.
func NewTreeSitter(logger *slog.Logger) *TreeSitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeSitter{logger: logger.With("component", "parser")}
}

// Parse extracts the structural summary of one file version. Unsupported
// languages return a parse error so the caller can degrade to text-only
// verification.
func (p *TreeSitter) Parse(ctx context.Context, path string, content []byte, language transform.Language) (*verify.StructuralSummary, error) {
	const op = "parser.Parse"

	if err := ctx.Err(); err != nil {
		return nil, rferrors.ParseWrap(err, op, "context canceled")
	}
	if len(content) > maxFileSize {
		return nil, rferrors.Parse(op, fmt.Sprintf("%s exceeds %d byte limit", path, maxFileSize))
	}
	if !utf8.Valid(content) {
		return nil, rferrors.Parse(op, path+" is not valid UTF-8")
	}

	grammar, ok := grammarFor(language)
	if !ok {
		return nil, rferrors.Parse(op, fmt.Sprintf("unsupported language %q", language))
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, rferrors.ParseWrap(err, op, "tree-sitter parse failed")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, rferrors.Parse(op, "tree-sitter returned no root node")
	}
	if root.HasError() {
		p.logger.Warn("source contains syntax errors, summary may be partial", "path", path)
	}

	summary := &verify.StructuralSummary{Path: path, Language: language}
	collectFunctions(root, content, language, "", &summary.Functions)
	return summary, nil
}

func grammarFor(language transform.Language) (*sitter.Language, bool) {
	switch language {
	case transform.LanguageGo:
		return golang.GetLanguage(), true
	case transform.LanguageJavaScript:
		return javascript.GetLanguage(), true
	case transform.LanguageTypeScript:
		return typescript.GetLanguage(), true
	case transform.LanguagePython:
		return python.GetLanguage(), true
	default:
		return nil, false
	}
}

// collectFunctions walks the tree and appends a summary for every function
// or method definition. enclosing carries the class/receiver context for
// nested definitions.
func collectFunctions(node *sitter.Node, content []byte, language transform.Language, enclosing string, out *[]verify.FunctionSummary) {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}

		switch child.Type() {
		case "function_declaration", "function_definition":
			if fn, ok := summarizeFunction(child, content, language, enclosing); ok {
				*out = append(*out, fn)
			}
			// Python nests functions inside functions; keep descending.
			if language == transform.LanguagePython {
				collectFunctions(child, content, language, enclosing, out)
			}
		case "method_declaration":
			if fn, ok := summarizeGoMethod(child, content); ok {
				*out = append(*out, fn)
			}
		case "method_definition":
			if fn, ok := summarizeFunction(child, content, language, enclosing); ok {
				*out = append(*out, fn)
			}
		case "class_declaration", "class_definition":
			name := childText(child, "name", content)
			collectFunctions(child, content, language, name, out)
		default:
			collectFunctions(child, content, language, enclosing, out)
		}
	}
}

// summarizeFunction digests a function_declaration, function_definition, or
// method_definition node.
func summarizeFunction(node *sitter.Node, content []byte, language transform.Language, receiver string) (verify.FunctionSummary, bool) {
	name := childText(node, "name", content)
	if name == "" {
		return verify.FunctionSummary{}, false
	}

	fn := verify.FunctionSummary{
		Name:     name,
		Receiver: receiver,
		Params:   parameterNames(node.ChildByFieldName("parameters"), content),
		Returns:  returnCategory(node, content, language),
	}
	digestBody(node.ChildByFieldName("body"), content, &fn)
	return fn, true
}

// summarizeGoMethod digests a Go method_declaration, extracting the receiver
// type so `(s *Server) Close` and a plain `Close` stay distinct.
func summarizeGoMethod(node *sitter.Node, content []byte) (verify.FunctionSummary, bool) {
	name := childText(node, "name", content)
	if name == "" {
		return verify.FunctionSummary{}, false
	}

	receiver := ""
	if recv := node.ChildByFieldName("receiver"); recv != nil {
		// receiver is a parameter_list with one parameter_declaration; the
		// type is the last named child.
		text := strings.TrimSpace(nodeText(recv, content))
		text = strings.Trim(text, "()")
		if fields := strings.Fields(text); len(fields) > 0 {
			receiver = strings.TrimPrefix(fields[len(fields)-1], "*")
		}
	}

	fn := verify.FunctionSummary{
		Name:     name,
		Receiver: receiver,
		Params:   parameterNames(node.ChildByFieldName("parameters"), content),
		Returns:  returnCategory(node, content, transform.LanguageGo),
	}
	digestBody(node.ChildByFieldName("body"), content, &fn)
	return fn, true
}

// parameterNames extracts declared parameter names, skipping punctuation and
// type-only nodes. Grouped Go parameters (a, b int) yield both names.
func parameterNames(params *sitter.Node, content []byte) []string {
	if params == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		decl := params.NamedChild(i)
		switch decl.Type() {
		case "parameter_declaration", "variadic_parameter_declaration":
			for j := 0; j < int(decl.NamedChildCount()); j++ {
				if id := decl.NamedChild(j); id.Type() == "identifier" {
					names = append(names, nodeText(id, content))
				}
			}
		case "identifier", "typed_parameter", "required_parameter", "optional_parameter", "default_parameter", "typed_default_parameter":
			name := nodeText(decl, content)
			if inner := decl.ChildByFieldName("pattern"); inner != nil {
				name = nodeText(inner, content)
			} else if decl.Type() != "identifier" {
				if id := firstChildOfType(decl, "identifier"); id != nil {
					name = nodeText(id, content)
				}
			}
			if name != "" && name != "self" && name != "this" {
				names = append(names, name)
			}
		}
	}
	return names
}

// returnCategory classifies the declared return shape.
func returnCategory(node *sitter.Node, content []byte, language transform.Language) verify.ReturnCategory {
	var text string
	if result := node.ChildByFieldName("result"); result != nil {
		text = nodeText(result, content)
	} else if rt := node.ChildByFieldName("return_type"); rt != nil {
		text = nodeText(rt, content)
	}
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "->"))
	if text == "" || text == "None" || text == "void" {
		return verify.ReturnNone
	}

	if language == transform.LanguageGo {
		trimmed := strings.Trim(text, "()")
		parts := splitTopLevel(trimmed)
		switch {
		case len(parts) > 1:
			return verify.ReturnMultiple
		case strings.HasSuffix(trimmed, "error"):
			return verify.ReturnError
		default:
			return verify.ReturnValue
		}
	}
	return verify.ReturnValue
}

// digestBody counts branches, loops, and call sites inside a function body.
func digestBody(body *sitter.Node, content []byte, fn *verify.FunctionSummary) {
	if body == nil {
		return
	}
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			switch child.Type() {
			case "if_statement", "switch_statement", "type_switch_statement",
				"expression_switch_statement", "select_statement",
				"conditional_expression", "ternary_expression", "match_statement":
				fn.Branches++
			case "for_statement", "while_statement", "do_statement",
				"for_in_statement":
				fn.Loops++
			case "call_expression", "call":
				callee := calleeName(child, content)
				if callee != "" {
					fn.Calls = append(fn.Calls, verify.Call{
						Callee:     callee,
						SideEffect: sideEffectPattern.MatchString(callee),
					})
				}
			case "function_declaration", "function_definition", "method_definition", "arrow_function":
				// Nested definitions are summarized separately.
				continue
			}
			walk(child)
		}
	}
	walk(body)
}

// calleeName returns the textual callee of a call expression, with the last
// selector segment preserved: `s.repo.Save(x)` yields "Save".
func calleeName(call *sitter.Node, content []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		fn = call.NamedChild(0)
	}
	if fn == nil {
		return ""
	}
	text := nodeText(fn, content)
	if idx := strings.LastIndex(text, "."); idx >= 0 && idx+1 < len(text) {
		text = text[idx+1:]
	}
	return text
}

// splitTopLevel splits a Go result list on commas outside parentheses and
// brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func childText(node *sitter.Node, field string, content []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return nodeText(child, content)
}

func nodeText(node *sitter.Node, content []byte) string {
	start, end := node.StartByte(), node.EndByte()
	if int(end) > len(content) || start > end {
		return ""
	}
	return string(content[start:end])
}

func firstChildOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}
