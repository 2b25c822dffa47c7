package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"dataanalyst/internal/logging"
)

// Validator checks generated code before it is executed.
type Validator interface {
	Validate(ctx context.Context, code string) error
}

// DefaultBlockedImports are top-level modules generated scripts may not import.
var DefaultBlockedImports = []string{
	"subprocess", "socket", "shutil", "ctypes", "multiprocessing",
	"requests", "urllib", "http",
}

// RejectedError describes why code failed validation.
type RejectedError struct {
	Reason string
	Line   int // 1-based, 0 when unknown
}

func (e *RejectedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("code rejected at line %d: %s", e.Line, e.Reason)
	}
	return "code rejected: " + e.Reason
}

// PythonValidator parses Python with tree-sitter, rejecting syntax errors and
// imports of blocked modules. Dynamic __import__ calls with a literal module
// name are checked as well.
type PythonValidator struct {
	mu      sync.Mutex
	parser  *sitter.Parser
	blocked map[string]bool
}

// NewPythonValidator creates a validator. A nil list uses DefaultBlockedImports.
func NewPythonValidator(blocked []string) *PythonValidator {
	if blocked == nil {
		blocked = DefaultBlockedImports
	}
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	set := make(map[string]bool, len(blocked))
	for _, m := range blocked {
		set[strings.TrimSpace(m)] = true
	}
	return &PythonValidator{parser: parser, blocked: set}
}

// Validate implements Validator.
func (v *PythonValidator) Validate(ctx context.Context, code string) error {
	src := []byte(code)

	v.mu.Lock()
	tree, err := v.parser.ParseCtx(ctx, nil, src)
	v.mu.Unlock()
	if err != nil {
		return fmt.Errorf("parse python: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		line := firstErrorLine(root)
		logging.ExtractWarn("generated code has a syntax error near line %d", line)
		return &RejectedError{Reason: "syntax error", Line: line}
	}

	var rejected *RejectedError
	walk(root, func(n *sitter.Node) bool {
		for _, mod := range importedModules(n, src) {
			top := strings.SplitN(strings.TrimLeft(mod, "."), ".", 2)[0]
			if v.blocked[top] {
				rejected = &RejectedError{
					Reason: fmt.Sprintf("import of blocked module %q", top),
					Line:   int(n.StartPoint().Row) + 1,
				}
				return false
			}
		}
		return true
	})
	if rejected != nil {
		logging.ExtractWarn("generated code rejected: %v", rejected)
		return rejected
	}
	return nil
}

// importedModules returns the module names a node imports, if it is an
// import statement or a literal __import__ call.
func importedModules(n *sitter.Node, src []byte) []string {
	switch n.Type() {
	case "import_statement":
		var mods []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				mods = append(mods, child.Content(src))
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					mods = append(mods, name.Content(src))
				}
			}
		}
		return mods

	case "import_from_statement":
		if mod := n.ChildByFieldName("module_name"); mod != nil {
			return []string{mod.Content(src)}
		}

	case "call":
		fn := n.ChildByFieldName("function")
		args := n.ChildByFieldName("arguments")
		if fn == nil || args == nil || fn.Content(src) != "__import__" || args.NamedChildCount() == 0 {
			return nil
		}
		if first := args.NamedChild(0); first.Type() == "string" {
			return []string{strings.Trim(first.Content(src), `"'`)}
		}
	}
	return nil
}

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *sitter.Node, fn func(*sitter.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if !walk(n.NamedChild(i), fn) {
			return false
		}
	}
	return true
}

func firstErrorLine(root *sitter.Node) int {
	line := 0
	walk(root, func(n *sitter.Node) bool {
		if n.Type() == "ERROR" || n.IsMissing() {
			line = int(n.StartPoint().Row) + 1
			return false
		}
		return true
	})
	return line
}
