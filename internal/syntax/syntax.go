// Package syntax validates Python source by parsing it, without executing
// anything.
package syntax

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/fixsmith/fixsmith/internal/sandbox"
)

// Result reports whether a file parsed cleanly. When Valid is false, Line and
// Column locate the first parse error (1-based).
type Result struct {
	Valid   bool
	Line    int
	Column  int
	Message string
}

// Checker parses Python files read through the sandboxed store.
type Checker struct {
	store *sandbox.Store
}

// NewChecker creates a syntax checker backed by the given store.
func NewChecker(store *sandbox.Store) (*Checker, error) {
	if store == nil {
		return nil, fmt.Errorf("sandbox store is required")
	}
	return &Checker{store: store}, nil
}

// Check reads path through the sandbox and parses it. A parse failure yields
// a Result with Valid=false; any other failure (not found, outside sandbox)
// is returned as an error, never conflated with a syntax-invalid result.
func (c *Checker) Check(ctx context.Context, path string) (*Result, error) {
	content, err := c.store.Read(path)
	if err != nil {
		return nil, err
	}
	return CheckSource(ctx, []byte(content))
}

// CheckSource parses raw Python source. Exposed separately so produced code
// can be validated before it is ever written.
func CheckSource(ctx context.Context, source []byte) (*Result, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return &Result{Valid: true}, nil
	}

	errNode := firstErrorNode(root)
	if errNode == nil {
		// The tree reports an error but no ERROR node is reachable; fall
		// back to the root location.
		errNode = root
	}
	point := errNode.StartPoint()
	return &Result{
		Valid:   false,
		Line:    int(point.Row) + 1,
		Column:  int(point.Column) + 1,
		Message: describeError(errNode, source),
	}, nil
}

// firstErrorNode walks the tree depth-first and returns the first ERROR or
// missing node in document order.
func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstErrorNode(node.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func describeError(node *sitter.Node, source []byte) string {
	if node.IsMissing() {
		return fmt.Sprintf("missing %s", node.Type())
	}
	start, end := node.StartByte(), node.EndByte()
	if int(end) > len(source) {
		end = uint32(len(source))
	}
	snippet := string(source[start:end])
	if len(snippet) > 40 {
		snippet = snippet[:40] + "..."
	}
	if snippet == "" {
		return "syntax error"
	}
	return fmt.Sprintf("syntax error near %q", snippet)
}
