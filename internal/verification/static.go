// Package verification holds the cheap pre-execution check of candidate
// source and the predicate checks applied to evaluated outcomes.
package verification

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"backforge/internal/logging"
	"backforge/internal/tools"
)

// EntryPoint is the function every candidate must declare.
const EntryPoint = "RunStrategy"

var allowedImports = map[string]bool{
	"errors":       true,
	"fmt":          true,
	"math":         true,
	"math/rand":    true,
	"sort":         true,
	"strconv":      true,
	"strings":      true,
	"time":         true,
	tools.KBModule: true,
}

// AllowedImports lists the import paths a candidate may use, sorted.
func AllowedImports() []string {
	out := make([]string, 0, len(allowedImports))
	for p := range allowedImports {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsAllowedImport reports whether candidates may import path.
func IsAllowedImport(path string) bool {
	return allowedImports[path]
}

// StaticInvalidError carries the diagnostic of a rejected candidate file.
type StaticInvalidError struct {
	Path       string
	Diagnostic string
}

func (e *StaticInvalidError) Error() string {
	return fmt.Sprintf("static verification failed for %s: %s", e.Path, e.Diagnostic)
}

// StaticVerifier confirms a candidate file parses as a complete program unit
// honoring the candidate contract. It never executes candidate code.
type StaticVerifier struct{}

// NewStaticVerifier creates a static verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{}
}

// Verify checks the file at path.
func (v *StaticVerifier) Verify(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &StaticInvalidError{Path: path, Diagnostic: "file does not exist"}
		}
		return &StaticInvalidError{Path: path, Diagnostic: err.Error()}
	}
	return v.VerifySource(path, src)
}

// VerifySource checks src as if it were read from path.
func (v *StaticVerifier) VerifySource(path string, src []byte) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.AllErrors)
	if err != nil {
		logging.VerifyDebug("parse failed for %s: %v", path, err)
		return &StaticInvalidError{Path: path, Diagnostic: err.Error()}
	}

	var problems []string
	if file.Name.Name != "main" {
		problems = append(problems, fmt.Sprintf("package must be main, got %s", file.Name.Name))
	}
	problems = append(problems, checkImports(fset, file)...)
	if p := checkEntryPoint(file); p != "" {
		problems = append(problems, p)
	}

	if len(problems) > 0 {
		return &StaticInvalidError{Path: path, Diagnostic: strings.Join(problems, "; ")}
	}
	logging.VerifyDebug("static verification passed for %s", path)
	return nil
}

func checkImports(fset *token.FileSet, file *ast.File) []string {
	var problems []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			path = strings.Trim(imp.Path.Value, "`\"")
		}
		pos := fset.Position(imp.Pos())
		switch {
		case path == "C":
			problems = append(problems, fmt.Sprintf("%d:%d: cgo is not allowed", pos.Line, pos.Column))
		case !allowedImports[path]:
			problems = append(problems, fmt.Sprintf("%d:%d: import %q is not allowed", pos.Line, pos.Column, path))
		}
	}
	return problems
}

func checkEntryPoint(file *ast.File) string {
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Name.Name != EntryPoint {
			continue
		}
		params := fn.Type.Params.NumFields()
		results := 0
		if fn.Type.Results != nil {
			results = fn.Type.Results.NumFields()
		}
		if params != 2 || results != 2 {
			return fmt.Sprintf("%s must take (prices, spec) and return (interface{}, error); got %d params, %d results",
				EntryPoint, params, results)
		}
		return ""
	}
	return fmt.Sprintf("missing func %s", EntryPoint)
}
