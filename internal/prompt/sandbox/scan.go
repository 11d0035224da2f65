package sandbox

import (
	"fmt"
	"strings"
)

// codeExecNames are built-ins that execute code or reach outside the render
// context when called.
var codeExecNames = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"execfile":   true,
	"__import__": true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"open":       true,
	"breakpoint": true,
	"input":      true,
	"system":     true,
	"popen":      true,
}

// importStatements are statement keywords that load other templates or modules.
var importStatements = map[string]bool{
	"import":  true,
	"from":    true,
	"include": true,
	"extends": true,
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

// scan statically checks every tag interior of src, reached or not, and
// returns the violations ordered by category. Comments and literal text are
// not scanned because they never evaluate.
func scan(src string) []Violation {
	var exec, dunder, imports []Violation

	for _, seg := range splitSegments(src) {
		if seg.kind == segText || seg.kind == segComment {
			continue
		}
		toks := lexExpr(seg.body, seg.offset)

		stmtImport := seg.kind == segStatement && toks[0].kind == tokIdent && importStatements[toks[0].val]
		if stmtImport {
			imports = append(imports, Violation{
				Category: CategoryImport,
				Detail:   fmt.Sprintf("{%% %s %%} statement", toks[0].val),
				Offset:   toks[0].pos,
			})
		}

		for i, tok := range toks {
			switch tok.kind {
			case tokIdent:
				next := toks[i+1]
				prevPipe := i > 0 && toks[i-1].is(tokPunct, "|")
				if codeExecNames[tok.val] && (next.is(tokPunct, "(") || prevPipe) {
					exec = append(exec, Violation{
						Category: CategoryCodeExecution,
						Detail:   fmt.Sprintf("call to %s()", tok.val),
						Offset:   tok.pos,
					})
				}
				if isDunder(tok.val) {
					dunder = append(dunder, Violation{
						Category: CategoryDunderAccess,
						Detail:   fmt.Sprintf("access to %s", tok.val),
						Offset:   tok.pos,
					})
				}
				if tok.val == "import" && !stmtImport {
					imports = append(imports, Violation{
						Category: CategoryImport,
						Detail:   "import statement",
						Offset:   tok.pos,
					})
				}
			case tokString, tokIllegal:
				if isDunder(tok.val) {
					dunder = append(dunder, Violation{
						Category: CategoryDunderAccess,
						Detail:   fmt.Sprintf("access to %s", tok.val),
						Offset:   tok.pos,
					})
				}
			}
		}
	}

	out := make([]Violation, 0, len(exec)+len(dunder)+len(imports))
	out = append(out, exec...)
	out = append(out, dunder...)
	return append(out, imports...)
}
