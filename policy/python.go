package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tabularun/tabularun/taxonomy"
)

// pythonImportAllowList is the only modules a submitted program may
// import.
var pythonImportAllowList = map[string]struct{}{
	"pandas": {}, "numpy": {}, "math": {}, "statistics": {}, "re": {}, "datetime": {},
}

// pythonDeniedAttributeRoots are identifiers whose attribute access is
// denied outright, regardless of import status (covers aliasing and
// `import x as y` dodges of the allow-list).
var pythonDeniedAttributeRoots = map[string]struct{}{
	"os": {}, "sys": {}, "subprocess": {}, "socket": {}, "shutil": {},
	"pathlib": {}, "ctypes": {}, "importlib": {},
}

// pythonDeniedCalls are bare function calls that must never appear.
var pythonDeniedCalls = map[string]struct{}{
	"open": {}, "exec": {}, "eval": {}, "compile": {}, "__import__": {}, "input": {},
}

var (
	importPattern     = regexp.MustCompile(`^\s*import\s+([A-Za-z_][A-Za-z0-9_.]*)(?:\s+as\s+[A-Za-z_][A-Za-z0-9_]*)?`)
	fromImportPattern = regexp.MustCompile(`^\s*from\s+([A-Za-z_][A-Za-z0-9_.]*)\s+import\s+`)
	attrAccessPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)`)
	callPattern       = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	dunderPattern     = regexp.MustCompile(`\b__[A-Za-z0-9_]+__\b`)
	resultAssignPattern = regexp.MustCompile(`(?m)^\s*(result_df|result_rows|result)\s*=`)
)

// ValidatePython scans src for the constructs the Python AST policy
// forbids. It is not a general Python parser: it is a narrow
// line-oriented scanner limited to exactly the constructs the policy
// needs to detect (imports, attribute chains, calls, dunder access),
// with string-literal and comment stripping applied first so matches
// never fire on program text quoted inside a string or following a
// `#` comment.
func ValidatePython(src string) error {
	stripped := stripPythonNoise(src)

	for _, line := range strings.Split(stripped, "\n") {
		if m := importPattern.FindStringSubmatch(line); m != nil {
			root := rootModule(m[1])
			if err := checkImport(root); err != nil {
				return err
			}
		}
		if m := fromImportPattern.FindStringSubmatch(line); m != nil {
			root := rootModule(m[1])
			if err := checkImport(root); err != nil {
				return err
			}
		}
	}

	if m := dunderPattern.FindString(stripped); m != "" {
		return taxonomy.WithFragment(taxonomy.ErrPythonPolicy, "dunder attribute access is not permitted", m)
	}

	for _, m := range attrAccessPattern.FindAllStringSubmatch(stripped, -1) {
		root := m[1]
		if _, denied := pythonDeniedAttributeRoots[root]; denied {
			return taxonomy.WithFragment(taxonomy.ErrPythonPolicy,
				"attribute access into a denied module root", root+"."+m[2])
		}
	}

	for _, m := range callPattern.FindAllStringSubmatch(stripped, -1) {
		name := m[1]
		if _, denied := pythonDeniedCalls[name]; denied {
			return taxonomy.WithFragment(taxonomy.ErrPythonPolicy, "call to a denied builtin", name)
		}
	}

	if !resultAssignPattern.MatchString(stripped) {
		return taxonomy.New(taxonomy.ErrPythonExecution, "no_result")
	}

	return nil
}

func checkImport(root string) error {
	if _, ok := pythonImportAllowList[root]; !ok {
		return taxonomy.WithFragment(taxonomy.ErrPythonPolicy, "import of a module outside the allow-list", root)
	}
	return nil
}

func rootModule(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

// stripPythonNoise removes `#` comments and the contents of single- and
// triple-quoted string literals, replacing each with spaces so
// attribute/call matches never fire inside quoted or commented text
// while byte offsets (and therefore line numbers) are preserved.
func stripPythonNoise(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	runes := []rune(src)
	n := len(runes)
	i := 0
	for i < n {
		c := runes[i]
		switch {
		case c == '#':
			for i < n && runes[i] != '\n' {
				b.WriteByte(' ')
				i++
			}
		case c == '\'' || c == '"':
			quote := c
			triple := i+2 < n && runes[i+1] == quote && runes[i+2] == quote
			width := 1
			if triple {
				width = 3
			}
			for k := 0; k < width; k++ {
				b.WriteByte(' ')
			}
			i += width
			for i < n {
				if runes[i] == '\\' && i+1 < n {
					b.WriteByte(' ')
					b.WriteByte(' ')
					i += 2
					continue
				}
				if triple {
					if i+2 < n && runes[i] == quote && runes[i+1] == quote && runes[i+2] == quote {
						b.WriteByte(' ')
						b.WriteByte(' ')
						b.WriteByte(' ')
						i += 3
						break
					}
				} else if runes[i] == quote {
					b.WriteByte(' ')
					i++
					break
				}
				if runes[i] == '\n' {
					b.WriteByte('\n')
				} else {
					b.WriteByte(' ')
				}
				i++
			}
		default:
			b.WriteRune(c)
			i++
		}
	}
	return b.String()
}

// DescribeRejection renders a taxonomy error from ValidatePython into a
// short user-facing string, used by the fast path and by tool error
// output.
func DescribeRejection(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
