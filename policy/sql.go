// Package policy implements the three validators every submission must
// pass before it reaches a sandbox: the SQL allow/deny validator and
// dataset-qualifier rewriter, the structured-plan compiler, and the
// Python AST policy. Gate wraps all three behind one entry point and
// tracks pass/reject counts.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/tabularun/tabularun/taxonomy"
)

// deniedSQLTokens is the whole-word deny-list. Matching is case
// insensitive; "created_at" must never match "create".
var deniedSQLTokens = map[string]struct{}{
	"DROP": {}, "DELETE": {}, "INSERT": {}, "UPDATE": {}, "CREATE": {},
	"ALTER": {}, "ATTACH": {}, "DETACH": {}, "INSTALL": {}, "LOAD": {},
	"PRAGMA": {}, "CALL": {}, "COPY": {}, "EXPORT": {}, "IMPORT": {},
}

var leadingKeywordPattern = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)

// ValidateSQL checks s against the SQL allow/deny rules of the
// submission policy: it must begin with SELECT/WITH, contain no bare
// semicolon, and contain no whole-word occurrence of a denied token
// outside a string literal or comment.
//
// The token stream is produced by sqlparser's tokenizer, which already
// collapses string literals into single STRING tokens and comments into
// single COMMENT tokens; the loop skips both, which gives the "ignores
// string literals and comments" behavior without a hand-rolled lexer.
func ValidateSQL(s string) error {
	if !leadingKeywordPattern.MatchString(s) {
		return taxonomy.WithFragment(taxonomy.ErrSQLPolicy,
			"statement must begin with SELECT or WITH", firstWord(s))
	}

	tok := sqlparser.NewStringTokenizer(s)
	for {
		typ, val := tok.Scan()
		if typ == 0 {
			break
		}
		if typ == ';' {
			return taxonomy.New(taxonomy.ErrSQLPolicy, "only a single statement is allowed (found ';')")
		}
		if typ == sqlparser.STRING || typ == sqlparser.COMMENT {
			continue
		}
		word := strings.ToUpper(string(val))
		if _, denied := deniedSQLTokens[word]; denied {
			return taxonomy.WithFragment(taxonomy.ErrSQLPolicy, "denied token", word)
		}
	}
	return nil
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t\n("); i >= 0 {
		return s[:i]
	}
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

// NormalizeDatasetQualifier rewrites every dot-qualified reference
// "<datasetID>.<table>" (case-insensitive on the dataset id) to
// "<table>". This is the only rewrite the policy performs on user SQL,
// applied before both validation and execution.
func NormalizeDatasetQualifier(s, datasetID string) string {
	if datasetID == "" {
		return s
	}
	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(datasetID) + `\.([A-Za-z_][A-Za-z0-9_]*)\b`)
	return pattern.ReplaceAllString(s, "$1")
}

// CompileFastPathSQL applies the dataset-qualifier rewrite and
// allow/deny validation the fast path requires for a literal "SQL: ..."
// submission, returning the exact string that will be sent to the
// runner.
func CompileFastPathSQL(sql, datasetID string) (string, error) {
	normalized := NormalizeDatasetQualifier(strings.TrimSpace(sql), datasetID)
	if err := ValidateSQL(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// requireNonEmpty reports an error when value is empty or only whitespace.
func requireNonEmpty(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	return nil
}
