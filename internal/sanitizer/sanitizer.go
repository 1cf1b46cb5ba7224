// Package sanitizer decides whether a user-submitted query may run in the
// read-only sandbox.
//
// The check is a keyword denylist over an uppercased copy of the query. It does
// not parse SQL and is a pre-filter only: the schema-scoped search path, the
// restricted database role and the statement timeout applied by the sandbox
// pool are the isolation boundary.
package sanitizer

import (
	"regexp"
	"strings"
)

// EmptyReason is reported for blank input.
const EmptyReason = "Query cannot be empty"

const (
	readOnlyReason       = "Only SELECT queries are allowed"
	multiStatementReason = "Multiple statements not allowed"
)

// Verdict is the outcome of a single Sanitize call.
type Verdict struct {
	SanitizedQuery string   `json:"sanitizedQuery"`
	IsAllowed      bool     `json:"isAllowed"`
	BlockedReasons []string `json:"blockedReasons"`
}

type rule struct {
	keyword string
	reason  string
	re      *regexp.Regexp
}

// rules run in order; every match contributes a reason.
var rules = buildRules()

func buildRules() []rule {
	groups := []struct {
		prefix   string
		keywords []string
	}{
		{"DDL statement not allowed", []string{"CREATE", "DROP", "ALTER", "TRUNCATE", "RENAME"}},
		{"DML statement not allowed", []string{"INSERT", "UPDATE", "DELETE", "MERGE"}},
		{"System command not allowed", []string{"EXEC", "EXECUTE", "CALL", `\x`, "COPY", "GRANT", "REVOKE"}},
	}

	var out []rule
	for _, g := range groups {
		for _, kw := range g.keywords {
			out = append(out, rule{
				keyword: kw,
				reason:  g.prefix + ": " + kw,
				re:      keywordPattern(kw),
			})
		}
	}
	return out
}

// keywordPattern matches kw as a whole word in uppercased text. The backslash
// escape is not a word, and uppercasing turns \x into \X, so it gets a literal
// pattern instead.
func keywordPattern(kw string) *regexp.Regexp {
	if kw == `\x` {
		return regexp.MustCompile(`\\X`)
	}
	return regexp.MustCompile(`\b` + kw + `\b`)
}

// Sanitize validates query and returns the trimmed query with one trailing
// semicolon removed. The sanitized text is returned even when the query is
// blocked; it must not be executed unless IsAllowed is true.
func Sanitize(query string) Verdict {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Verdict{
			SanitizedQuery: "",
			IsAllowed:      false,
			BlockedReasons: []string{EmptyReason},
		}
	}

	normalized := strings.ToUpper(trimmed)
	reasons := make([]string, 0, 2)

	for _, r := range rules {
		if r.re.MatchString(normalized) {
			reasons = append(reasons, r.reason)
		}
	}

	if !strings.HasPrefix(normalized, "SELECT") && !strings.HasPrefix(normalized, "WITH") {
		reasons = append(reasons, readOnlyReason)
	}

	if n := strings.Count(trimmed, ";"); n > 1 || (n == 1 && !strings.HasSuffix(trimmed, ";")) {
		reasons = append(reasons, multiStatementReason)
	}

	return Verdict{
		SanitizedQuery: stripTerminator(trimmed),
		IsAllowed:      len(reasons) == 0,
		BlockedReasons: reasons,
	}
}

// stripTerminator drops one trailing semicolon and any whitespace it leaves
// behind, so sanitizing a sanitized query is a no-op.
func stripTerminator(q string) string {
	if strings.HasSuffix(q, ";") {
		return strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}

// DetectDangerousPatterns returns the reasons query would be blocked, or an
// empty slice if it is allowed.
func DetectDangerousPatterns(query string) []string {
	return Sanitize(query).BlockedReasons
}

// EnforceReadOnly reports whether query passes every check.
func EnforceReadOnly(query string) bool {
	return Sanitize(query).IsAllowed
}
