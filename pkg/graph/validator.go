package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// forbiddenTokens are Cypher keywords that can mutate the store. The
// validator is the first line of defense; the read-only session in the
// adapter is the authoritative one.
var forbiddenTokens = []string{
	"CREATE",
	"MERGE",
	"DELETE",
	"SET",
	"REMOVE",
	"DROP",
	"DETACH",
	"FOREACH",
	"LOAD",
}

// allowedCallProcedures is the manual allowlist for read-only
// procedures. Empty: any CALL is rejected until a procedure is vetted.
var allowedCallProcedures = map[string]bool{}

var (
	tokenPatterns = func() map[string]*regexp.Regexp {
		patterns := make(map[string]*regexp.Regexp, len(forbiddenTokens))
		for _, token := range forbiddenTokens {
			patterns[token] = regexp.MustCompile(`\b` + token + `\b`)
		}
		return patterns
	}()

	matchPattern      = regexp.MustCompile(`\bMATCH\b`)
	returnPattern     = regexp.MustCompile(`\bRETURN\b`)
	callPattern       = regexp.MustCompile(`\bCALL\s+([a-zA-Z0-9_.]+)`)
	campaignPredicate = regexp.MustCompile(`(?i)campaign_uuid`)
)

// ValidateReadOnly checks that a generated Cypher query is syntactically
// read-only and scoped to the expected campaign parameter. A nil return
// admits the query.
func ValidateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("query is empty")
	}

	upper := strings.ToUpper(trimmed)

	for _, token := range forbiddenTokens {
		if tokenPatterns[token].MatchString(upper) {
			return fmt.Errorf("query contains forbidden token %s", token)
		}
	}

	// CALL requires an explicitly vetted read-only procedure.
	if idx := strings.Index(upper, "CALL"); idx >= 0 {
		m := callPattern.FindStringSubmatch(trimmed)
		if m == nil || !allowedCallProcedures[strings.ToLower(m[1])] {
			return fmt.Errorf("query contains CALL, which is not allowed")
		}
	}

	if !matchPattern.MatchString(upper) {
		return fmt.Errorf("query must contain at least one MATCH clause")
	}

	if n := len(returnPattern.FindAllStringIndex(upper, -1)); n != 1 {
		return fmt.Errorf("query must contain exactly one RETURN clause, found %d", n)
	}

	if !strings.Contains(trimmed, "$campaignUuid") {
		return fmt.Errorf("query must bind the $campaignUuid parameter")
	}
	if !campaignPredicate.MatchString(trimmed) {
		return fmt.Errorf("query must filter on campaign_uuid")
	}

	return nil
}
