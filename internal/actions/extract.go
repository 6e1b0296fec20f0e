package actions

import "strings"

// Extract scans raw model text for balanced do(...) / finish(...) expressions
// and returns them in source order. The scan is quote- and escape-aware, so
// parentheses inside string arguments do not affect nesting depth.
//
// If an expression never closes, extraction stops silently: everything after
// the last successfully closed expression is dropped rather than reported.
// Callers rely on this graceful degradation for partially garbled model
// output.
func Extract(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var expressions []string
	idx := 0
	for idx < len(text) {
		start := nextCallStart(text, idx)
		if start < 0 {
			break
		}
		expr, ok := balancedExpression(text[start:])
		if !ok {
			break
		}
		expressions = append(expressions, strings.TrimSpace(expr))
		idx = start + len(expr)
	}
	return expressions
}

// nextCallStart returns the nearest position at or after idx where a
// recognized call keyword begins, or -1.
func nextCallStart(text string, idx int) int {
	doIdx := strings.Index(text[idx:], "do(")
	finishIdx := strings.Index(text[idx:], "finish(")
	switch {
	case doIdx < 0 && finishIdx < 0:
		return -1
	case doIdx < 0:
		return idx + finishIdx
	case finishIdx < 0:
		return idx + doIdx
	case doIdx < finishIdx:
		return idx + doIdx
	default:
		return idx + finishIdx
	}
}

// balancedExpression returns the prefix of s up to and including the
// parenthesis that closes the first opened one, tracking quote state and
// backslash escapes. Reports false when no balanced close exists.
func balancedExpression(s string) (string, bool) {
	var (
		inSingle bool
		inDouble bool
		escaped  bool
		depth    int
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case ch == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
			// quoted content never affects depth
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
