package actions

import "strings"

// typePrefixes trigger the raw-text path for Type actions. The text argument
// is sliced out literally so unescaped multi-line payloads survive.
var typePrefixes = []string{
	`do(action="Type"`,
	`do(action="Type_Name"`,
}

// ParseAction converts one extracted expression into an Action.
func ParseAction(expr string) (Action, error) {
	expr = strings.TrimSpace(expr)

	for _, prefix := range typePrefixes {
		if strings.HasPrefix(expr, prefix) {
			return parseTypeAction(expr)
		}
	}

	switch {
	case strings.HasPrefix(expr, "do"):
		call, err := parseCall(expr)
		if err != nil {
			return Action{}, parseErrorf(expr, "failed to parse do() action: %v", err)
		}
		if call.callee != "do" {
			return Action{}, parseErrorf(expr, "unexpected call %q", call.callee)
		}
		name, _ := call.kwargs["action"].(string)
		if name == "" {
			return Action{}, parseErrorf(expr, "do() call missing action name")
		}
		fields := call.kwargs
		delete(fields, "action")
		return NewDo(name, fields), nil

	case strings.HasPrefix(expr, "finish"):
		call, err := parseCall(expr)
		if err != nil {
			return Action{}, parseErrorf(expr, "failed to parse finish() action: %v", err)
		}
		if call.callee != "finish" {
			return Action{}, parseErrorf(expr, "unexpected call %q", call.callee)
		}
		message, _ := call.kwargs["message"].(string)
		return NewFinish(message), nil

	default:
		return Action{}, parseErrorf(expr, "unrecognized expression")
	}
}

// parseTypeAction slices the text= argument out of a Type/Type_Name call
// without going through the grammar, tolerating raw newlines and unescaped
// quotes in the payload. The alias normalizes to Type.
func parseTypeAction(expr string) (Action, error) {
	_, rest, found := strings.Cut(expr, "text=")
	if !found || len(rest) < 3 {
		return Action{}, parseErrorf(expr, "Type action missing text argument")
	}
	// rest is `"<payload>")`: drop the opening quote and the trailing `")`.
	text := rest[1 : len(rest)-2]
	return NewDo(NameType, map[string]any{"text": text}), nil
}

// ParseActions extracts and parses up to maxActions expressions from a raw
// model turn, in source order. Zero extracted expressions or the first
// failing expression yield a *ParseError.
func ParseActions(text string, maxActions int) ([]Action, error) {
	expressions := Extract(text)
	if len(expressions) == 0 {
		return nil, parseErrorf(text, "empty response")
	}
	if maxActions < 1 {
		maxActions = 1
	}
	if len(expressions) > maxActions {
		expressions = expressions[:maxActions]
	}

	parsed := make([]Action, 0, len(expressions))
	for _, expr := range expressions {
		action, err := ParseAction(expr)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, action)
	}
	return parsed, nil
}
