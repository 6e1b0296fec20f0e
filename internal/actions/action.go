// Package actions turns free-form model text into structured action records.
//
// The model emits pseudo-call expressions such as
//
//	do(action="Tap", element=[500, 320])
//	finish(message="done")
//
// possibly surrounded by prose. The extractor finds the balanced expressions
// and the parser converts each into an Action without evaluating anything:
// only literal constants are accepted as argument values.
package actions

import (
	"encoding/json"
	"fmt"
)

// Kind tags the action variant. Every parsed action carries exactly one tag.
type Kind string

const (
	KindDo     Kind = "do"
	KindFinish Kind = "finish"
)

// Action names the dispatcher recognizes. The set is closed; adding a kind
// is a compile-time change in the dispatcher's switch.
const (
	NameLaunch    = "Launch"
	NameTap       = "Tap"
	NameType      = "Type"
	NameTypeAlias = "Type_Name"
	NameSwipe     = "Swipe"
	NameBack      = "Back"
	NameHome      = "Home"
	NameDoubleTap = "Double Tap"
	NameLongPress = "Long Press"
	NameWait      = "Wait"
	NameTakeOver  = "Take_over"
	NameNote      = "Note"
	NameCallAPI   = "Call_API"
	NameInteract  = "Interact"
)

// Action is the tagged record produced by the parser.
//
// For KindDo, Name holds the action name and Fields the remaining keyword
// arguments (numbers as float64, lists as []any). For KindFinish, Message
// holds the finish message and Fields is nil.
type Action struct {
	Kind    Kind           `json:"_metadata"`
	Name    string         `json:"action,omitempty"`
	Fields  map[string]any `json:"-"`
	Message string         `json:"message,omitempty"`
}

// NewDo builds a do-action record.
func NewDo(name string, fields map[string]any) Action {
	if fields == nil {
		fields = map[string]any{}
	}
	return Action{Kind: KindDo, Name: name, Fields: fields}
}

// NewFinish builds a finish-action record.
func NewFinish(message string) Action {
	return Action{Kind: KindFinish, Message: message}
}

// NewWait builds the synthetic fallback action substituted when a model turn
// cannot be parsed.
func NewWait(duration string) Action {
	return NewDo(NameWait, map[string]any{"duration": duration})
}

// MarshalJSON flattens Fields into the object so the wire form matches the
// model's own vocabulary: {"_metadata":"do","action":"Tap","element":[...]}.
func (a Action) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(a.Fields)+3)
	for k, v := range a.Fields {
		obj[k] = v
	}
	obj["_metadata"] = string(a.Kind)
	if a.Name != "" {
		obj["action"] = a.Name
	}
	if a.Message != "" {
		obj["message"] = a.Message
	}
	return json.Marshal(obj)
}

// String returns a compact human-readable form used in logs and progress
// output.
func (a Action) String() string {
	if a.Kind == KindFinish {
		return fmt.Sprintf("finish(message=%q)", a.Message)
	}
	return fmt.Sprintf("do(action=%q, fields=%v)", a.Name, a.Fields)
}

// Text returns the string value of a field, or the empty string.
func (a Action) Text(key string) string {
	s, _ := a.Fields[key].(string)
	return s
}

// Point returns a two-element numeric field as a coordinate pair.
func (a Action) Point(key string) (x, y float64, ok bool) {
	list, isList := a.Fields[key].([]any)
	if !isList || len(list) != 2 {
		return 0, 0, false
	}
	xv, xok := toFloat(list[0])
	yv, yok := toFloat(list[1])
	if !xok || !yok {
		return 0, 0, false
	}
	return xv, yv, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// ParseError reports a model expression the parser could not handle. It
// carries the original text for diagnosis.
type ParseError struct {
	Expr   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse action: %s", e.Reason)
}

func parseErrorf(expr, format string, args ...any) *ParseError {
	return &ParseError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
}
