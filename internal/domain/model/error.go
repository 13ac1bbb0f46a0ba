package model

import (
	"strings"
)

// ErrorInfo is a reported error. Structured errors carry frames; simple
// errors only carry the raw stack trace text.
type ErrorInfo struct {
	Type          string       `json:"type"`
	Message       string       `json:"message,omitempty"`
	Code          string       `json:"code,omitempty"`
	StackTrace    []StackFrame `json:"stack_trace,omitempty"`
	RawStackTrace string       `json:"raw_stack_trace,omitempty"`
	Inner         *ErrorInfo   `json:"inner,omitempty"`
}

// StackFrame is one frame of a structured stack trace.
type StackFrame struct {
	DeclaringNamespace string   `json:"declaring_namespace,omitempty"`
	DeclaringType      string   `json:"declaring_type,omitempty"`
	Name               string   `json:"name"`
	Parameters         []string `json:"parameters,omitempty"`
	FileName           string   `json:"file_name,omitempty"`
	LineNumber         int      `json:"line_number,omitempty"`
	IsSignatureTarget  bool     `json:"is_signature_target,omitempty"`
}

// Innermost walks the inner chain and returns the deepest error.
func (e *ErrorInfo) Innermost() *ErrorInfo {
	cur := e
	for cur != nil && cur.Inner != nil {
		cur = cur.Inner
	}
	return cur
}

// IsStructured reports whether the error has frames.
func (e *ErrorInfo) IsStructured() bool {
	return e != nil && len(e.StackTrace) > 0
}

// SignatureTarget returns the frame that identifies where the error happened:
// the first frame flagged as signature target, else the first frame.
func (e *ErrorInfo) SignatureTarget() (StackFrame, bool) {
	if !e.IsStructured() {
		return StackFrame{}, false
	}
	for _, f := range e.StackTrace {
		if f.IsSignatureTarget {
			return f, true
		}
	}
	return e.StackTrace[0], true
}

// FullName renders the frame as Namespace.Type.Method(params).
func (f StackFrame) FullName() string {
	var b strings.Builder
	if f.DeclaringNamespace != "" {
		b.WriteString(f.DeclaringNamespace)
		b.WriteByte('.')
	}
	if f.DeclaringType != "" {
		b.WriteString(f.DeclaringType)
		b.WriteByte('.')
	}
	b.WriteString(f.Name)
	b.WriteByte('(')
	b.WriteString(strings.Join(f.Parameters, ", "))
	b.WriteByte(')')
	return b.String()
}
