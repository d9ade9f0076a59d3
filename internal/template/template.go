// Package template provides the message rendering strategy used by the
// dispatch engine. Like the condition package, only the Renderer
// interface is part of the engine's contract.
package template

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// Renderer renders a message template against a record.
type Renderer interface {
	Render(tmpl string, rec *record.Record) (string, error)
}

// TokenRenderer is the built-in Renderer. Tokens of the form {field}
// are substituted with the record's field value; "{{" and "}}" emit
// literal braces. A missing field renders as an empty string.
type TokenRenderer struct{}

// NewTokenRenderer returns the built-in token renderer.
func NewTokenRenderer() *TokenRenderer {
	return &TokenRenderer{}
}

// Render substitutes all tokens in tmpl.
func (t *TokenRenderer) Render(tmpl string, rec *record.Record) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(tmpl) {
		ch := tmpl[i]
		switch {
		case ch == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case ch == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case ch == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated token at position %d", i)
			}
			name := tmpl[i+1 : i+end]
			if name == "" {
				return "", fmt.Errorf("empty token at position %d", i)
			}
			b.WriteString(fieldText(rec, name))
			i += end + 1
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String(), nil
}

func fieldText(rec *record.Record, name string) string {
	if rec == nil {
		return ""
	}
	v, ok := rec.Get(name)
	if !ok || v == nil {
		return ""
	}
	if ref, ok := rec.RefField(name); ok {
		return ref.String()
	}
	return fmt.Sprintf("%v", v)
}
