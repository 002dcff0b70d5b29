// Package normalize turns untrusted response payloads from the remote service into plain display
// strings and numeric job identifiers.
package normalize

import (
	"encoding/json"
	"strings"
)

// Strategy tries to extract display text from an unwrapped payload.
type Strategy func(v any) (string, bool)

// ResultStrategies are tried in order by Normalize.
var ResultStrategies = []Strategy{
	stringField("summary"),
	stringField("output"),
	anyField("summary"),
	anyField("output"),
	Scalar,
	Structured,
}

// Normalize unwraps raw and returns the first strategy hit with escaped line breaks restored.
func Normalize(raw any) string {
	v := Unwrap(raw, PayloadDepth)
	for _, s := range ResultStrategies {
		if out, ok := s(v); ok {
			return UnescapeLineBreaks(out)
		}
	}
	return ""
}

// stringField picks a string-valued field and unwraps it on its own.
func stringField(name string) Strategy {
	return func(v any) (string, bool) {
		m, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		s, ok := m[name].(string)
		if !ok {
			return "", false
		}
		return stringify(Unwrap(s, FieldDepth)), true
	}
}

// anyField picks a non-null field of any type.
func anyField(name string) Strategy {
	return func(v any) (string, bool) {
		m, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		f, ok := m[name]
		if !ok || f == nil {
			return "", false
		}
		return stringify(f), true
	}
}

// Scalar accepts strings, numbers, booleans and null.
func Scalar(v any) (string, bool) {
	switch v.(type) {
	case nil, string, json.Number, float64, bool:
		return stringify(v), true
	}
	return "", false
}

// Structured is the fallback for objects and arrays the service failed to summarize.
func Structured(v any) (string, bool) {
	return stringify(v), true
}

// Chat formats a chat reply: one JSON unwrap for quoted strings, indented JSON for objects.
func Chat(raw any) string {
	switch t := raw.(type) {
	case nil:
		return ""
	case string:
		if v, err := decodeStrict([]byte(t)); err == nil {
			if s, ok := v.(string); ok {
				t = s
			}
		}
		return UnescapeLineBreaks(t)
	}
	return stringify(raw)
}

// Empty reports whether a status payload carries no usable content yet.
func Empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(t)
		return s == "" || s == "null"
	}
	return false
}

// Candidate picks summary, then output, then the whole payload, mirroring how the status
// endpoint reports a finished job.
func Candidate(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if s, ok := m["summary"]; ok && s != nil {
		return s
	}
	if o, ok := m["output"]; ok && o != nil {
		return o
	}
	return v
}
