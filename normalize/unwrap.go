package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	// PayloadDepth bounds unwrapping of a whole response body.
	PayloadDepth = 4
	// FieldDepth bounds unwrapping of a single extracted field.
	FieldDepth = 3
)

var errTrailingData = errors.New("trailing data after JSON value")

// Unwrap repeatedly decodes v while it is a string holding JSON, up to depth rounds. It stops at
// the first non-string result, at the first decode failure (keeping the string as-is), or when the
// depth runs out. Numbers come back as json.Number so their string form is preserved.
func Unwrap(v any, depth int) any {
	cur := v
	for i := 0; i < depth; i++ {
		s, ok := cur.(string)
		if !ok {
			return cur
		}
		next, err := decodeString(s)
		if err != nil {
			return cur
		}
		cur = next
	}
	return cur
}

func decodeString(s string) (any, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, errors.New("empty")
	}
	if len(trimmed) >= 2 && trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'' {
		inner := trimmed[1 : len(trimmed)-1]
		inner = strings.ReplaceAll(inner, `\`, `\\`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		trimmed = `"` + inner + `"`
	}
	return decodeStrict([]byte(trimmed))
}

// decodeStrict decodes exactly one JSON value, keeping numbers as json.Number.
func decodeStrict(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return v, nil
}

var lineBreaks = strings.NewReplacer(`\r\n`, "\r\n", `\n`, "\n", `\r`, "\r")

// UnescapeLineBreaks turns literal \r\n, \n and \r sequences into control characters.
func UnescapeLineBreaks(s string) string {
	return lineBreaks.Replace(s)
}

// stringify renders an unwrapped value for display. Structured values are indented with two
// spaces; encoding keeps <, > and & literal since escaping happens at render time.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
