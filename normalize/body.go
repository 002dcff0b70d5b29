package normalize

import (
	"fmt"
	"strings"
)

// IsJSON reports whether a Content-Type header announces a JSON body.
func IsJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/json")
}

// FromBody decodes a response body into a raw payload. JSON bodies are decoded (numbers kept as
// json.Number); a JSON body that fails to decode is reported so callers can decide whether to
// retry. Any other content type yields the text unchanged.
func FromBody(contentType string, body []byte) (any, error) {
	if !IsJSON(contentType) {
		return string(body), nil
	}
	v, err := decodeStrict(body)
	if err != nil {
		return string(body), fmt.Errorf("decode json body: %w", err)
	}
	return v, nil
}

// Decode parses body as a single JSON value regardless of the announced content type.
func Decode(body []byte) (any, error) {
	return decodeStrict(body)
}
