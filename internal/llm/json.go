package llm

import (
	"encoding/json"
	"strings"

	"meeting-intelligence/pkg/errors"
)

// ExtractJSONObject recovers the first balanced JSON object embedded in model
// output. Models wrap JSON in prose or code fences often enough that direct
// unmarshalling alone is not reliable.
func ExtractJSONObject(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", errors.ErrInvalidResponse
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, nil
				}
				return "", errors.ErrInvalidResponse
			}
		}
	}
	return "", errors.ErrInvalidResponse
}

// DecodeInto unmarshals the first balanced JSON object of text into v.
func DecodeInto(text string, v interface{}) error {
	obj, err := ExtractJSONObject(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(obj), v)
}
