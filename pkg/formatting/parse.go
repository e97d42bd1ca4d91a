package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParseFailed is returned when content cannot be parsed as JSON,
// either directly, from a markdown code fence, or from an embedded
// JSON object.
var ErrParseFailed = errors.New("failed to parse response")

var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// Parse attempts to unmarshal content as JSON into T.
// If direct parsing fails, it extracts JSON from a markdown code fence
// or a balanced-brace scan and retries. Returns ErrParseFailed if all
// attempts fail.
func Parse[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return result, nil
	}

	extracted, err := ExtractJSON(content)
	if err == nil {
		if err := json.Unmarshal([]byte(extracted), &result); err == nil {
			return result, nil
		}
	}

	return result, fmt.Errorf("%w: %s", ErrParseFailed, truncate(content, 200))
}

// ExtractJSON recovers a JSON object from model output that wraps it
// in prose or markdown. It tries, in order: a fenced code block, the
// raw content, and a balanced-brace scan from the first '{'.
func ExtractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)

	if matches := jsonBlockRegex.FindStringSubmatch(content); len(matches) >= 2 {
		candidate := strings.TrimSpace(matches[1])
		if json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	if json.Valid([]byte(content)) {
		return content, nil
	}

	if candidate, ok := balancedObject(content); ok {
		return candidate, nil
	}

	return "", fmt.Errorf("%w: no JSON object found", ErrParseFailed)
}

// balancedObject scans for the first top-level {...} span with balanced
// braces, ignoring braces inside string literals.
func balancedObject(content string) (string, bool) {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(content); i++ {
		c := content[i]

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := content[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					return "", false
				}
			}
		}
	}

	return "", false
}

// keyAliases maps model-produced key variants to their canonical form.
var keyAliases = map[string]string{
	"documenttype":    "document_type",
	"document-type":   "document_type",
	"documentnumber":  "document_number",
	"document-number": "document_number",
}

// NormalizeKeys rewrites top-level keys of a JSON object to lower snake
// case, folding known aliases. Non-object payloads pass through unchanged.
func NormalizeKeys(raw []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw, nil
	}

	normalized := make(map[string]json.RawMessage, len(obj))
	for key, value := range obj {
		normalized[normalizeKey(key)] = value
	}

	return json.Marshal(normalized)
}

func normalizeKey(key string) string {
	lowered := strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := keyAliases[lowered]; ok {
		return canonical
	}
	return lowered
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
