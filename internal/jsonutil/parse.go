// Package jsonutil pulls JSON out of model responses that may be wrapped in
// markdown code fences or surrounded by prose.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when the text holds no JSON object or array.
var ErrNoJSON = errors.New("no JSON content found")

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the original text if no fences are found.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.Join(lines[1:endIdx], "\n")
}

// ExtractJSON returns the first balanced JSON object or array in text.
// Brackets inside string literals are ignored, so trailing prose that
// mentions braces does not confuse it.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return "", ErrNoJSON
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON starting at offset %d", start)
}

// ExtractRaw strips fences, extracts the JSON value and checks that it is
// well formed, returning it unparsed.
func ExtractRaw(raw string) (json.RawMessage, error) {
	jsonStr, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return nil, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}
	if !json.Valid([]byte(jsonStr)) {
		return nil, fmt.Errorf("invalid JSON (text: %s)", preview(jsonStr))
	}
	return json.RawMessage(jsonStr), nil
}

// ParseJSON is ExtractRaw followed by unmarshalling into T.
func ParseJSON[T any](raw string) (T, error) {
	var result T
	msg, err := ExtractRaw(raw)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(msg, &result); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview(string(msg)))
	}
	return result, nil
}

func preview(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
