package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first balanced JSON object out of a model reply.
// Models wrap JSON in prose and markdown fences often enough that a plain
// json.Unmarshal on the raw reply is not reliable.
func ExtractJSON(reply string) (json.RawMessage, error) {
	reply = stripFences(reply)

	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return nil, fmt.Errorf("reply contains no JSON object")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(reply); i++ {
		c := reply[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := reply[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return nil, fmt.Errorf("balanced object is not valid JSON")
				}
				return json.RawMessage(candidate), nil
			}
		}
	}
	return nil, fmt.Errorf("reply contains an unterminated JSON object")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
