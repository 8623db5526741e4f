package data

import (
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("no json object in answer")

// SanitizeAnswer cuts the first complete JSON object out of a model answer,
// skipping any prose or code fences around it. Braces inside strings are
// ignored.
func SanitizeAnswer(ans string) (string, error) {
	start := strings.IndexByte(ans, '{')
	for start >= 0 {
		if end := matchBrace(ans[start:]); end > 0 {
			return ans[start : start+end], nil
		}
		next := strings.IndexByte(ans[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSON
}

// matchBrace returns the length of the balanced object starting at s[0],
// or -1 if it never closes.
func matchBrace(s string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
				return i + 1
			}
		}
	}
	return -1
}
