package gctfparser

import (
	"github.com/flynn/json5"
)

// stripHashComments removes `#`-to-end-of-line comments that live outside
// string literals. json5 already understands `//` and `/* */` comments;
// this pre-pass adds the extra `#` convention spec.md §4.1 requires on top
// of it, since no JSON5 dialect in the wild treats `#` as a comment marker.
func stripHashComments(src string) string {
	out := make([]byte, 0, len(src))
	inString := false
	var quote byte
	escaped := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			out = append(out, c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		if c == '"' || c == '\'' {
			inString = true
			quote = c
			out = append(out, c)
			continue
		}
		if c == '#' {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out = append(out, '\n')
			}
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

// parseJSON5Value parses a JSON5 body (after the `#`-comment strip) into a
// Go value using the standard decode-to-any convention: objects become
// map[string]any, arrays []any, numbers float64.
func parseJSON5Value(body string) (any, error) {
	stripped := stripHashComments(body)
	var v any
	if err := json5.Unmarshal([]byte(stripped), &v); err != nil {
		return nil, err
	}
	return v, nil
}
