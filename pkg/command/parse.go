package command

import (
	"strings"
	"unicode"
)

// Invocation is a command typed directly by a user, e.g. "/echo hello".
type Invocation struct {
	Name       string
	CurrentArg string
}

// ParseInvocation recognizes text starting with one of starts. The longest
// matching prefix wins. An empty start matches every text.
func ParseInvocation(text string, starts []string) (Invocation, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Invocation{}, false
	}

	matched := -1
	for _, start := range starts {
		if strings.HasPrefix(text, start) && len(start) > matched {
			matched = len(start)
		}
	}
	if matched < 0 {
		return Invocation{}, false
	}

	body := strings.TrimLeftFunc(text[matched:], unicode.IsSpace)
	name, rest := body, ""
	if idx := strings.IndexFunc(body, unicode.IsSpace); idx >= 0 {
		name, rest = body[:idx], body[idx:]
	}
	if name == "" {
		return Invocation{}, false
	}

	return Invocation{Name: name, CurrentArg: strings.TrimSpace(rest)}, true
}
