package mcp

import "strings"

// MatchTemplate matches a concrete URI against a URI template with {param}
// placeholders and returns the extracted parameter values. Placeholders
// match any non-empty run of characters up to the next literal segment.
// Only level-1 expansion is supported; a placeholder never spans the
// literal that follows it.
func MatchTemplate(template, uri string) (map[string]string, bool) {
	params := map[string]string{}
	t, u := template, uri
	for {
		open := strings.IndexByte(t, '{')
		if open < 0 {
			if t == u {
				return params, true
			}
			return nil, false
		}
		// Literal before the placeholder must match exactly.
		if len(u) < open || t[:open] != u[:open] {
			return nil, false
		}
		t, u = t[open:], u[open:]

		end := strings.IndexByte(t, '}')
		if end < 0 {
			return nil, false
		}
		name := t[1:end]
		t = t[end+1:]

		// The placeholder value runs until the next literal character of
		// the template, or to the end when the template ends here.
		if t == "" {
			if u == "" {
				return nil, false
			}
			params[name] = u
			return params, true
		}
		next := t[0]
		stop := strings.IndexByte(u, next)
		if stop <= 0 {
			return nil, false
		}
		params[name] = u[:stop]
		u = u[stop:]
	}
}
