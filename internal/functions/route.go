package functions

import "strings"

// RouteMatches reports whether path is served by the route pattern.
// Patterns match exactly, by prefix when they end in "/*", or segment by
// segment where ":name" segments match any single value. Parameter
// patterns only match paths with the same number of segments.
func RouteMatches(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(path, prefix)
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	if len(patternParts) != len(pathParts) {
		return false
	}
	for i, p := range patternParts {
		if strings.HasPrefix(p, ":") {
			continue
		}
		if p != pathParts[i] {
			return false
		}
	}
	return true
}

// ExtractParams returns the ":name" segment values of path under pattern.
// It returns an empty map when the pattern has no parameters or does not
// match.
func ExtractParams(pattern, path string) map[string]string {
	params := map[string]string{}
	if strings.HasSuffix(pattern, "/*") || !strings.Contains(pattern, ":") {
		return params
	}
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")
	if len(patternParts) != len(pathParts) {
		return params
	}
	for i, p := range patternParts {
		if name, ok := strings.CutPrefix(p, ":"); ok && name != "" {
			params[name] = pathParts[i]
		} else if p != pathParts[i] {
			return map[string]string{}
		}
	}
	return params
}
