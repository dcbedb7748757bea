package functions

import (
	"fmt"
	"strings"

	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/source"
)

// DefaultMethods is the allow-list given to functions created without one.
var DefaultMethods = []string{"GET", "POST"}

const maxNameLength = 128

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidFunction, fmt.Sprintf(format, args...))
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("function name cannot be empty")
	}
	if len(name) > maxNameLength {
		return invalid("function name longer than %d characters", maxNameLength)
	}
	return nil
}

func validateRoute(route string) error {
	if !strings.HasPrefix(route, "/") {
		return invalid("route must start with '/'")
	}
	if strings.ContainsAny(route, " \t\r\n?#") {
		return invalid("route %q contains whitespace or a query/fragment marker", route)
	}
	if i := strings.Index(route, "*"); i >= 0 && !(strings.HasSuffix(route, "/*") && i == len(route)-1) {
		return invalid("wildcard is only allowed as a trailing '/*'")
	}
	return nil
}

// normalizeMethods upper-cases and de-duplicates methods. An empty list
// becomes DefaultMethods.
func normalizeMethods(methods []string) ([]string, error) {
	if len(methods) == 0 {
		return append([]string(nil), DefaultMethods...), nil
	}
	seen := make(map[string]bool, len(methods))
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			return nil, invalid("empty HTTP method")
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// normalizeLimits fills zero fields from def.
func normalizeLimits(l *core.FunctionLimits, def core.FunctionLimits) core.FunctionLimits {
	if l == nil {
		return def
	}
	out := *l
	if out.MaxExecutionTimeMs == 0 {
		out.MaxExecutionTimeMs = def.MaxExecutionTimeMs
	}
	if out.MaxMemoryMB == 0 {
		out.MaxMemoryMB = def.MaxMemoryMB
	}
	if out.MaxRequestBodyKB == 0 {
		out.MaxRequestBodyKB = def.MaxRequestBodyKB
	}
	return out
}

func normalizeLanguage(language string) (string, error) {
	switch strings.ToLower(language) {
	case "", core.LanguageJavaScript, "js":
		return core.LanguageJavaScript, nil
	case core.LanguageTypeScript, "ts":
		return core.LanguageTypeScript, nil
	}
	return "", invalid("unsupported language %q", language)
}

func validateCode(code, language string) error {
	if err := source.Check(code, language); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidFunction, err)
	}
	return nil
}
