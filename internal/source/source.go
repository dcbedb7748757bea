// Package source validates and prepares function code before it reaches a
// sandbox. Syntax checks and TypeScript transpilation both go through
// esbuild's transform API; nothing is bundled and imports are not resolved.
package source

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cryguy/nexo/internal/core"
	esbuild "github.com/evanw/esbuild/pkg/api"
)

func loaderFor(language string) (esbuild.Loader, error) {
	switch strings.ToLower(language) {
	case "", core.LanguageJavaScript, "js":
		return esbuild.LoaderJS, nil
	case core.LanguageTypeScript, "ts":
		return esbuild.LoaderTS, nil
	}
	return esbuild.LoaderNone, fmt.Errorf("unsupported language %q", language)
}

// IsTypeScript reports whether language names TypeScript.
func IsTypeScript(language string) bool {
	l := strings.ToLower(language)
	return l == core.LanguageTypeScript || l == "ts"
}

func transform(code, language string) (string, error) {
	loader, err := loaderFor(language)
	if err != nil {
		return "", err
	}
	result := esbuild.Transform(code, esbuild.TransformOptions{
		Loader:     loader,
		Target:     esbuild.ES2020,
		Sourcefile: "handler",
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			if e.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%d:%d: %s", e.Location.Line, e.Location.Column, e.Text))
			} else {
				msgs = append(msgs, e.Text)
			}
		}
		return "", core.NewSandboxError(core.KindCompile, "%s", strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

// Check parses code as language and returns a compile error describing
// every syntax problem found.
func Check(code, language string) error {
	_, err := transform(code, language)
	return err
}

// Prepare returns code in the form the sandbox runs. JavaScript passes
// through untouched; TypeScript is transpiled with types stripped.
func Prepare(code, language string) (string, error) {
	if !IsTypeScript(language) {
		return code, nil
	}
	return transform(code, language)
}

// Cache memoizes Prepare per function revision.
type Cache struct {
	entries sync.Map // string -> string
}

// Prepare returns the prepared code of fn, transpiling it at most once per
// (ID, UpdatedAt) revision.
func (c *Cache) Prepare(fn *core.Function) (string, error) {
	if !IsTypeScript(fn.Language) {
		return fn.Code, nil
	}
	key := fmt.Sprintf("%s@%d", fn.ID, fn.UpdatedAt.UnixNano())
	if v, ok := c.entries.Load(key); ok {
		return v.(string), nil
	}
	out, err := Prepare(fn.Code, fn.Language)
	if err != nil {
		return "", err
	}
	c.entries.Store(key, out)
	return out, nil
}

// Forget drops every cached revision of the function with the given ID.
func (c *Cache) Forget(id string) {
	prefix := id + "@"
	c.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			c.entries.Delete(k)
		}
		return true
	})
}
