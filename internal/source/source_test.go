package source

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/nexo/internal/core"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		language string
		wantErr  bool
	}{
		{"valid js", `function handler(request) { return {ok: true}; }`, core.LanguageJavaScript, false},
		{"empty", ``, "", false},
		{"unclosed brace", `function handler( { return 1; }`, core.LanguageJavaScript, true},
		{"valid ts", `function handler(request: any): number { return 1; }`, core.LanguageTypeScript, false},
		{"ts annotations in js", `function handler(request: any) { return 1; }`, core.LanguageJavaScript, true},
		{"unknown language", `1`, "cobol", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.code, tt.language)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheck_ErrorIsCompile(t *testing.T) {
	err := Check(`let = ;`, core.LanguageJavaScript)
	if !errors.Is(err, core.ErrCompile) {
		t.Fatalf("err = %v, want ErrCompile", err)
	}
	if !strings.Contains(err.Error(), "1:") {
		t.Errorf("error %q has no location", err)
	}
}

func TestPrepare_JavaScriptUntouched(t *testing.T) {
	code := "function handler() { return 1 }"
	out, err := Prepare(code, core.LanguageJavaScript)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if out != code {
		t.Errorf("out = %q, want input unchanged", out)
	}
}

func TestPrepare_TypeScriptStripsTypes(t *testing.T) {
	out, err := Prepare(`
interface Req { method: string }
function handler(request: Req): string { return request.method; }`, core.LanguageTypeScript)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if strings.Contains(out, "interface") || strings.Contains(out, ": Req") {
		t.Errorf("types survived transpile:\n%s", out)
	}
	if !strings.Contains(out, "function handler(request)") {
		t.Errorf("handler missing from output:\n%s", out)
	}
}

func TestCache_TranspilesOncePerRevision(t *testing.T) {
	var c Cache
	fn := &core.Function{ID: "f1", Language: core.LanguageTypeScript, Code: `function handler(): number { return 1; }`, UpdatedAt: time.Unix(100, 0)}

	first, err := c.Prepare(fn)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	fn.Code = `function handler(): number { return 2; }`
	cached, _ := c.Prepare(fn)
	if cached != first {
		t.Error("same revision was transpiled again")
	}

	fn.UpdatedAt = time.Unix(200, 0)
	fresh, _ := c.Prepare(fn)
	if !strings.Contains(fresh, "return 2") {
		t.Errorf("new revision not transpiled:\n%s", fresh)
	}

	c.Forget("f1")
	n := 0
	c.entries.Range(func(_, _ any) bool { n++; return true })
	if n != 0 {
		t.Errorf("%d entries left after Forget", n)
	}
}
