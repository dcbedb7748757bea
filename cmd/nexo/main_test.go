package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

func newTestApp(out *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:           "nexo",
		Writer:         out,
		ErrWriter:      out,
		ExitErrHandler: func(*cli.Context, error) {},
		Commands:       []*cli.Command{RunCommand(), CheckCommand()},
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCommand(t *testing.T) {
	fn := writeFile(t, "hello.js", `function handler(request, ctx) {
	return { greeting: "hi " + request.json().name, region: ctx.env.get("REGION") };
}`)
	reqFile := writeFile(t, "req.json", `{"method":"POST","body":"{\"name\":\"cli\"}"}`)

	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"nexo", "run", "--file", fn, "--request", reqFile, "--env", "REGION=eu"})
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}

	var resp struct {
		Status int               `json:"status"`
		Body   map[string]string `json:"body"`
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("output is not a response: %v\n%s", err, out.String())
	}
	if resp.Status != 200 || resp.Body["greeting"] != "hi cli" || resp.Body["region"] != "eu" {
		t.Errorf("response = %d %v", resp.Status, resp.Body)
	}
	if !strings.Contains(out.String(), "\n  \"status\": 200") {
		t.Errorf("output is not indented:\n%s", out.String())
	}
}

func TestRunCommand_Failure(t *testing.T) {
	fn := writeFile(t, "bad.js", `function handler() { throw new Error("broken"); }`)
	var out bytes.Buffer
	if err := newTestApp(&out).Run([]string{"nexo", "run", "--file", fn}); err == nil {
		t.Fatal("expected a non-nil error for a failing function")
	}
	if !strings.Contains(out.String(), "broken") {
		t.Errorf("output = %s", out.String())
	}
}

func TestCheckCommand(t *testing.T) {
	good := writeFile(t, "ok.ts", `function handler(r: any): number { return 1 }`)
	bad := writeFile(t, "bad.js", `function (`)

	var out bytes.Buffer
	if err := newTestApp(&out).Run([]string{"nexo", "check", "--file", good}); err != nil {
		t.Fatalf("check good: %v", err)
	}
	if !strings.Contains(out.String(), "ok") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := newTestApp(&out).Run([]string{"nexo", "check", "--file", bad}); err == nil {
		t.Fatal("check accepted a syntax error")
	}
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"A=1", "B=x=y"})
	if err != nil {
		t.Fatal(err)
	}
	if env["A"] != "1" || env["B"] != "x=y" {
		t.Errorf("env = %v", env)
	}
	if _, err := parseEnv([]string{"novalue"}); err == nil {
		t.Error("expected an error for an entry without =")
	}
}
