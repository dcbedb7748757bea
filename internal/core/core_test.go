package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestSandboxError_Classification(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want error
	}{
		{KindCompile, ErrCompile},
		{KindRuntime, ErrRuntime},
		{KindTimeout, ErrTimeout},
		{KindUnsupportedAsync, ErrUnsupportedAsync},
		{KindExecutionUnit, ErrExecutionUnit},
		{KindPermit, ErrPermit},
	}
	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", NewSandboxError(tt.kind, "boom %d", 1))
		if !errors.Is(err, tt.want) {
			t.Errorf("%v: errors.Is(%v) = false", tt.kind, tt.want)
		}
		if KindOf(err) != tt.kind {
			t.Errorf("KindOf = %v, want %v", KindOf(err), tt.kind)
		}
		if errors.Is(err, ErrRouteConflict) {
			t.Errorf("%v matched an unrelated sentinel", tt.kind)
		}
	}
	if KindOf(errors.New("plain")) != KindRuntime {
		t.Error("unclassified errors should default to runtime")
	}
	if KindOf(nil) != KindNone {
		t.Error("nil error should be KindNone")
	}
}

func TestTimeoutError_Message(t *testing.T) {
	err := TimeoutError(50)
	if err.Error() != "Execution timeout: exceeded 50ms limit" {
		t.Errorf("message = %q", err.Error())
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("not classified as timeout")
	}
}

func TestResultConstructors(t *testing.T) {
	ok := Succeeded(nil, 12*time.Millisecond, 100, nil)
	if !ok.Success || !ok.Output.IsNull() || ok.Error != "" || ok.ExecutionTimeMs != 12 {
		t.Errorf("Succeeded = %+v", ok)
	}
	if ok.Logs == nil {
		t.Error("Succeeded logs are nil")
	}

	bad := Failed(NewSandboxError(KindCompile, "Compilation error: x"), time.Millisecond, []string{"[LOG] a"})
	if bad.Success || bad.Output != nil || bad.ErrorKind != KindCompile || bad.MemoryUsedBytes != 0 {
		t.Errorf("Failed = %+v", bad)
	}
	if Failed(nil, 0, nil).Error != "Unknown error" {
		t.Error("nil error should read Unknown error")
	}
}

func TestOutput_WireContract(t *testing.T) {
	resp := &Output{Kind: OutputResponse, Response: &ResponseShape{
		Body:    json.RawMessage(`"hello"`),
		Status:  201,
		Headers: map[string]string{"x-a": "1"},
	}}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"__isResponse":true`) || !strings.Contains(string(b), `"status":201`) {
		t.Errorf("response wire = %s", b)
	}

	var back Output
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Kind != OutputResponse || back.Response.Status != 201 || string(back.Response.Body) != `"hello"` {
		t.Errorf("decoded = %+v", back)
	}

	var plain Output
	if err := json.Unmarshal([]byte(`[1,2]`), &plain); err != nil {
		t.Fatal(err)
	}
	if plain.Kind != OutputValue || string(plain.Value) != "[1,2]" {
		t.Errorf("plain = %+v", plain)
	}

	// An object that merely has other fields stays a value.
	var obj Output
	_ = json.Unmarshal([]byte(`{"status":200}`), &obj)
	if obj.Kind != OutputValue {
		t.Error("object without the marker decoded as a response")
	}
}

func TestDispatchError(t *testing.T) {
	tests := []struct {
		err    DispatchError
		status int
		msg    string
	}{
		{DispatchError{Kind: DispatchNotFound, Route: "/x"}, http.StatusNotFound, "No function found for route: /x"},
		{DispatchError{Kind: DispatchMethodNotAllowed, Method: "PUT"}, http.StatusBadRequest, "Method PUT not allowed for this function"},
		{DispatchError{Kind: DispatchInactive}, http.StatusBadRequest, "Function is not active"},
		{DispatchError{Kind: DispatchPayloadTooLarge, Limit: 8}, http.StatusRequestEntityTooLarge, "Request body exceeds 8KB limit"},
	}
	for _, tt := range tests {
		if tt.err.HTTPStatus() != tt.status || tt.err.Error() != tt.msg {
			t.Errorf("%v: %d %q", tt.err.Kind, tt.err.HTTPStatus(), tt.err.Error())
		}
	}
}

func TestLogBuffer_Bounds(t *testing.T) {
	var b LogBuffer
	if b.Lines() == nil {
		t.Fatal("empty buffer returned nil")
	}
	b.Add("warn", strings.Repeat("x", MaxLogMessageSize+10))
	if got := b.Lines()[0]; !strings.HasPrefix(got, "[WARN] ") || !strings.HasSuffix(got, "...(truncated)") {
		t.Errorf("long line = %.40q...", got)
	}
	for i := 0; i < MaxLogEntries+5; i++ {
		b.Add("log", "m")
	}
	if len(b.Lines()) != MaxLogEntries {
		t.Errorf("kept %d lines, want %d", len(b.Lines()), MaxLogEntries)
	}
}

func TestLogBuffer_TruncatesOnRuneBoundary(t *testing.T) {
	var b LogBuffer
	// The euro sign spans bytes 4095-4097, straddling the cut.
	b.Add("log", strings.Repeat("x", MaxLogMessageSize-1)+"€ tail")
	got := b.Lines()[0]
	if !utf8.ValidString(got) {
		t.Fatalf("truncated line is not valid UTF-8: %q", got[len(got)-24:])
	}
	want := "[LOG] " + strings.Repeat("x", MaxLogMessageSize-1) + "...(truncated)"
	if got != want {
		t.Errorf("truncated line ends with %q", got[len(got)-24:])
	}

	b.Add("log", strings.Repeat("€", MaxLogMessageSize))
	if got := b.Lines()[1]; !utf8.ValidString(got) {
		t.Error("all-multibyte line was split inside a rune")
	}
}

func TestFunction_AllowsMethodAndClone(t *testing.T) {
	fn := &Function{Methods: []string{"GET", "post"}, Env: map[string]string{"A": "1"}}
	if !fn.AllowsMethod("get") || !fn.AllowsMethod("POST") || fn.AllowsMethod("DELETE") {
		t.Error("method matching is not case-insensitive")
	}
	c := fn.Clone()
	c.Env["A"] = "2"
	c.Methods[0] = "PUT"
	if fn.Env["A"] != "1" || fn.Methods[0] != "GET" {
		t.Error("Clone shares state with the original")
	}
}

func TestFunctionLimits_SandboxConfig(t *testing.T) {
	cfg := FunctionLimits{MaxExecutionTimeMs: 75, MaxMemoryMB: 2}.SandboxConfig("fn")
	if cfg.MaxExecutionTimeMs != 75 || cfg.MaxHeapSizeBytes != 2*1024*1024 || cfg.TenantID != "fn" {
		t.Errorf("cfg = %+v", cfg)
	}
	if d := DefaultSandboxConfig("t"); d.MaxExecutionTimeMs != 50 || d.MaxHeapSizeBytes != 128<<20 {
		t.Errorf("defaults = %+v", d)
	}
}
