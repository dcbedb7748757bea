package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cryguy/nexo/internal/core"
)

// envelope is the body of every management endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// statusFor maps store and dispatch errors onto HTTP status codes.
func statusFor(err error) int {
	var de *core.DispatchError
	switch {
	case errors.As(err, &de):
		return de.HTTPStatus()
	case errors.Is(err, core.ErrFunctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRouteConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidFunction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// invocationData is the envelope payload of an invocation.
type invocationData struct {
	Status          uint16       `json:"status"`
	Body            *core.Output `json:"body"`
	ExecutionTimeMs uint64       `json:"execution_time_ms"`
	MemoryUsedBytes uint64       `json:"memory_used_bytes"`
	FunctionID      string       `json:"function_id"`
	Logs            []string     `json:"logs"`
}

func newInvocationData(r *core.InvocationResponse) invocationData {
	return invocationData{
		Status:          r.Status,
		Body:            r.Body,
		ExecutionTimeMs: r.ExecutionTimeMs,
		MemoryUsedBytes: r.MemoryUsedBytes,
		FunctionID:      r.FunctionID,
		Logs:            r.Logs,
	}
}

// writeInvocation writes a function's result as a plain HTTP response. A
// Response-helper result supplies its own status, headers and body; any
// other value is written as JSON. Failed runs get the error envelope.
func writeInvocation(w http.ResponseWriter, r *core.InvocationResponse) {
	h := w.Header()
	h.Set("X-Nexo-Function-Id", r.FunctionID)
	h.Set("X-Nexo-Execution-Time-Ms", formatUint(r.ExecutionTimeMs))

	if r.Body != nil && r.Body.Kind == core.OutputResponse && r.Body.Response != nil {
		writeResponseShape(w, r.Body.Response)
		return
	}

	if r.Status >= http.StatusInternalServerError {
		writeErr(w, int(r.Status), failureMessage(r.Body))
		return
	}

	for k, v := range r.Headers {
		h.Set(k, v)
	}
	body := json.RawMessage("null")
	if r.Body != nil {
		if b, err := json.Marshal(r.Body); err == nil {
			body = b
		}
	}
	w.WriteHeader(int(r.Status))
	_, _ = w.Write(body)
}

// failureMessage extracts the message of a failed invocation body.
func failureMessage(o *core.Output) string {
	var body struct {
		Error string `json:"error"`
	}
	if o != nil && o.Kind == core.OutputValue {
		_ = json.Unmarshal(o.Value, &body)
	}
	if body.Error == "" {
		return "Unknown error"
	}
	return body.Error
}

func writeResponseShape(w http.ResponseWriter, rs *core.ResponseShape) {
	h := w.Header()
	for k, v := range rs.Headers {
		h.Set(k, v)
	}

	var payload []byte
	var text string
	switch {
	case len(rs.Body) == 0 || string(rs.Body) == "null":
	case json.Unmarshal(rs.Body, &text) == nil:
		payload = []byte(text)
		if h.Get("Content-Type") == "" {
			h.Set("Content-Type", "text/plain;charset=UTF-8")
		}
	default:
		payload = rs.Body
		if h.Get("Content-Type") == "" {
			h.Set("Content-Type", "application/json")
		}
	}

	status := rs.Status
	if status < 100 || status > 999 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
