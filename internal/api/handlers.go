package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/functions"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Runtime string `json:"runtime"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.version, Runtime: s.engine})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.invoker.PoolStats())
}

func (s *Server) listFunctions(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.registry.List())
}

func (s *Server) getFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := s.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, statusFor(err), "Function not found")
		return
	}
	writeOK(w, fn)
}

func (s *Server) createFunction(w http.ResponseWriter, r *http.Request) {
	var req functions.CreateFunctionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	fn, err := s.registry.Create(req)
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}
	s.log.Info("function created", zap.String("id", fn.ID), zap.String("name", fn.Name), zap.String("route", fn.Route))
	writeOK(w, fn)
}

func (s *Server) updateFunction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req functions.UpdateFunctionRequest
	if err := s.decode(w, r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	fn, err := s.registry.Update(id, req)
	if err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}
	s.invoker.ForgetSource(id)
	s.log.Info("function updated", zap.String("id", fn.ID), zap.String("name", fn.Name))
	writeOK(w, fn)
}

func (s *Server) deleteFunction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Delete(id); err != nil {
		writeErr(w, statusFor(err), err.Error())
		return
	}
	s.invoker.ForgetSource(id)
	s.log.Info("function deleted", zap.String("id", id))
	writeOK(w, nil)
}

func (s *Server) functionStats(w http.ResponseWriter, r *http.Request) {
	st, ok := s.invoker.FunctionStats(mux.Vars(r)["id"])
	if !ok {
		writeErr(w, http.StatusNotFound, "No statistics for this function")
		return
	}
	writeOK(w, st)
}

// invokeFunction runs a function by ID, bypassing route dispatch, and
// reports the outcome inside the envelope.
func (s *Server) invokeFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := s.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, statusFor(err), "Function not found")
		return
	}
	req, err := s.invocationRequest(w, r, "/fn"+fn.Route)
	if err != nil {
		writeErr(w, bodyErrStatus(err), err.Error())
		return
	}
	req.Method = http.MethodPost

	resp := s.invoker.Invoke(r.Context(), fn, req)
	writeOK(w, newInvocationData(resp))
}

// invokeByRoute is the public gateway: /fn/<route> runs the function
// deployed at <route> and writes its result as the HTTP response.
func (s *Server) invokeByRoute(w http.ResponseWriter, r *http.Request) {
	route := "/" + strings.TrimPrefix(r.URL.Path, "/fn/")
	req, err := s.invocationRequest(w, r, "/fn"+route)
	if err != nil {
		writeErr(w, bodyErrStatus(err), err.Error())
		return
	}

	resp, err := s.invoker.InvokeByRoute(r.Context(), route, r.Method, req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.log.Error("route dispatch failed", zap.String("route", route), zap.Error(err))
		}
		writeErr(w, status, err.Error())
		return
	}
	writeInvocation(w, resp)
}

// invocationRequest converts r into the structured request handed to a
// function. Multi-valued headers and query parameters keep their first
// value; header names are lower-cased.
func (s *Server) invocationRequest(w http.ResponseWriter, r *http.Request, url string) (core.InvocationRequest, error) {
	req := core.InvocationRequest{
		URL:         url,
		Method:      r.Method,
		Headers:     make(map[string]string, len(r.Header)),
		PathParams:  map[string]string{},
		QueryParams: map[string]string{},
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			req.Headers[strings.ToLower(k)] = v[0]
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			req.QueryParams[k] = v[0]
		}
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return req, fmt.Errorf("request body exceeds %d byte limit: %w", mbe.Limit, err)
		}
		return req, fmt.Errorf("reading request body: %w", err)
	}
	if len(data) > 0 {
		body := string(data)
		req.Body = &body
	}
	return req, nil
}

func bodyErrStatus(err error) int {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				writeErr(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
