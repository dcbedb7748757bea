// Package api is the HTTP gateway: function management, invocation by ID
// or route, statistics, metrics and a live log tail.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/cryguy/nexo/internal/core"
	"github.com/cryguy/nexo/internal/functions"
	"github.com/cryguy/nexo/internal/logtail"
	"github.com/cryguy/nexo/internal/metrics"
)

// Registry is the function management surface. *functions.Store
// implements it.
type Registry interface {
	Create(req functions.CreateFunctionRequest) (*core.Function, error)
	Get(id string) (*core.Function, error)
	List() []*core.Function
	Update(id string, req functions.UpdateFunctionRequest) (*core.Function, error)
	Delete(id string) error
}

// Invoker runs functions. *coordinator.Coordinator implements it.
type Invoker interface {
	Invoke(ctx context.Context, fn *core.Function, req core.InvocationRequest) *core.InvocationResponse
	InvokeByRoute(ctx context.Context, route, method string, req core.InvocationRequest) (*core.InvocationResponse, error)
	PoolStats() core.PoolStats
	FunctionStats(id string) (core.FunctionStats, bool)
	ForgetSource(id string)
}

// Config wires the server's collaborators. Metrics and Tail are optional.
type Config struct {
	Registry Registry
	Invoker  Invoker
	Metrics  *metrics.Collector
	Tail     *logtail.Hub
	Logger   *zap.Logger
	Engine   string
	Version  string
	// MaxBodyBytes caps every request body read by the gateway. Per-function
	// limits are enforced on top of it.
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes is used when Config.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 16 << 20

type Server struct {
	router   *mux.Router
	cors     *cors.Cors
	registry Registry
	invoker  Invoker
	metrics  *metrics.Collector
	tail     *logtail.Hub
	log      *zap.Logger
	engine   string
	version  string
	maxBody  int64
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	s := &Server{
		router: mux.NewRouter(),
		cors: cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodDelete, http.MethodPatch, http.MethodOptions,
			},
			AllowedHeaders: []string{"*"},
		}),
		registry: cfg.Registry,
		invoker:  cfg.Invoker,
		metrics:  cfg.Metrics,
		tail:     cfg.Tail,
		log:      log,
		engine:   cfg.Engine,
		version:  cfg.Version,
		maxBody:  maxBody,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.recoverMiddleware, s.metricsMiddleware, compressMiddleware)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/functions", s.listFunctions).Methods(http.MethodGet)
	api.HandleFunc("/functions", s.createFunction).Methods(http.MethodPost)
	api.HandleFunc("/functions/{id}", s.getFunction).Methods(http.MethodGet)
	api.HandleFunc("/functions/{id}", s.updateFunction).Methods(http.MethodPut)
	api.HandleFunc("/functions/{id}", s.deleteFunction).Methods(http.MethodDelete)
	api.HandleFunc("/functions/{id}/invoke", s.invokeFunction).Methods(http.MethodPost)
	api.HandleFunc("/functions/{id}/stats", s.functionStats).Methods(http.MethodGet)
	if s.tail != nil {
		api.HandleFunc("/functions/{id}/logs", s.tailLogs).Methods(http.MethodGet)
	}

	r.PathPrefix("/fn/").HandlerFunc(s.invokeByRoute)
}

// Handler returns the gateway with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}
