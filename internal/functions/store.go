// Package functions stores deployed functions and resolves request paths
// to them. The SQLite table is the source of truth for definitions; an
// in-memory index serves every read, and invocation counters are buffered
// there and flushed in batches.
package functions

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cryguy/nexo/internal/core"
	"github.com/google/uuid"
	"go.uber.org/zap"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS functions (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	code            TEXT NOT NULL,
	language        TEXT NOT NULL,
	route           TEXT NOT NULL UNIQUE,
	methods         TEXT NOT NULL,
	env             TEXT NOT NULL,
	limits          TEXT NOT NULL,
	status          TEXT NOT NULL,
	invocations     INTEGER NOT NULL DEFAULT 0,
	last_invoked_at INTEGER,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
)`

// CreateFunctionRequest describes a new function. Empty Methods default
// to GET and POST; nil or zero Limits fields take the defaults.
type CreateFunctionRequest struct {
	Name     string               `json:"name"`
	Code     string               `json:"code"`
	Language string               `json:"language,omitempty"`
	Route    string               `json:"route"`
	Methods  []string             `json:"methods,omitempty"`
	Env      map[string]string    `json:"env,omitempty"`
	Limits   *core.FunctionLimits `json:"limits,omitempty"`
}

// UpdateFunctionRequest changes the fields that are non-nil.
type UpdateFunctionRequest struct {
	Name     *string              `json:"name,omitempty"`
	Code     *string              `json:"code,omitempty"`
	Language *string              `json:"language,omitempty"`
	Route    *string              `json:"route,omitempty"`
	Methods  []string             `json:"methods,omitempty"`
	Env      map[string]string    `json:"env,omitempty"`
	Limits   *core.FunctionLimits `json:"limits,omitempty"`
	Status   *core.FunctionStatus `json:"status,omitempty"`
}

// FlushInterval is how often buffered invocation counters are written to
// the database.
const FlushInterval = 5 * time.Second

// Store is the function registry.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	mu        sync.RWMutex
	functions map[string]*core.Function
	routes    map[string]string   // route -> function ID
	dirty     map[string]struct{} // IDs with unflushed invocation counters
	defaults  core.FunctionLimits

	now func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ core.FunctionStore = (*Store)(nil)

// Open opens (or creates) the store at path. An empty path or ":memory:"
// keeps everything in memory.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	memory := path == "" || path == ":memory:"
	if memory {
		path = ":memory:"
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening function store %q: %w", path, err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating functions table: %w", err)
	}

	s := &Store{
		db:        db,
		log:       log,
		functions: make(map[string]*core.Function),
		routes:    make(map[string]string),
		dirty:     make(map[string]struct{}),
		defaults:  core.DefaultFunctionLimits(),
		now:       func() time.Time { return time.Now().UTC() },
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go s.flushLoop(FlushInterval)
	log.Info("function store opened", zap.String("path", path), zap.Int("functions", len(s.functions)))
	return s, nil
}

// SetDefaultLimits changes the limits given to functions that leave a
// field unset. Zero fields of def keep the built-in defaults.
func (s *Store) SetDefaultLimits(def core.FunctionLimits) {
	s.mu.Lock()
	s.defaults = normalizeLimits(&def, core.DefaultFunctionLimits())
	s.mu.Unlock()
}

// Close writes pending invocation counters and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		if ferr := s.Flush(); ferr != nil {
			s.log.Warn("flushing invocation counters on close", zap.Error(ferr))
		}
		err = s.db.Close()
	})
	return err
}

func (s *Store) flushLoop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.log.Warn("flushing invocation counters", zap.Error(err))
			}
		}
	}
}

type counterRow struct {
	id          string
	invocations uint64
	lastInvoked int64
}

// Flush writes every buffered invocation counter in one transaction.
// Counters that fail to write stay buffered for the next flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	batch := make([]counterRow, 0, len(s.dirty))
	for id := range s.dirty {
		fn, ok := s.functions[id]
		if !ok || fn.LastInvokedAt == nil {
			continue
		}
		batch = append(batch, counterRow{id: id, invocations: fn.Invocations, lastInvoked: fn.LastInvokedAt.UnixNano()})
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := s.writeCounters(batch); err != nil {
		s.mu.Lock()
		for _, row := range batch {
			if _, ok := s.functions[row.id]; ok {
				s.dirty[row.id] = struct{}{}
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) writeCounters(batch []counterRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning counter flush: %w", err)
	}
	stmt, err := tx.Prepare(`UPDATE functions SET invocations = ?, last_invoked_at = ? WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("preparing counter flush: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, row := range batch {
		if _, err := stmt.Exec(row.invocations, row.lastInvoked, row.id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("flushing counters of %s: %w", row.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing counter flush: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT id, name, code, language, route, methods, env, limits, status,
		invocations, last_invoked_at, created_at, updated_at FROM functions`)
	if err != nil {
		return fmt.Errorf("loading functions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			fn                   core.Function
			methods, env, limits string
			status               string
			lastInvoked          sql.NullInt64
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&fn.ID, &fn.Name, &fn.Code, &fn.Language, &fn.Route, &methods, &env, &limits,
			&status, &fn.Invocations, &lastInvoked, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("scanning function row: %w", err)
		}
		if err := json.Unmarshal([]byte(methods), &fn.Methods); err != nil {
			return fmt.Errorf("decoding methods of %s: %w", fn.ID, err)
		}
		if err := json.Unmarshal([]byte(env), &fn.Env); err != nil {
			return fmt.Errorf("decoding env of %s: %w", fn.ID, err)
		}
		if err := json.Unmarshal([]byte(limits), &fn.Limits); err != nil {
			return fmt.Errorf("decoding limits of %s: %w", fn.ID, err)
		}
		fn.Status = core.FunctionStatus(status)
		if lastInvoked.Valid {
			t := time.Unix(0, lastInvoked.Int64).UTC()
			fn.LastInvokedAt = &t
		}
		fn.CreatedAt = time.Unix(0, createdAt).UTC()
		fn.UpdatedAt = time.Unix(0, updatedAt).UTC()
		if fn.Env == nil {
			fn.Env = map[string]string{}
		}

		s.functions[fn.ID] = &fn
		s.routes[fn.Route] = fn.ID
	}
	return rows.Err()
}

func encodeJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (s *Store) upsert(fn *core.Function) error {
	var lastInvoked any
	if fn.LastInvokedAt != nil {
		lastInvoked = fn.LastInvokedAt.UnixNano()
	}
	_, err := s.db.Exec(`INSERT INTO functions (id, name, code, language, route, methods, env, limits, status,
			invocations, last_invoked_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, code = excluded.code, language = excluded.language,
			route = excluded.route, methods = excluded.methods, env = excluded.env,
			limits = excluded.limits, status = excluded.status, invocations = excluded.invocations,
			last_invoked_at = excluded.last_invoked_at, updated_at = excluded.updated_at`,
		fn.ID, fn.Name, fn.Code, fn.Language, fn.Route, encodeJSON(fn.Methods), encodeJSON(fn.Env),
		encodeJSON(fn.Limits), string(fn.Status), fn.Invocations, lastInvoked,
		fn.CreatedAt.UnixNano(), fn.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving function %s: %w", fn.ID, err)
	}
	return nil
}

// Create validates req and deploys a new active function.
func (s *Store) Create(req CreateFunctionRequest) (*core.Function, error) {
	if err := validateName(req.Name); err != nil {
		return nil, err
	}
	if err := validateRoute(req.Route); err != nil {
		return nil, err
	}
	language, err := normalizeLanguage(req.Language)
	if err != nil {
		return nil, err
	}
	methods, err := normalizeMethods(req.Methods)
	if err != nil {
		return nil, err
	}
	if err := validateCode(req.Code, language); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.routes[req.Route]; taken {
		return nil, fmt.Errorf("%w: route '%s' is already in use", core.ErrRouteConflict, req.Route)
	}

	now := s.now()
	fn := &core.Function{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Code:      req.Code,
		Language:  language,
		Route:     req.Route,
		Methods:   methods,
		Env:       core.CloneStringMap(req.Env),
		Limits:    normalizeLimits(req.Limits, s.defaults),
		Status:    core.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.upsert(fn); err != nil {
		return nil, err
	}
	s.functions[fn.ID] = fn
	s.routes[fn.Route] = fn.ID
	s.log.Info("function created", zap.String("id", fn.ID), zap.String("route", fn.Route))
	return fn.Clone(), nil
}

// Get returns a copy of the function with the given ID.
func (s *Store) Get(id string) (*core.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrFunctionNotFound, id)
	}
	return fn.Clone(), nil
}

// GetByRoute resolves a request path. Exact routes win; otherwise
// patterns are tried in sorted route order and the first match is used.
func (s *Store) GetByRoute(path string) (*core.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.routes[path]; ok {
		return s.functions[id].Clone(), nil
	}

	patterns := make([]string, 0, len(s.routes))
	for route := range s.routes {
		patterns = append(patterns, route)
	}
	sort.Strings(patterns)
	for _, route := range patterns {
		if RouteMatches(route, path) {
			return s.functions[s.routes[route]].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no route matches %s", core.ErrFunctionNotFound, path)
}

// List returns every function ordered by creation time.
func (s *Store) List() []*core.Function {
	s.mu.RLock()
	out := make([]*core.Function, 0, len(s.functions))
	for _, fn := range s.functions {
		out = append(out, fn.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update applies the non-nil fields of req to the function.
func (s *Store) Update(id string, req UpdateFunctionRequest) (*core.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.functions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrFunctionNotFound, id)
	}
	next := cur.Clone()

	if req.Route != nil && *req.Route != cur.Route {
		if err := validateRoute(*req.Route); err != nil {
			return nil, err
		}
		if _, taken := s.routes[*req.Route]; taken {
			return nil, fmt.Errorf("%w: route '%s' is already in use", core.ErrRouteConflict, *req.Route)
		}
		next.Route = *req.Route
	}
	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			return nil, err
		}
		next.Name = *req.Name
	}
	if req.Language != nil {
		language, err := normalizeLanguage(*req.Language)
		if err != nil {
			return nil, err
		}
		next.Language = language
	}
	if req.Code != nil {
		next.Code = *req.Code
	}
	if req.Code != nil || req.Language != nil {
		if err := validateCode(next.Code, next.Language); err != nil {
			return nil, err
		}
	}
	if req.Methods != nil {
		methods, err := normalizeMethods(req.Methods)
		if err != nil {
			return nil, err
		}
		next.Methods = methods
	}
	if req.Env != nil {
		next.Env = core.CloneStringMap(req.Env)
	}
	if req.Limits != nil {
		next.Limits = normalizeLimits(req.Limits, s.defaults)
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, invalid("unknown status %q", *req.Status)
		}
		next.Status = *req.Status
	}
	next.UpdatedAt = s.now()

	if err := s.upsert(next); err != nil {
		return nil, err
	}
	if next.Route != cur.Route {
		delete(s.routes, cur.Route)
		s.routes[next.Route] = id
	}
	s.functions[id] = next
	s.log.Info("function updated", zap.String("id", id), zap.String("route", next.Route))
	return next.Clone(), nil
}

// Delete removes the function and frees its route.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.functions[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrFunctionNotFound, id)
	}
	if _, err := s.db.Exec(`DELETE FROM functions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting function %s: %w", id, err)
	}
	delete(s.routes, fn.Route)
	delete(s.functions, id)
	delete(s.dirty, id)
	s.log.Info("function deleted", zap.String("id", id))
	return nil
}

// RecordInvocation bumps the invocation counter and last-invoked time in
// memory. The database copy catches up on the next Flush.
func (s *Store) RecordInvocation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.functions[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrFunctionNotFound, id)
	}
	now := s.now()
	fn.Invocations++
	fn.LastInvokedAt = &now
	s.dirty[id] = struct{}{}
	return nil
}
