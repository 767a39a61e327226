package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/gateway"
	"github.com/nidhogg/nuka-mind/internal/guidance"
	"github.com/nidhogg/nuka-mind/internal/intake"
	"github.com/nidhogg/nuka-mind/internal/thought"
	"github.com/nidhogg/nuka-mind/internal/worker"
)

// Store is the read side of persistence the API exposes.
type Store interface {
	GetTask(ctx context.Context, taskID string) (*thought.Task, error)
	GetThought(ctx context.Context, thoughtID string) (*thought.Thought, error)
	ChildThoughts(ctx context.Context, thoughtID string) ([]*thought.Thought, error)
}

// Pinger is implemented by stores that hold a connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Ingester interface {
	Ingest(ctx context.Context, req intake.Request) (*thought.Task, *thought.Thought, error)
}

type Resolver interface {
	Resolve(ctx context.Context, rep guidance.Reply) (*guidance.Resolution, error)
}

type ToolCatalog interface {
	AvailableTools() []string
}

type PoolStats interface {
	Stats() worker.Stats
}

// Deps are the collaborators behind the routes. Tools, Pool, Gateway and
// REST may be nil.
type Deps struct {
	Store    Store
	Intake   Ingester
	Resolver Resolver
	Tools    ToolCatalog
	Pool     PoolStats
	Gateway  *gateway.Gateway
	REST     *gateway.RESTAdapter
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps    Deps
	started time.Time
	logger  *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, started: time.Now(), logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Post("/tasks", h.createTask)
		r.Get("/tasks/{id}", h.getTask)
		r.Get("/thoughts/{id}", h.getThought)
		r.Get("/thoughts/{id}/children", h.childThoughts)

		r.Post("/deferrals/{id}/resolve", h.resolveDeferral)
		r.Get("/tools", h.listTools)

		if h.deps.REST != nil {
			r.Mount("/gateway/rest", h.deps.REST.Routes())
		}
	})
	return r
}

type healthResponse struct {
	Status   string                  `json:"status"`
	Uptime   string                  `json:"uptime"`
	Store    string                  `json:"store"`
	Workers  *worker.Stats           `json:"workers,omitempty"`
	Adapters []gateway.AdapterStatus `json:"adapters,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(h.started).Round(time.Second).String(), Store: "ok"}
	code := http.StatusOK
	if p, ok := h.deps.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health: store ping failed", zap.Error(err))
			resp.Status, resp.Store = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if h.deps.Pool != nil {
		st := h.deps.Pool.Stats()
		resp.Workers = &st
	}
	if h.deps.Gateway != nil {
		resp.Adapters = h.deps.Gateway.Statuses()
	}
	writeJSON(w, code, resp)
}

type createTaskResponse struct {
	Task    *thought.Task    `json:"task"`
	Thought *thought.Thought `json:"thought"`
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Platform == "" {
		req.Platform = "api"
	}
	task, seed, err := h.deps.Intake.Ingest(r.Context(), req)
	if err != nil {
		h.respondErr(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, createTaskResponse{Task: task, Thought: seed})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.deps.Store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) getThought(w http.ResponseWriter, r *http.Request) {
	th, err := h.deps.Store.GetThought(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, "get thought", err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

func (h *Handler) childThoughts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.deps.Store.GetThought(r.Context(), id); err != nil {
		h.respondErr(w, "get thought", err)
		return
	}
	children, err := h.deps.Store.ChildThoughts(r.Context(), id)
	if err != nil {
		h.respondErr(w, "child thoughts", err)
		return
	}
	if children == nil {
		children = []*thought.Thought{}
	}
	writeJSON(w, http.StatusOK, children)
}

type resolveRequest struct {
	WAID     string `json:"wa_id"`
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

func (h *Handler) resolveDeferral(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.deps.Resolver.Resolve(r.Context(), guidance.Reply{
		MessageID: chi.URLParam(r, "id"),
		WAID:      req.WAID,
		Decision:  req.Decision,
		Comment:   req.Comment,
	})
	if err != nil {
		h.respondErr(w, "resolve deferral", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	tools := []string{}
	if h.deps.Tools != nil {
		tools = append(tools, h.deps.Tools.AvailableTools()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// respondErr maps domain errors onto status codes.
func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, thought.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, guidance.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, guidance.ErrUnknownDecision),
		errors.Is(err, guidance.ErrMissingReviewer),
		errors.Is(err, intake.ErrEmptyDescription):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
