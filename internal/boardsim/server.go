package boardsim

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/taskboard-sync/internal/auth"
	"github.com/erauner12/taskboard-sync/internal/client"
	"github.com/erauner12/taskboard-sync/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Options configures the simulator's HTTP surface
type Options struct {
	// JWT enables bearer authentication on every /api route when set
	JWT *auth.JWTCfg

	// RateLimit enables 429 responses when set
	RateLimit *RateLimitInfo
}

// Server exposes a Board over the board REST API and its patch stream
type Server struct {
	Board *Board
	Hub   *Hub
	opts  Options
}

// NewServer creates a simulator with an empty board
func NewServer(opts Options) *Server {
	hub := NewHub()
	return &Server{Board: NewBoard(hub), Hub: hub, opts: opts}
}

// listResp is the data payload of GET /api/tasks
type listResp struct {
	Tasks   []model.Task `json:"tasks"`
	Total   int          `json:"total"`
	HasMore bool         `json:"hasMore"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, client.Envelope[any]{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, client.Envelope[any]{Success: false, Message: &msg})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Routes creates the HTTP router with the task API and stream
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		if s.opts.JWT != nil {
			r.Use(auth.Middleware(*s.opts.JWT))
		}
		if s.opts.RateLimit != nil {
			r.Use(RateLimitMiddleware(*s.opts.RateLimit))
		}

		r.Get("/tasks", s.ListTasks)
		r.Post("/tasks", s.CreateTask)
		r.Get("/tasks/stream/ws", s.StreamTasks)
		r.Get("/tasks/{id}", s.GetTask)
		r.Put("/tasks/{id}", s.UpdateTask)
		r.Delete("/tasks/{id}", s.DeleteTask)
		r.Get("/projects/{id}/gantt", s.ProjectGantt)
	})

	return r
}

// ListTasks handles GET /api/tasks?project_id=&offset=&limit=&status=&order_by=
func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	projectID := q.Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}

	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	limit := parseLimit(q.Get("limit"), defaultListLimit, maxListLimit)

	var status model.TaskStatus
	if v := q.Get("status"); v != "" {
		status = model.TaskStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status value")
			return
		}
	}

	order, err := model.ParseOrderBy(q.Get("order_by"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order_by value")
		return
	}

	tasks, total := s.Board.List(ListQuery{
		ProjectID: projectID,
		Status:    status,
		OrderBy:   order,
		Offset:    offset,
		Limit:     limit,
	})
	writeData(w, listResp{
		Tasks:   tasks,
		Total:   total,
		HasMore: offset+len(tasks) < total,
	})
}

// GetTask handles GET /api/tasks/{id}
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.Board.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	writeData(w, t)
}

// CreateTask handles POST /api/tasks
func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var payload model.CreateTask
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	t, err := s.Board.Create(payload)
	if err != nil {
		s.writeBoardError(w, r, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("taskId", t.ID).Msg("task created")
	writeData(w, t)
}

// UpdateTask handles PUT /api/tasks/{id} with a partial field map
func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	t, err := s.Board.Update(chi.URLParam(r, "id"), fields)
	if err != nil {
		s.writeBoardError(w, r, err)
		return
	}
	writeData(w, t)
}

// DeleteTask handles DELETE /api/tasks/{id}
func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Board.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeBoardError(w, r, err)
		return
	}
	writeData(w, nil)
}

// ProjectGantt handles GET /api/projects/{id}/gantt
func (s *Server) ProjectGantt(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.Board.Gantt(chi.URLParam(r, "id")))
}

// StreamTasks handles GET /api/tasks/stream/ws?project_id=
func (s *Server) StreamTasks(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	s.Hub.Serve(w, r, projectID)
}

func (s *Server) writeBoardError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, ErrMissingTitle), errors.Is(err, ErrMissingScope), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidFields):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("board write failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
