// Package admin serves the operator HTTP API: live sessions, the user
// directory, login history, message counters and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"msgr/models"
	"msgr/server"
)

// Directory is the persisted view of users.
type Directory interface {
	UsersList() ([]models.User, error)
	ActiveUsersList() ([]models.ActiveUser, error)
	LoginHistory(login string) ([]models.LoginRecord, error)
	MessageStats() ([]models.MessageStats, error)
}

// Live is the running server's in-memory state.
type Live interface {
	GetStats() string
	Sessions() []server.Session
}

type Handler struct {
	dir      Directory
	live     Live
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

func New(dir Directory, live Live, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dir: dir, live: live, gatherer: gatherer, logger: logger}
}

type sessionView struct {
	Account     string    `json:"account"`
	ConnID      string    `json:"conn_id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
}

type statsView struct {
	Summary  string `json:"summary"`
	Sessions int    `json:"sessions"`
}

// Router returns the HTTP handler with every admin route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/stats", h.handleStats)
		api.Get("/sessions", h.handleSessions)
		api.Get("/users", h.handleUsers)
		api.Get("/users/active", h.handleActive)
		api.Get("/users/{login}/history", h.handleHistory)
		api.Get("/history", h.handleHistory)
		api.Get("/messages", h.handleMessages)
	})
	return r
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statsView{
		Summary:  h.live.GetStats(),
		Sessions: len(h.live.Sessions()),
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.live.Sessions()
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionView{
			Account:     s.Account,
			ConnID:      s.Conn.ID,
			Remote:      s.Conn.RemoteAddr(),
			ConnectedAt: s.ConnectedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.dir.UsersList()
	h.respondList(w, r, users, err)
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	active, err := h.dir.ActiveUsersList()
	h.respondList(w, r, active, err)
}

// handleHistory serves login history for one user, or everyone when no
// login is given.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	login := chi.URLParam(r, "login")
	if login == "" {
		login = r.URL.Query().Get("login")
	}
	history, err := h.dir.LoginHistory(login)
	h.respondList(w, r, history, err)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dir.MessageStats()
	h.respondList(w, r, stats, err)
}

func (h *Handler) respondList(w http.ResponseWriter, r *http.Request, list any, err error) {
	if err != nil {
		h.logger.Error("admin query failed", "path", r.URL.Path, "err", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Serve runs the admin API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
