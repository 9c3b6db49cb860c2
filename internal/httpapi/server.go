// Package httpapi is the authenticated HTTP control plane: users and
// blocklist mutation, relay control, configuration, analytics over the
// local transaction log, time control, and a small set of additive
// endpoints (a live transaction feed, Prometheus metrics) the dashboard
// and operators consume alongside the JSON contract.
//
// Routing and middleware follow a mux.NewRouter + subrouter .Use() shape,
// narrowed to a single-admin appliance instead of a multi-tenant gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/accessd/internal/model"
	"github.com/ocx/accessd/internal/users"
)

// Users is the subset of users.Store the HTTP layer needs.
type Users interface {
	Get(card string) (model.User, bool)
	List() []model.User
	Add(u model.User) error
	Delete(card string) error
	SetBlocked(card string, blocked bool) error
	SetPrivacy(card string, enable bool, password string, verifier users.PasswordVerifier) error
}

// Sessions is the subset of session.Store the HTTP layer needs. Verify is
// included so a *session.Store can also be passed as the PasswordVerifier
// required by SetPrivacy.
type Sessions interface {
	Login(username, password string) (string, error)
	Logout(token string)
	Authenticate(token string) bool
	AuthenticateBasic(username, password string) bool
	UpdateCredentials(username, passwordHash string)
	ActiveCount() int
	Verify(password string) bool
}

// Configs is the subset of config.Store the HTTP layer needs.
type Configs interface {
	Get() model.Config
	Update(next model.Config) (restartWarning string, err error)
}

// Relays is the subset of relay.Driver the HTTP layer needs.
type Relays interface {
	State(relay int) (string, error)
	Pulse(relay int, duration time.Duration) error
	HoldOpen(relay int) error
	HoldClosed(relay int) error
	Normalize(relay int) error
}

// TxLog is the subset of txlog.Log the HTTP layer needs.
type TxLog interface {
	Range(days int, limit int) ([]model.Transaction, error)
	TotalBytes() (int64, error)
}

// TimeController is the subset of sysclock.TimeController the HTTP layer
// needs.
type TimeController interface {
	SetSystemTime(ctx context.Context, unixSeconds int64) error
	EnableNTP(ctx context.Context, enable bool) error
}

// Reachable reports whether the remote document store currently appears
// reachable, surfaced on GET /status.
type Reachable interface {
	Reachable() bool
}

// QueueStats exposes the upload pipeline's in-flight counters for
// GET /status and the metrics endpoint.
type QueueStats interface {
	QueueDepth() int
	CacheSize() (int, error)
}

// Server holds every collaborator the control plane wires together and
// builds the router.
type Server struct {
	Users       Users
	Sessions    Sessions
	Config      Configs
	Relays      Relays
	TxLog       TxLog
	Time        TimeController
	Reachable   Reachable
	Queue       QueueStats
	Temperature func() *float64

	Metrics Metrics

	hub *wsHub
}

// Metrics is the subset of metrics.Metrics the HTTP layer needs: the
// Prometheus scrape handler.
// A nil interface value (the zero Server) simply omits GET /metrics.
type Metrics interface {
	Handler() http.Handler
}

// New builds a Server. The caller fills in the exported collaborator
// fields before calling NewRouter.
func New() *Server {
	return &Server{hub: newWSHub()}
}

// NewRouter builds the full mux.Router, wiring every route and the CORS
// and logging middleware.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	// Every route below is restricted to GET or POST, so a preflight
	// request would otherwise match nothing and never reach corsMiddleware.
	r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return req.Method == http.MethodOptions
	}).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/get_users", s.handleGetUsers).Methods(http.MethodGet)
	api.HandleFunc("/add_user", s.handleAddUser).Methods(http.MethodPost)
	api.HandleFunc("/delete_user", s.handleDeleteUser).Methods(http.MethodPost)
	api.HandleFunc("/block_user", s.handleBlockUser).Methods(http.MethodPost)
	api.HandleFunc("/unblock_user", s.handleUnblockUser).Methods(http.MethodPost)
	api.HandleFunc("/toggle_privacy", s.handleTogglePrivacy).Methods(http.MethodPost)
	api.HandleFunc("/relay", s.handleRelay).Methods(http.MethodPost)
	api.HandleFunc("/get_config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/update_config", s.handleUpdateConfig).Methods(http.MethodPost)
	api.HandleFunc("/update_security", s.handleUpdateSecurity).Methods(http.MethodPost)
	api.HandleFunc("/set_system_time", s.handleSetSystemTime).Methods(http.MethodPost)
	api.HandleFunc("/enable_ntp", s.handleEnableNTP).Methods(http.MethodPost)
	api.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	api.HandleFunc("/get_analytics", s.handleAnalytics).Methods(http.MethodGet)
	api.HandleFunc("/get_user_report", s.handleUserReport).Methods(http.MethodGet)
	api.HandleFunc("/export_csv", s.handleExportCSV).Methods(http.MethodGet)
	api.HandleFunc("/ws/transactions", s.handleWSTransactions).Methods(http.MethodGet)

	r.Use(corsMiddleware)
	r.Use(loggingMiddleware)

	return r
}

// BroadcastTransaction pushes tx to every connected live-feed client. The
// composition root calls this from the policy engine's recorder chain; a
// nil hub (Server built without New()) is a no-op.
func (s *Server) BroadcastTransaction(tx model.Transaction) {
	if s.hub != nil {
		s.hub.broadcast(tx)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// writeJSON writes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeWarning(w http.ResponseWriter, message string, fields map[string]interface{}) {
	body := map[string]interface{}{"status": "warning", "message": message}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError maps a model.Error's Kind to an HTTP status code; any other
// error is treated as an opaque internal failure.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	if me, ok := err.(*model.Error); ok {
		switch me.Kind {
		case model.ErrValidation:
			status = http.StatusBadRequest
		case model.ErrAuth:
			status = http.StatusUnauthorized
		case model.ErrNotFound:
			status = http.StatusNotFound
		case model.ErrUnavailable:
			status = http.StatusServiceUnavailable
		case model.ErrStorage:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]interface{}{"status": "error", "message": message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewError(model.ErrValidation, "malformed JSON body")
	}
	return nil
}
