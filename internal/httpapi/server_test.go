package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractToken(t *testing.T, body string) string {
	t.Helper()
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &parsed))
	token, ok := parsed["token"].(string)
	require.True(t, ok, "response did not contain a token field")
	return token
}

func newTestServer() (*Server, *fakeUsers, *fakeSessions, *fakeConfigs, *fakeRelays, *fakeTxLog, *fakeTime) {
	s := New()
	users := newFakeUsers()
	sessions := newFakeSessions()
	configs := newFakeConfigs()
	relays := newFakeRelays()
	txlog := &fakeTxLog{}
	clock := &fakeTime{}

	s.Users = users
	s.Sessions = sessions
	s.Config = configs
	s.Relays = relays
	s.TxLog = txlog
	s.Time = clock

	return s, users, sessions, configs, relays, txlog, clock
}

func TestHealthIsPublic(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestLoginSuccessAndProtectedRouteAccess(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	loginReq := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"admin","password":"secret"}`))
	loginW := httptest.NewRecorder()
	router.ServeHTTP(loginW, loginReq)
	require.Equal(t, http.StatusOK, loginW.Code)
	require.Contains(t, loginW.Body.String(), `"token"`)

	token := extractToken(t, loginW.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/get_users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginFailure(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRouteRejectsMissingAuth(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/get_users", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRouteAcceptsBasicAuth(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/get_users", nil)
	req.SetBasicAuth("admin", "secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusReportsOptionalCollaborators(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	s.Reachable = &fakeReachable{reachable: true}
	s.Queue = &fakeQueue{depth: 3, size: 1}
	temp := 41.5
	s.Temperature = func() *float64 { return &temp }
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"remote_reachable":true`)
	assert.Contains(t, body, `"queue_depth":3`)
	assert.Contains(t, body, `"cache_size":1`)
}

func TestStatusWithoutOptionalCollaborators(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "remote_reachable")
}

func TestMetricsRouteOmittedWhenNoMetricsCollaborator(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsRouteServedWhenWired(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	s.Metrics = fakeMetrics{}
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	s, _, _, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := httptest.NewRequest(http.MethodOptions, "/get_users", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
