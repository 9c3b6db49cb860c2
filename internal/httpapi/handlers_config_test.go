package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/accessd/internal/model"
)

func TestGetConfig(t *testing.T) {
	s, _, sessions, configs, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/get_config", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wiegand_bits")
	_ = configs
}

func TestUpdateConfigSuccess(t *testing.T) {
	s, _, sessions, configs, _, _, _ := newTestServer()
	router := s.NewRouter()

	body := `{"config":{"wiegand_bits":{"1":26,"2":34},"scan_delay_seconds":3}}`
	req := authedRequest(http.MethodPost, "/update_config", body, sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, configs.Get().ScanDelaySeconds)
}

func TestUpdateConfigWarning(t *testing.T) {
	s, _, sessions, configs, _, _, _ := newTestServer()
	configs.warning = "restart required for Wiegand timing change"
	router := s.NewRouter()

	req := authedRequest(http.MethodPost, "/update_config", `{"config":{}}`, sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"warning"`)
	assert.Contains(t, w.Body.String(), "restart required")
}

func TestUpdateConfigFailure(t *testing.T) {
	s, _, sessions, configs, _, _, _ := newTestServer()
	configs.err = model.NewError(model.ErrValidation, "wiegand_bits must not be empty")
	router := s.NewRouter()

	req := authedRequest(http.MethodPost, "/update_config", `{"config":{}}`, sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateSecurityHashesNewPassword(t *testing.T) {
	s, _, sessions, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := authedRequest(http.MethodPost, "/update_security", `{"password":"new-password"}`, sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "new-password", sessions.password)
	assert.True(t, sessions.Verify(sessions.password))
}

func TestUpdateSecurityRequiresAField(t *testing.T) {
	s, _, sessions, _, _, _, _ := newTestServer()
	router := s.NewRouter()

	req := authedRequest(http.MethodPost, "/update_security", `{}`, sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
