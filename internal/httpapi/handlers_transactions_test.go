package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/accessd/internal/model"
)

var assertErr = errors.New("log read failure")

func seedTransactions() []model.Transaction {
	return []model.Transaction{
		{Name: "Ada", Card: "0001", Reader: 1, Status: model.StatusGranted, Timestamp: 1700000000},
		{Name: "Ada", Card: "0001", Reader: 1, Status: model.StatusGranted, Timestamp: 1700003600},
		{Name: "Grace", Card: "0002", Reader: 2, Status: model.StatusDenied, Timestamp: 1700007200},
		{Name: "Grace", Card: "0002", Reader: 1, Status: model.StatusBlocked, Timestamp: 1700010800},
	}
}

func TestTransactionsDefaultLimit(t *testing.T) {
	s, _, sessions, _, _, txlog, _ := newTestServer()
	txlog.txs = seedTransactions()
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/transactions", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Grace")
}

func TestTransactionsLogReadFailure(t *testing.T) {
	s, _, sessions, _, _, txlog, _ := newTestServer()
	txlog.err = assertErr
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/transactions", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAnalyticsAggregation(t *testing.T) {
	s, _, sessions, _, _, txlog, _ := newTestServer()
	txlog.txs = seedTransactions()
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/get_analytics", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"total_count":4`)
	assert.Contains(t, body, `"distinct_cards":2`)
}

func TestUserReportRequiresCard(t *testing.T) {
	s, _, sessions, _, _, txlog, _ := newTestServer()
	txlog.txs = seedTransactions()
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/get_user_report", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserReportFiltersByCard(t *testing.T) {
	s, _, sessions, _, _, txlog, _ := newTestServer()
	txlog.txs = seedTransactions()
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/get_user_report?card=0002", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_count":2`)
}

func TestExportCSVEmbedsCSVInJSON(t *testing.T) {
	s, _, sessions, _, _, txlog, _ := newTestServer()
	txlog.txs = seedTransactions()
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/export_csv", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"rows":4`)
	assert.Contains(t, w.Body.String(), "name,card,reader,status,timestamp")
}

func TestAnalyticsDaysClampedToMaximum(t *testing.T) {
	s, _, sessions, _, _, txlog, _ := newTestServer()
	txlog.txs = seedTransactions()
	router := s.NewRouter()

	req := authedRequest(http.MethodGet, "/get_analytics?days=999999", "", sessions)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"days":365`)
}
