package httpapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/ocx/accessd/internal/model"
)

const (
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 365
	defaultTxLimit       = 100
)

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultTxLimit)
	txs, err := s.TxLog.Range(0, limit)
	if err != nil {
		writeError(w, model.NewError(model.ErrStorage, "failed to read transaction log"))
		return
	}
	writeSuccess(w, map[string]interface{}{"transactions": txs})
}

func (s *Server) analyticsDays(r *http.Request) int {
	days := queryInt(r, "days", defaultAnalyticsDays)
	if days <= 0 {
		days = defaultAnalyticsDays
	}
	if days > maxAnalyticsDays {
		days = maxAnalyticsDays
	}
	return days
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days := s.analyticsDays(r)
	txs, err := s.TxLog.Range(days, 0)
	if err != nil {
		writeError(w, model.NewError(model.ErrStorage, "failed to read transaction log"))
		return
	}
	writeSuccess(w, map[string]interface{}{"analytics": aggregate(txs), "days": days})
}

func (s *Server) handleUserReport(w http.ResponseWriter, r *http.Request) {
	card := r.URL.Query().Get("card")
	if card == "" {
		writeError(w, model.NewError(model.ErrValidation, "card query parameter is required"))
		return
	}
	days := s.analyticsDays(r)
	txs, err := s.TxLog.Range(days, 0)
	if err != nil {
		writeError(w, model.NewError(model.ErrStorage, "failed to read transaction log"))
		return
	}
	filtered := make([]model.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Card == card {
			filtered = append(filtered, tx)
		}
	}
	writeSuccess(w, map[string]interface{}{"analytics": aggregate(filtered), "card": card, "days": days})
}

// handleExportCSV returns the CSV body inside a JSON envelope, preserving
// the existing dashboard's expectation that every response is JSON.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	days := s.analyticsDays(r)
	txs, err := s.TxLog.Range(days, 0)
	if err != nil {
		writeError(w, model.NewError(model.ErrStorage, "failed to read transaction log"))
		return
	}

	var sb strings.Builder
	cw := csv.NewWriter(&sb)
	_ = cw.Write([]string{"name", "card", "reader", "status", "timestamp"})
	for _, tx := range txs {
		_ = cw.Write([]string{
			tx.Name,
			tx.Card,
			strconv.Itoa(tx.Reader),
			string(tx.Status),
			strconv.FormatInt(tx.Timestamp, 10),
		})
	}
	cw.Flush()

	writeSuccess(w, map[string]interface{}{"csv": sb.String(), "rows": len(txs)})
}
