package httpapi

import (
	"errors"
	"net/http"

	"github.com/ocx/accessd/internal/sysclock"
)

type setSystemTimeRequest struct {
	UnixSeconds int64 `json:"unix_seconds"`
}

func (s *Server) handleSetSystemTime(w http.ResponseWriter, r *http.Request) {
	var req setSystemTimeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Time.SetSystemTime(r.Context(), req.UnixSeconds); err != nil {
		writeTimeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

type enableNTPRequest struct {
	Enable bool `json:"enable"`
}

func (s *Server) handleEnableNTP(w http.ResponseWriter, r *http.Request) {
	var req enableNTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Time.EnableNTP(r.Context(), req.Enable); err != nil {
		writeTimeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// writeTimeError maps sysclock.ErrNotSupported to 501: a platform missing
// the required time-setting utility must answer 501, not silently
// succeed. Any other failure surfaces as a 5xx with the utility's stderr.
func writeTimeError(w http.ResponseWriter, err error) {
	if errors.Is(err, sysclock.ErrNotSupported) {
		writeJSON(w, http.StatusNotImplemented, map[string]interface{}{
			"status":  "error",
			"message": "not supported on this platform",
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"status":  "error",
		"message": err.Error(),
	})
}
