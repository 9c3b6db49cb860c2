package httpapi

import "net/http"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.Sessions.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if auth := r.Header.Get("Authorization"); len(auth) > len(bearerPrefix) {
		s.Sessions.Logout(auth[len(bearerPrefix):])
	}
	writeSuccess(w, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fields := map[string]interface{}{
		"active_sessions": s.Sessions.ActiveCount(),
	}
	if s.Reachable != nil {
		fields["remote_reachable"] = s.Reachable.Reachable()
	}
	if s.Queue != nil {
		fields["queue_depth"] = s.Queue.QueueDepth()
		if n, err := s.Queue.CacheSize(); err == nil {
			fields["cache_size"] = n
		}
	}
	if s.Temperature != nil {
		fields["temperature_c"] = s.Temperature()
	}
	if s.TxLog != nil {
		if total, err := s.TxLog.TotalBytes(); err == nil {
			fields["log_bytes"] = total
		}
	}
	writeSuccess(w, fields)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}
