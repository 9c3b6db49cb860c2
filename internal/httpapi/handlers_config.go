package httpapi

import (
	"net/http"

	"github.com/ocx/accessd/internal/model"
	"github.com/ocx/accessd/internal/session"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{"config": s.Config.Get()})
}

type updateConfigRequest struct {
	Config model.Config `json:"config"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	warning, err := s.Config.Update(req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	if warning != "" {
		writeWarning(w, warning, nil)
		return
	}
	writeSuccess(w, nil)
}

// updateSecurityRequest changes the admin username and/or password. A new
// password is always stored as a bcrypt digest: this is a deliberate admin
// action, not a silent background format upgrade of an existing digest.
type updateSecurityRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleUpdateSecurity(w http.ResponseWriter, r *http.Request) {
	var req updateSecurityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" && req.Password == "" {
		writeError(w, model.NewError(model.ErrValidation, "username or password is required"))
		return
	}

	var digest string
	if req.Password != "" {
		var err error
		digest, err = session.BcryptDigest(req.Password)
		if err != nil {
			writeError(w, model.NewError(model.ErrStorage, "failed to hash new password"))
			return
		}
	}
	s.Sessions.UpdateCredentials(req.Username, digest)
	writeSuccess(w, nil)
}
