package httpapi

import (
	"net/http"

	"github.com/ocx/accessd/internal/model"
)

func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{"users": s.Users.List()})
}

type addUserRequest struct {
	Card  string `json:"card_number"`
	ID    string `json:"id"`
	Name  string `json:"name"`
	RefID string `json:"ref_id"`
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u := model.User{Card: req.Card, ID: req.ID, Name: req.Name, RefID: req.RefID}
	if err := s.Users.Add(u); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

type cardRequest struct {
	Card string `json:"card_number"`
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Users.Delete(req.Card); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (s *Server) handleBlockUser(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, true)
}

func (s *Server) handleUnblockUser(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, false)
}

func (s *Server) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	var req cardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Users.SetBlocked(req.Card, blocked); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

type togglePrivacyRequest struct {
	Card     string `json:"card_number"`
	Password string `json:"password"`
	Enable   bool   `json:"enable"`
}

func (s *Server) handleTogglePrivacy(w http.ResponseWriter, r *http.Request) {
	var req togglePrivacyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Users.SetPrivacy(req.Card, req.Enable, req.Password, s.Sessions); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}
