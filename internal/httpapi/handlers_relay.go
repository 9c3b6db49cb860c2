package httpapi

import (
	"net/http"

	"github.com/ocx/accessd/internal/model"
)

type relayRequest struct {
	Relay  int    `json:"relay"`
	Action string `json:"action"`
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	switch req.Action {
	case "pulse":
		err = s.Relays.Pulse(req.Relay, 0)
	case "open_hold":
		err = s.Relays.HoldOpen(req.Relay)
	case "close_hold":
		err = s.Relays.HoldClosed(req.Relay)
	case "normal":
		err = s.Relays.Normalize(req.Relay)
	default:
		err = model.NewError(model.ErrValidation, "action must be one of pulse, open_hold, close_hold, normal")
	}
	if err != nil {
		writeError(w, err)
		return
	}

	state, _ := s.Relays.State(req.Relay)
	writeSuccess(w, map[string]interface{}{"relay": req.Relay, "state": state})
}
