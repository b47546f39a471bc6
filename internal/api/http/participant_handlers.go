package httpapi

import (
	"net/http"

	"github.com/chatsim/joinsync/internal/domain/participant"
)

type namesRequest struct {
	RealName       string `json:"real_name"`
	DisplayName    string `json:"display_name"`
	AvatarFallback string `json:"avatar_fallback,omitempty"`
}

type roleRequest struct {
	RoleID string `json:"role_id"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	respondJSON(w, http.StatusOK, v.SessionView(v.Session))
}

func (s *Server) getSessionScenario(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	sc, err := s.sessionSvc.GetScenario(contextFromRequest(r), v.Session)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

func (s *Server) getRoster(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	snap, err := s.rosterSvc.Snapshot(contextFromRequest(r), v.Session.SessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) getParticipant(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	p, err := s.participantSvc.Get(contextFromRequest(r), v.Session.SessionID, userIDParam(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) submitNames(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	var req namesRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	p, err := s.participantSvc.SubmitNames(contextFromRequest(r), v.Session.SessionID, userIDParam(r), participant.Names{
		RealName:       req.RealName,
		DisplayName:    req.DisplayName,
		AvatarFallback: req.AvatarFallback,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) selectRole(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.RoleID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "role_id required")
		return
	}
	p, err := s.participantSvc.SelectRole(contextFromRequest(r), v.Session.SessionID, userIDParam(r), req.RoleID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) markJoined(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	p, err := s.participantSvc.MarkJoined(contextFromRequest(r), v.Session.SessionID, userIDParam(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) leave(w http.ResponseWriter, r *http.Request) {
	v := visitFromContext(r.Context())
	p, err := s.participantSvc.Leave(contextFromRequest(r), v.Session.SessionID, userIDParam(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
