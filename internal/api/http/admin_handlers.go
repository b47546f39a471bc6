package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	appParticipant "github.com/chatsim/joinsync/internal/application/participant"
	appSession "github.com/chatsim/joinsync/internal/application/session"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

type sessionCreateRequest struct {
	Name       string         `json:"name"`
	ScenarioID string         `json:"scenario_id"`
	Status     session.Status `json:"status,omitempty"`
}

type statusRequest struct {
	Status session.Status `json:"status"`
}

type lockRequest struct {
	Locked bool `json:"locked"`
}

type countdownRequest struct {
	Seconds int `json:"seconds"`
}

type resetRequest struct {
	Target      session.Status `json:"target,omitempty"`
	RotateToken bool           `json:"rotate_token,omitempty"`
}

type assignRoleRequest struct {
	RoleID *string `json:"role_id"`
}

type muteRequest struct {
	Muted          bool `json:"muted"`
	PenaltySeconds int  `json:"penalty_seconds,omitempty"`
}

type botRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	RoleID      string `json:"role_id"`
}

// Scenario handlers
func (s *Server) saveScenario(w http.ResponseWriter, r *http.Request) {
	var req scenario.Scenario
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sc, err := s.scenarioSvc.Save(contextFromRequest(r), &req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

func (s *Server) listScenarios(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	list, err := s.scenarioSvc.List(contextFromRequest(r), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"scenarios": list})
}

func (s *Server) getScenario(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "scenarioId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid scenarioId")
		return
	}
	sc, err := s.scenarioSvc.Get(contextFromRequest(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

// Session handlers
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	scenarioID, err := uuid.Parse(req.ScenarioID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid scenario_id")
		return
	}
	sess, err := s.sessionSvc.CreateSession(contextFromRequest(r), appSession.CreateSessionInput{
		Name:       req.Name,
		ScenarioID: scenarioID,
		Status:     req.Status,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseLimitOffset(r, 100, 200)
	list, err := s.sessionSvc.List(contextFromRequest(r), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

func (s *Server) adminGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	sess, err := s.sessionSvc.Get(contextFromRequest(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) adminListParticipants(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	list, err := s.participantSvc.List(contextFromRequest(r), id, true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"participants": list})
}

func (s *Server) setSessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.sessionSvc.SetStatus(contextFromRequest(r), id, req.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) setRoleLock(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req lockRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.sessionSvc.SetRoleSelectionLocked(contextFromRequest(r), id, req.Locked)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) startCountdown(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req countdownRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Seconds <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "seconds must be positive")
		return
	}
	sess, err := s.sessionSvc.StartCountdown(contextFromRequest(r), id, time.Duration(req.Seconds)*time.Second)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) cancelCountdown(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	sess, err := s.sessionSvc.CancelCountdown(contextFromRequest(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) rotateToken(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	sess, err := s.sessionSvc.RotateToken(contextFromRequest(r), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
	}
	sess, err := s.sessionSvc.Reset(contextFromRequest(r), id, appSession.ResetInput{
		Target:      req.Target,
		RotateToken: req.RotateToken,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) registerBot(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req botRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	p, err := s.participantSvc.RegisterBot(contextFromRequest(r), id, appParticipant.BotInput{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		RoleID:      req.RoleID,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// Participant moderation
func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	p, err := s.participantSvc.AssignRole(contextFromRequest(r), id, userIDParam(r), req.RoleID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) muteParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	var req muteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.PenaltySeconds < 0 {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "penalty_seconds must not be negative")
		return
	}
	p, err := s.participantSvc.SetMuted(contextFromRequest(r), id, userIDParam(r), req.Muted, time.Duration(req.PenaltySeconds)*time.Second)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) removeParticipant(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}
	p, err := s.participantSvc.Remove(contextFromRequest(r), id, userIDParam(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func sessionParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return uuid.Nil, false
	}
	return id, true
}
