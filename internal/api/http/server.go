package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	appParticipant "github.com/chatsim/joinsync/internal/application/participant"
	appRoster "github.com/chatsim/joinsync/internal/application/roster"
	appScenario "github.com/chatsim/joinsync/internal/application/scenario"
	appSession "github.com/chatsim/joinsync/internal/application/session"
	"github.com/chatsim/joinsync/internal/domain/admin"
	"github.com/chatsim/joinsync/internal/domain/feed"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

const (
	defaultStreamBuffer    = 16
	defaultStreamKeepAlive = 25 * time.Second
)

// Options tunes the live streams.
type Options struct {
	StreamBuffer    int
	StreamKeepAlive time.Duration
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	sessionSvc     *appSession.Service
	participantSvc *appParticipant.Service
	scenarioSvc    *appScenario.Service
	rosterSvc      *appRoster.Service
	hub            feed.Hub
	admin          *admin.Verifier
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
	streamBuffer   int
	keepAlive      time.Duration
}

func NewServer(
	sessionSvc *appSession.Service,
	participantSvc *appParticipant.Service,
	scenarioSvc *appScenario.Service,
	rosterSvc *appRoster.Service,
	hub feed.Hub,
	verifier *admin.Verifier,
	logger zerolog.Logger,
	opts Options,
) *Server {
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = defaultStreamBuffer
	}
	if opts.StreamKeepAlive <= 0 {
		opts.StreamKeepAlive = defaultStreamKeepAlive
	}
	return &Server{
		sessionSvc:     sessionSvc,
		participantSvc: participantSvc,
		scenarioSvc:    scenarioSvc,
		rosterSvc:      rosterSvc,
		hub:            hub,
		admin:          verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:       logger.With().Str("component", "httpapi").Logger(),
		streamBuffer: opts.StreamBuffer,
		keepAlive:    opts.StreamKeepAlive,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions/{sessionId}", func(r chi.Router) {
			r.Use(s.requireVisit)

			// Streams outlive the request timeout.
			r.Get("/stream", s.sseStream)
			r.Get("/ws", s.wsStream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Get("/", s.getSession)
				r.Get("/scenario", s.getSessionScenario)
				r.Get("/roster", s.getRoster)
				r.Get("/participants/{userId}", s.getParticipant)

				r.Group(func(r chi.Router) {
					r.Use(s.requireAllowed)
					r.Put("/participants/{userId}/names", s.submitNames)
					r.Put("/participants/{userId}/role", s.selectRole)
					r.Post("/participants/{userId}/joined", s.markJoined)
				})
				r.Post("/participants/{userId}/leave", s.leave)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/scenarios", func(r chi.Router) {
				r.Post("/", s.saveScenario)
				r.Get("/", s.listScenarios)
				r.Get("/{scenarioId}", s.getScenario)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.createSession)
				r.Get("/", s.listSessions)
				r.Get("/{sessionId}", s.adminGetSession)
				r.Get("/{sessionId}/participants", s.adminListParticipants)
				r.Post("/{sessionId}/status", s.setSessionStatus)
				r.Post("/{sessionId}/lock", s.setRoleLock)
				r.Post("/{sessionId}/countdown", s.startCountdown)
				r.Delete("/{sessionId}/countdown", s.cancelCountdown)
				r.Post("/{sessionId}/token", s.rotateToken)
				r.Post("/{sessionId}/reset", s.resetSession)
				r.Post("/{sessionId}/bots", s.registerBot)
				r.Put("/{sessionId}/participants/{userId}/role", s.assignRole)
				r.Post("/{sessionId}/participants/{userId}/mute", s.muteParticipant)
				r.Post("/{sessionId}/participants/{userId}/remove", s.removeParticipant)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondServiceError maps service sentinels onto status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, participant.ErrNotFound),
		errors.Is(err, scenario.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, participant.ErrRoleSelectionLocked):
		respondError(w, http.StatusConflict, "ROLE_SELECTION_LOCKED", err.Error())
	case errors.Is(err, participant.ErrRemoved):
		respondError(w, http.StatusForbidden, "PARTICIPANT_REMOVED", err.Error())
	case errors.Is(err, participant.ErrUnknownRole):
		respondError(w, http.StatusBadRequest, "UNKNOWN_ROLE", err.Error())
	case errors.Is(err, session.ErrInvalidStatus),
		errors.Is(err, participant.ErrInvalidStatus):
		respondError(w, http.StatusConflict, "INVALID_STATUS", err.Error())
	case errors.Is(err, participant.ErrInvalidNames),
		errors.Is(err, participant.ErrNameTooLong),
		errors.Is(err, participant.ErrInvalidUserID),
		errors.Is(err, session.ErrInvalidInput),
		errors.Is(err, scenario.ErrInvalidRoles):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func userIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "userId"))
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func contextFromRequest(r *http.Request) context.Context {
	return r.Context()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
