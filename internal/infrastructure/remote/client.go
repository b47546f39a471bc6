package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

// Transport selects how live streams are carried.
type Transport string

const (
	TransportWebsocket Transport = "ws"
	TransportSSE       Transport = "sse"
)

// Error codes the session server answers with.
var codeErrors = map[string]error{
	"NOT_FOUND":             participant.ErrNotFound,
	"ROLE_SELECTION_LOCKED": participant.ErrRoleSelectionLocked,
	"UNKNOWN_ROLE":          participant.ErrUnknownRole,
	"PARTICIPANT_REMOVED":   participant.ErrRemoved,
	"INVALID_STATUS":        participant.ErrInvalidStatus,
}

// APIError is a non-2xx answer from the session server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session server: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("session server: %s: %s", e.Code, e.Message)
}

// Unwrap exposes the matching domain error, if any.
func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

// Options configures a Client.
type Options struct {
	Token      *string
	Transport  Transport
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     zerolog.Logger
}

// Client talks to the session server on behalf of one participant. It
// satisfies the join engine's feed and writer ports.
type Client struct {
	base      *url.URL
	token     *string
	transport Transport
	http      *http.Client
	dialer    *websocket.Dialer
	logger    zerolog.Logger
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", u.Scheme)
	}
	if opts.Transport == "" {
		opts.Transport = TransportWebsocket
	}
	if opts.Transport != TransportWebsocket && opts.Transport != TransportSSE {
		return nil, fmt.Errorf("unknown transport %q", opts.Transport)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		base:      u,
		token:     opts.Token,
		transport: opts.Transport,
		http:      opts.HTTPClient,
		dialer:    opts.Dialer,
		logger:    opts.Logger.With().Str("component", "remote").Logger(),
	}, nil
}

// GetSession loads the session record. A missing session or a rejected
// token comes back as *access.DeniedError.
func (c *Client) GetSession(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	var out session.Session
	if err := c.call(ctx, http.MethodGet, c.sessionPath(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScenario loads the role catalog of the session's scenario.
func (c *Client) GetScenario(ctx context.Context, sessionID uuid.UUID) (*scenario.Scenario, error) {
	var out scenario.Scenario
	if err := c.call(ctx, http.MethodGet, c.sessionPath(sessionID)+"/scenario", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitNames(ctx context.Context, sessionID uuid.UUID, userID string, names participant.Names) (*participant.Participant, error) {
	body := map[string]string{
		"real_name":    names.RealName,
		"display_name": names.DisplayName,
	}
	if names.AvatarFallback != "" {
		body["avatar_fallback"] = names.AvatarFallback
	}
	return c.participantCall(ctx, http.MethodPut, sessionID, userID, "/names", body)
}

func (c *Client) SelectRole(ctx context.Context, sessionID uuid.UUID, userID, roleID string) (*participant.Participant, error) {
	return c.participantCall(ctx, http.MethodPut, sessionID, userID, "/role", map[string]string{"role_id": roleID})
}

// MarkJoined records that the participant entered the live session.
func (c *Client) MarkJoined(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	return c.participantCall(ctx, http.MethodPost, sessionID, userID, "/joined", nil)
}

// Leave marks the participant as gone.
func (c *Client) Leave(ctx context.Context, sessionID uuid.UUID, userID string) (*participant.Participant, error) {
	return c.participantCall(ctx, http.MethodPost, sessionID, userID, "/leave", nil)
}

func (c *Client) participantCall(ctx context.Context, method string, sessionID uuid.UUID, userID, suffix string, body interface{}) (*participant.Participant, error) {
	var out participant.Participant
	path := c.sessionPath(sessionID) + "/participants/" + url.PathEscape(userID) + suffix
	if err := c.call(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) sessionPath(sessionID uuid.UUID) string {
	return "/v1/sessions/" + sessionID.String()
}

// endpoint builds an absolute URL carrying the invitation token.
func (c *Client) endpoint(path string, query url.Values) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if query == nil {
		query = url.Values{}
	}
	if c.token != nil {
		query.Set("token", *c.token)
	}
	u.RawQuery = query.Encode()
	return &u
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil).String(), rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response into *access.DeniedError for the
// access guard's answers and *APIError otherwise.
func decodeError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusNotFound && body.Error == "SESSION_NOT_FOUND":
		return &access.DeniedError{Reason: access.ReasonNotFound}
	case resp.StatusCode == http.StatusForbidden && body.Error == "INVALID_TOKEN":
		return &access.DeniedError{Reason: access.ReasonInvalidToken}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error, Message: body.Message}
}

// IsDenied reports whether err is a terminal access denial.
func IsDenied(err error) bool {
	var denied *access.DeniedError
	return errors.As(err, &denied)
}
