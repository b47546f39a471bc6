package join

import (
	"github.com/chatsim/joinsync/internal/domain/identity"
	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/scenario"
	"github.com/chatsim/joinsync/internal/domain/session"
)

// Stage is a participant's onboarding stage.
type Stage string

const (
	StageNameInput     Stage = "NAME_INPUT"
	StageRoleSelection Stage = "ROLE_SELECTION"
	StageWaitingRoom   Stage = "WAITING_ROOM"
	StageLiveRedirect  Stage = "LIVE_REDIRECT"
)

// Block is the informational reason NameInput cannot be completed yet.
type Block string

const (
	BlockNone        Block = ""
	BlockPending     Block = "pending"
	BlockPaused      Block = "paused"
	BlockEnded       Block = "ended"
	BlockUnavailable Block = "unavailable"
)

// Snapshot is the latest known value of every input. Scenario may be nil
// while the role catalog is still loading.
type Snapshot struct {
	Session     *session.Session
	Participant *participant.Participant
	Identity    *identity.Identity
	Scenario    *scenario.Scenario
}

// Result is the computed stage.
type Result struct {
	Stage Stage `json:"stage"`
	Block Block `json:"block,omitempty"`
}

// Blocked reports whether the participant is held at NameInput by the
// session status.
func (r Result) Blocked() bool {
	return r.Block != BlockNone
}

// Compute derives the onboarding stage from a snapshot. It is pure: the
// same snapshot always yields the same result. Checks run in a fixed order
// (blocking statuses, local identity, own role, session status, lock flag)
// so a participant without a role is never shown as waiting or live.
func Compute(s Snapshot) Result {
	if s.Session == nil {
		return Result{Stage: StageNameInput, Block: BlockUnavailable}
	}
	switch s.Session.Status {
	case session.StatusPending:
		return Result{Stage: StageNameInput, Block: BlockPending}
	case session.StatusEnded:
		return Result{Stage: StageNameInput, Block: BlockEnded}
	case session.StatusPaused:
		return Result{Stage: StageNameInput, Block: BlockPaused}
	case session.StatusOpen, session.StatusActive:
	default:
		return Result{Stage: StageNameInput, Block: BlockUnavailable}
	}
	if !s.Identity.HasNames() {
		return Result{Stage: StageNameInput}
	}
	// A participant without a role must be allowed to pick one even when
	// selection is locked, otherwise they can never enter.
	if EffectiveRoleID(s.Participant, s.Scenario) == nil {
		return Result{Stage: StageRoleSelection}
	}
	if s.Session.Status == session.StatusActive {
		return Result{Stage: StageLiveRedirect}
	}
	if !s.Session.RoleSelectionLocked {
		return Result{Stage: StageRoleSelection}
	}
	return Result{Stage: StageWaitingRoom}
}

// CanEnterLive is the launch gate: the session is active, the participant
// record exists with a role, and the local identity has names.
func CanEnterLive(s Snapshot) bool {
	return s.Session != nil &&
		s.Session.Status == session.StatusActive &&
		EffectiveRoleID(s.Participant, s.Scenario) != nil &&
		s.Identity.HasNames()
}

// EffectiveRoleID returns the participant's role, or nil when there is none
// or it is missing from the loaded scenario catalog. An unloaded scenario
// does not invalidate the role.
func EffectiveRoleID(p *participant.Participant, sc *scenario.Scenario) *string {
	if !p.HasRole() {
		return nil
	}
	if sc != nil && !sc.HasRole(*p.RoleID) {
		return nil
	}
	id := *p.RoleID
	return &id
}

// IsReset reports whether a status change is an administrator reset: the
// session moved into pending, or back to open from a started, paused or
// ended session. An empty prev means no status was observed before.
func IsReset(prev, next session.Status) bool {
	if next == session.StatusPending {
		return prev != session.StatusPending
	}
	if next == session.StatusOpen {
		switch prev {
		case session.StatusActive, session.StatusEnded, session.StatusPaused:
			return true
		}
	}
	return false
}

// CanSelectRole is the role-selection precondition: selection is unlocked,
// or the participant has no role yet.
func CanSelectRole(sess *session.Session, p *participant.Participant, sc *scenario.Scenario) bool {
	if sess == nil {
		return false
	}
	return !sess.RoleSelectionLocked || EffectiveRoleID(p, sc) == nil
}
