package roster

import (
	"github.com/google/uuid"

	"github.com/chatsim/joinsync/internal/domain/participant"
	"github.com/chatsim/joinsync/internal/domain/scenario"
)

// RoleAvailability is the occupancy of one scenario role as seen by one
// participant. It is display data only and reserves nothing.
type RoleAvailability struct {
	RoleID   string `json:"roleId"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Taken    int    `json:"taken"`
	Full     bool   `json:"full"`
	Mine     bool   `json:"mine"`
}

// Snapshot is the roster of a session as pushed to subscribers.
type Snapshot struct {
	SessionID    uuid.UUID                  `json:"sessionId"`
	Participants []*participant.Participant `json:"participants"`
	Occupancy    map[string]int             `json:"occupancy"`
}

// NewSnapshot builds a roster snapshot from every participant of a session.
func NewSnapshot(sessionID uuid.UUID, list []*participant.Participant) *Snapshot {
	humans := Filter(list)
	return &Snapshot{
		SessionID:    sessionID,
		Participants: humans,
		Occupancy:    Occupancy(humans),
	}
}

// Filter keeps the human participants of a roster.
func Filter(list []*participant.Participant) []*participant.Participant {
	out := make([]*participant.Participant, 0, len(list))
	for _, p := range list {
		if p == nil || p.IsBot {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Occupancy counts role holders, ignoring bots and participants who left or
// were removed.
func Occupancy(list []*participant.Participant) map[string]int {
	counts := make(map[string]int)
	for _, p := range list {
		if p == nil || p.IsBot || p.IsGone() || !p.HasRole() {
			continue
		}
		counts[*p.RoleID]++
	}
	return counts
}

// Availability lists selectable roles with their occupancy. A role the
// participant identified by selfUserID already holds is never reported full
// to them.
func Availability(sc *scenario.Scenario, list []*participant.Participant, selfUserID string) []RoleAvailability {
	if sc == nil {
		return nil
	}
	counts := Occupancy(list)
	var mine string
	for _, p := range list {
		if p != nil && p.UserID == selfUserID && !p.IsBot && p.HasRole() {
			mine = *p.RoleID
			break
		}
	}
	roles := sc.SelectableRoles()
	out := make([]RoleAvailability, 0, len(roles))
	for _, r := range roles {
		taken := counts[r.RoleID]
		isMine := mine == r.RoleID
		others := taken
		if isMine {
			others--
		}
		out = append(out, RoleAvailability{
			RoleID:   r.RoleID,
			Name:     r.Name,
			Capacity: r.Capacity,
			Taken:    taken,
			Full:     r.Capacity > 0 && others >= r.Capacity,
			Mine:     isMine,
		})
	}
	return out
}

// IsFull reports whether roleID is shown as full in the availability list.
func IsFull(avail []RoleAvailability, roleID string) bool {
	for _, a := range avail {
		if a.RoleID == roleID {
			return a.Full
		}
	}
	return false
}
