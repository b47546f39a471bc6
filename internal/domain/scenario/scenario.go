package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("scenario not found")
	ErrInvalidRoles = errors.New("scenario roles are invalid")
)

// Role is one entry of a scenario's role catalog. A zero Capacity means the
// role has no limit.
type Role struct {
	RoleID      string `json:"roleId" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Capacity    int    `json:"capacity" yaml:"capacity"`
	IsBot       bool   `json:"isBot,omitempty" yaml:"bot"`
}

// Scenario is the read-only definition a session is played from.
type Scenario struct {
	ScenarioID  uuid.UUID `json:"scenarioId" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Roles       []Role    `json:"roles" yaml:"roles"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// Validate checks the role catalog.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	seen := make(map[string]struct{}, len(s.Roles))
	for _, r := range s.Roles {
		id := strings.TrimSpace(r.RoleID)
		if id == "" {
			return fmt.Errorf("%w: role id is required", ErrInvalidRoles)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate role %q", ErrInvalidRoles, id)
		}
		if r.Capacity < 0 {
			return fmt.Errorf("%w: role %q has negative capacity", ErrInvalidRoles, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Role looks up a role by id.
func (s *Scenario) Role(roleID string) (Role, bool) {
	if s == nil {
		return Role{}, false
	}
	for _, r := range s.Roles {
		if r.RoleID == roleID {
			return r, true
		}
	}
	return Role{}, false
}

// HasRole reports whether roleID is in the catalog.
func (s *Scenario) HasRole(roleID string) bool {
	_, ok := s.Role(roleID)
	return ok
}

// SelectableRoles returns the roles a human participant may pick.
func (s *Scenario) SelectableRoles() []Role {
	if s == nil {
		return nil
	}
	out := make([]Role, 0, len(s.Roles))
	for _, r := range s.Roles {
		if !r.IsBot {
			out = append(out, r)
		}
	}
	return out
}
