package workflow

import "context"

// Transition describes one applied state change
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// TransitionHook runs after the machine moves to a new state. Returning an
// error rolls the machine back to the source state.
type TransitionHook func(ctx context.Context, t Transition) error

// StateMachine represents a state machine that tracks current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) (Transition, error)

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger
}

// Actor identifies who caused a transition. It is passed explicitly to every
// engine call.
type Actor struct {
	ID   string
	Role Role
}

// Role gates which actors may fire a trigger
type Role string

const (
	RoleSchoolHead       Role = "school_head"
	RoleDistrictReviewer Role = "district_reviewer"
	RoleDivisionReviewer Role = "division_reviewer"
	RoleSuperintendent   Role = "superintendent"
	RoleAdmin            Role = "admin"
	RoleSystem           Role = "system"
)

// SystemActor is used for scheduler and tick driven transitions
func SystemActor() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

// HasRole returns true if the actor holds one of roles. Admin and system hold every role.
func (a Actor) HasRole(roles ...Role) bool {
	if a.Role == RoleAdmin || a.Role == RoleSystem {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
