package entity

import (
	"time"

	"github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// TransitionRecord is the audit trail of one state change
type TransitionRecord struct {
	ID         int64            `json:"id"`
	EntityType string           `json:"entity_type"`
	EntityCode string           `json:"entity_code"`
	FromStatus workflow.State   `json:"from_status"`
	ToStatus   workflow.State   `json:"to_status"`
	Trigger    workflow.Trigger `json:"trigger"`
	ActorID    string           `json:"actor_id"`
	ActorRole  workflow.Role    `json:"actor_role"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
