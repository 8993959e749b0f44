package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned when the trigger is not permitted from the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrMissingRequiredDocuments is returned when a liquidation is submitted
	// without every mandatory document present
	ErrMissingRequiredDocuments = errors.New("missing required documents")

	// ErrDuplicateLiquidation is returned when a second liquidation is created for a request
	ErrDuplicateLiquidation = errors.New("liquidation already exists for request")

	// ErrStaleWrite is returned when a save lost a race against a concurrent writer
	ErrStaleWrite = errors.New("stale write")

	// ErrTransientDependency marks a failure of an external collaborator that may succeed on retry
	ErrTransientDependency = errors.New("transient dependency error")

	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("actor not permitted")
	ErrCommentRequired     = errors.New("rejection comment is required")
	ErrInvalidLineItems    = errors.New("invalid line items")
	ErrActiveRequestExists = errors.New("user already has an active request")
	ErrDuplicateMonth      = errors.New("request already exists for target month")
	ErrNotEditable         = errors.New("entity is not editable in its current state")
)

// MissingDocument names one (category, requirement) pair that lacks a usable document.
type MissingDocument struct {
	CategoryID      string `json:"category_id"`
	RequirementID   string `json:"requirement_id"`
	RequirementName string `json:"requirement_name"`
}

// MissingDocumentsError lists every required document absent at submission time.
type MissingDocumentsError struct {
	LiquidationCode string
	Missing         []MissingDocument
}

func (e *MissingDocumentsError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, fmt.Sprintf("%s/%s", m.CategoryID, m.RequirementID))
	}
	return fmt.Sprintf("%s: liquidation %s lacks %s", ErrMissingRequiredDocuments, e.LiquidationCode, strings.Join(names, ", "))
}

// Is lets errors.Is match the sentinel
func (e *MissingDocumentsError) Is(target error) bool {
	return target == ErrMissingRequiredDocuments
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientDependency)
}

// Transient wraps err as a transient dependency failure
func Transient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientDependency, err)
}
