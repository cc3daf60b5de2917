package guardian

import (
	"fmt"
	"time"
)

// Instance statuses
const (
	StatusActive     = "active"
	StatusTerminated = "terminated"
)

// GuardianName is the distinguished baseline instance's name. It is
// never a member of the experimental set and is never reverted.
const GuardianName = "guardian"

// Instance is one managed agent instance: the guardian baseline or a
// disposable experimental variant.
type Instance struct {
	Name         string    `json:"name"`
	SessionToken string    `json:"session_token"`
	ForkedFrom   string    `json:"forked_from,omitempty"`
	Variation    string    `json:"variation,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// VariationResult is one test case's outcome against one experimental
// instance.
type VariationResult struct {
	Test     string        `json:"test"`
	Response string        `json:"response,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Cost     int           `json:"cost"`
	Success  bool          `json:"success"`
}

// RevertError reports failures scoped to the experimental subsystem.
// The guardian instance is never affected by one.
type RevertError struct {
	Errs []error
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("revert completed with %d failure(s): %v", len(e.Errs), e.Errs)
}
