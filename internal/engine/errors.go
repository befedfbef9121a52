package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTransition    = errors.New("invalid review state transition")
	ErrAlreadyApproved      = errors.New("task already approved")
	ErrMissingComment       = errors.New("comment required when requesting changes")
	ErrAlreadyRunning       = errors.New("timer already running")
	ErrAlreadyStopped       = errors.New("time log already stopped")
	ErrInvalidStatus        = errors.New("invalid status value")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNoEligibleRecipients = errors.New("no eligible nudge recipients")
)

// BlockedByDependencyError rejects a status change while prerequisite tasks
// are incomplete. Titles names the blocking tasks.
type BlockedByDependencyError struct {
	Titles []string
}

func (e BlockedByDependencyError) Error() string {
	return fmt.Sprintf("blocked by incomplete dependencies: %s", strings.Join(e.Titles, ", "))
}

// RateLimitedError reports how long until the next nudge is allowed.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("nudge rate limited; retry in %d minutes", e.Minutes())
}

// Minutes returns the remaining wait rounded up to whole minutes.
func (e RateLimitedError) Minutes() int {
	m := int((e.Remaining + time.Minute - 1) / time.Minute)
	if m < 0 {
		return 0
	}
	return m
}
