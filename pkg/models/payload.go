package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Action selects whether the compute function grants or revokes access.
type Action string

const (
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// ScheduleARNPlaceholder is the context attribute the scheduler replaces with
// the ARN of the schedule that fired.
const ScheduleARNPlaceholder = "<aws.scheduler.schedule-arn>"

var (
	// ErrInvalidPayload is wrapped by every payload validation failure.
	ErrInvalidPayload = errors.New("invalid schedule payload")

	accountIDPattern = regexp.MustCompile(`^[0-9]{12}$`)
)

// SchedulePayload is the input delivered to the compute function by each
// one-time schedule. Field names are fixed by the function contract.
type SchedulePayload struct {
	AccountID    string `json:"accountid"`
	UserName     string `json:"username"`
	Action       Action `json:"action"`
	SchedulerARN string `json:"schedulerarn"`
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionDelete
}

// Validate checks a concrete (already substituted) payload.
func (p SchedulePayload) Validate() error {
	var errs []error
	if !accountIDPattern.MatchString(p.AccountID) {
		errs = append(errs, fmt.Errorf("%w: accountid %q is not a 12 digit account id", ErrInvalidPayload, p.AccountID))
	}
	if strings.TrimSpace(p.UserName) == "" {
		errs = append(errs, fmt.Errorf("%w: username is empty", ErrInvalidPayload))
	}
	if !p.Action.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, p.Action))
	}
	if p.SchedulerARN == "" {
		errs = append(errs, fmt.Errorf("%w: schedulerarn is empty", ErrInvalidPayload))
	}
	return errors.Join(errs...)
}

// ScheduleName returns the schedule name embedded in SchedulerARN, i.e. the
// segment after the last slash. The function deletes its own schedule by
// this name once it has run.
func (p SchedulePayload) ScheduleName() (string, error) {
	i := strings.LastIndex(p.SchedulerARN, "/")
	if i < 0 || i == len(p.SchedulerARN)-1 {
		return "", fmt.Errorf("%w: schedulerarn %q has no schedule name", ErrInvalidPayload, p.SchedulerARN)
	}
	return p.SchedulerARN[i+1:], nil
}
