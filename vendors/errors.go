package vendors

import (
	"errors"
	"fmt"
)

// Stage names the step of a run that produced an error
type Stage string

const (
	StageLaunch     Stage = "launch"
	StageAuth       Stage = "authenticate"
	StageSelect     Stage = "select_account"
	StageNavigate   Stage = "locate_bill"
	StageRetrieve   Stage = "retrieve_bill"
	StageSave       Stage = "save"
	StageUnexpected Stage = "unexpected"
)

// Error kinds, matched with errors.Is against a *StageError
var (
	ErrAuth       = errors.New("authentication failed")
	ErrNavigation = errors.New("navigation failed")
	ErrRetrieval  = errors.New("retrieval failed")

	// ErrInvalidState is returned when an operation is called out of order
	ErrInvalidState = errors.New("invalid session state")

	// ErrBlocked marks an anti-automation block that recovery could not clear
	ErrBlocked = errors.New("blocked by anti-automation check")

	// ErrUnknownKind is returned by New for a vendor kind with no implementation
	ErrUnknownKind = errors.New("unknown vendor kind")
)

// StageError is a failure of one session stage
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason is the message recorded in a failed run result
func (e *StageError) Reason() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}

func authError(err error) error {
	return &StageError{Stage: StageAuth, Kind: ErrAuth, Err: err}
}

func selectError(err error) error {
	return &StageError{Stage: StageSelect, Kind: ErrNavigation, Err: err}
}

func navigationError(err error) error {
	return &StageError{Stage: StageNavigate, Kind: ErrNavigation, Err: err}
}

func retrievalError(err error) error {
	return &StageError{Stage: StageRetrieve, Kind: ErrRetrieval, Err: err}
}

// StageOf returns the stage recorded in err, or fallback when err carries none
func StageOf(err error, fallback Stage) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return fallback
}
