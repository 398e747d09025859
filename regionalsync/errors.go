package regionalsync

import (
	"errors"
	"fmt"
)

var (
	ErrCycleInProgress = errors.New("regional sync cycle already in progress")
	ErrEmptyPayload    = errors.New("external source returned no valid regionals")
	ErrPartialCycle    = errors.New("regional sync cycle finished with errors")
	ErrSyncDisabled    = errors.New("regional sync is disabled")
)

type FetchErrorKind string

const (
	FetchErrorTransport FetchErrorKind = "transport"
	FetchErrorStatus    FetchErrorKind = "status"
	FetchErrorDecode    FetchErrorKind = "decode"
)

// FetchError reports why the external list could not be obtained.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorStatus {
		return fmt.Sprintf("fetch regionals: unexpected status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch regionals (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersistenceError is a store failure for a single regional name.
type PersistenceError struct {
	Name string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("regional %q: %s: %v", e.Name, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

const (
	opFindActive    = "find_active"
	opFindAllByName = "find_all_by_name"
	opDeactivate    = "deactivate"
	opCreate        = "create"
)
