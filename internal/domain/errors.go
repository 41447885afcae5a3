package domain

import "fmt"

// ValidationError rejects malformed input before any state is changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ConflictError rejects an operation that is not allowed in the resource's
// current state.
type ConflictError struct {
	Resource string
	ID       string
	State    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %s is %s", e.Resource, e.ID, e.State)
}

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StoreError wraps a failure of a backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TranslationError reports text the rule translator could not turn into a
// rule tree.
type TranslationError struct {
	Input string
	Err   error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate %q: %v", e.Input, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
