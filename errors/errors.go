// Package errors provides structured error types for the registry, lifecycle
// and sync packages.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error so callers can decide whether to retry,
// fix their input, or escalate.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeDuplicateID            Code = "DUPLICATE_ID"
	CodeNotFound               Code = "NOT_FOUND"
	CodeVersionNotFound        Code = "VERSION_NOT_FOUND"
	CodeSnapshotNotFound       Code = "SNAPSHOT_NOT_FOUND"
	CodeNoComponentsFound      Code = "NO_COMPONENTS_FOUND"
	CodeHasDependents          Code = "HAS_DEPENDENTS"
	CodeIllegalTransition      Code = "ILLEGAL_TRANSITION"
	CodeDependencyNotSatisfied Code = "DEPENDENCY_NOT_SATISFIED"
	CodeSyncConflict           Code = "SYNC_CONFLICT"
	CodePhaseFailure           Code = "PHASE_FAILURE"
	CodeStorageFailure         Code = "STORAGE_FAILURE"
	CodeTransportFailure       Code = "TRANSPORT_FAILURE"
	CodeTimeout                Code = "TIMEOUT"
)

// Operation identifies the operation during which an error occurred.
type Operation string

const (
	OpRegister        Operation = "register"
	OpUnregister      Operation = "unregister"
	OpUpdate          Operation = "update"
	OpRollback        Operation = "rollback"
	OpGetState        Operation = "get_state"
	OpList            Operation = "list"
	OpSnapshot        Operation = "snapshot"
	OpRestore         Operation = "restore"
	OpExport          Operation = "export"
	OpTransition      Operation = "transition"
	OpInitialize      Operation = "initialize"
	OpLoad            Operation = "load"
	OpActivate        Operation = "activate"
	OpDeactivate      Operation = "deactivate"
	OpUnload          Operation = "unload"
	OpSync            Operation = "sync"
	OpConflictResolve Operation = "conflict_resolve"
	OpBroadcast       Operation = "broadcast"
	OpStore           Operation = "store"
	OpClose           Operation = "close"
)

// RegistryError is the structured error type shared by all packages in this
// module. It carries the operation, the component id involved (when known),
// a classification code and the underlying cause.
type RegistryError struct {
	// Operation during which the error occurred
	Op Operation

	// Component id the error relates to, if any
	ComponentID string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Code for the error type
	Code Code

	// Metadata for additional context (dependents list, conflicting
	// fields, target version, and similar actionable detail)
	Metadata map[string]interface{}
}

func (e *RegistryError) Error() string {
	var msg string
	if e.ComponentID != "" {
		msg = fmt.Sprintf("%s operation failed for component %q", e.Op, e.ComponentID)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// New creates a new RegistryError.
func New(op Operation, err error) *RegistryError {
	return &RegistryError{Op: op, Err: err}
}

// NewWithComponent creates a new RegistryError bound to a component id.
func NewWithComponent(op Operation, componentID string, err error) *RegistryError {
	return &RegistryError{Op: op, ComponentID: componentID, Err: err}
}

// NewValidation creates a validation error. Never retryable; the caller must
// fix the input.
func NewValidation(op Operation, err error) *RegistryError {
	return &RegistryError{Code: CodeValidation, Op: op, Err: err}
}

// NewNotFound creates a not-found error for a component id.
func NewNotFound(op Operation, componentID string) *RegistryError {
	return &RegistryError{
		Code:        CodeNotFound,
		Op:          op,
		ComponentID: componentID,
		Err:         fmt.Errorf("component %q not found", componentID),
	}
}

// NewDuplicateID creates a duplicate-id error for register.
func NewDuplicateID(componentID string) *RegistryError {
	return &RegistryError{
		Code:        CodeDuplicateID,
		Op:          OpRegister,
		ComponentID: componentID,
		Err:         fmt.Errorf("component %q is already registered", componentID),
	}
}

// NewHasDependents creates the error returned when unregistering a component
// that other registered components still depend on. The dependents list is
// retained in Metadata.
func NewHasDependents(componentID string, dependents []string) *RegistryError {
	return &RegistryError{
		Code:        CodeHasDependents,
		Op:          OpUnregister,
		ComponentID: componentID,
		Err:         fmt.Errorf("component %q has dependents: %s", componentID, strings.Join(dependents, ", ")),
		Metadata:    map[string]interface{}{"dependents": dependents},
	}
}

// NewIllegalTransition creates the error returned when a lifecycle transition
// is not present in the transition table.
func NewIllegalTransition(componentID, from, to string) *RegistryError {
	return &RegistryError{
		Code:        CodeIllegalTransition,
		Op:          OpTransition,
		ComponentID: componentID,
		Err:         fmt.Errorf("illegal transition from %q to %q", from, to),
		Metadata:    map[string]interface{}{"from": from, "to": to},
	}
}

// NewDependencyNotSatisfied creates the error returned when a dependency is
// missing or not in an initializable state.
func NewDependencyNotSatisfied(componentID, depID, depState string) *RegistryError {
	return &RegistryError{
		Code:        CodeDependencyNotSatisfied,
		Op:          OpInitialize,
		ComponentID: componentID,
		Err:         fmt.Errorf("dependency %q not satisfied (state %q)", depID, depState),
		Metadata:    map[string]interface{}{"dependency": depID, "dependency_state": depState},
	}
}

// NewStorage creates a storage-related error. Retryable.
func NewStorage(op Operation, cause error) *RegistryError {
	return &RegistryError{Code: CodeStorageFailure, Op: op, Err: cause, Retryable: true}
}

// NewTransport creates a transport-related error. Retryable.
func NewTransport(op Operation, cause error) *RegistryError {
	return &RegistryError{Code: CodeTransportFailure, Op: op, Err: cause, Retryable: true}
}

// NewConflict creates a sync-conflict error. Not retryable as-is; the conflict
// must be resolved per policy first.
func NewConflict(componentID string, cause error) *RegistryError {
	return &RegistryError{
		Code:        CodeSyncConflict,
		Op:          OpConflictResolve,
		ComponentID: componentID,
		Err:         cause,
	}
}

// NewRetryable creates a retryable error without a specific code.
func NewRetryable(op Operation, err error) *RegistryError {
	return &RegistryError{Op: op, Err: err, Retryable: true}
}

// IsRetryable reports whether err is a retryable RegistryError.
func IsRetryable(err error) bool {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// CodeOf extracts the Code from err, or "" when err is not a RegistryError.
func CodeOf(err error) Code {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// HasCode reports whether err is a RegistryError carrying code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
