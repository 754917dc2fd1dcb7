package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells callers whether a failed pass is worth running again.
type ErrorClass string

const (
	// ErrorClassTransient covers failures such as a remote fetch timing out
	// or the model lock not becoming free in time.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict is returned when another pass holds the model lock.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent covers malformed operation lists, missing
	// extensions and rejected operations.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes carried by EngineError.Code.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeInvalidTreeState = "INVALID_TREE_STATE"
	ErrCodeMissingExtension = "MISSING_EXTENSION"
	ErrCodeUnresolved       = "UNRESOLVED_REGISTRATION"
	ErrCodeOperationFailed  = "OPERATION_FAILED"
	ErrCodeNoSuchResource   = "NO_SUCH_RESOURCE_TYPE"
	ErrCodeNoHandler        = "NO_HANDLER"
	ErrCodePassInProgress   = "PASS_IN_PROGRESS"
)

// EngineError is a classified failure of a pass or of one of its steps.
// nolint:revive // the name distinguishes it from plain errors at call sites
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`

	// Err is the cause, if any.
	Err error `json:"-"`
}

func newEngineError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

// NewTransientError creates an error worth retrying.
func NewTransientError(message string, err error) *EngineError {
	return newEngineError(ErrorClassTransient, message, err)
}

// NewConflictError creates an error for a pass that lost the race for the
// model lock.
func NewConflictError(message string, err error) *EngineError {
	return newEngineError(ErrorClassConflict, message, err)
}

// NewPermanentError creates an error that retrying will not fix.
func NewPermanentError(message string, err error) *EngineError {
	return newEngineError(ErrorClassPermanent, message, err)
}

// NewInvalidTreeStateError reports an operation whose address cannot be
// placed in the tree being built.
func NewInvalidTreeStateError(address string, message string) *EngineError {
	return NewPermanentError(message, nil).
		WithCode(ErrCodeInvalidTreeState).
		WithResource(address)
}

// NewMissingExtensionError reports extensions declared by the remote model
// that could not be loaded locally.
func NewMissingExtensionError(modules []string, err error) *EngineError {
	return NewPermanentError(fmt.Sprintf("missing extensions %v", modules), err).
		WithCode(ErrCodeMissingExtension).
		WithDetail("modules", modules)
}

// NewOperationFailedError wraps the failure description of the first
// operation that could not be applied.
func NewOperationFailedError(op string, description string) *EngineError {
	return NewPermanentError("operation failed", errors.New(description)).
		WithCode(ErrCodeOperationFailed).
		WithOperation(op)
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var where []string
	if e.Resource != "" {
		where = append(where, "resource="+e.Resource)
	}
	if e.Operation != "" {
		where = append(where, "operation="+e.Operation)
	}
	if len(where) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(where, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another *EngineError with the same class and code, so
// sentinel values like &EngineError{Class: ..., Code: ...} work with
// errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func (e *EngineError) WithResource(address string) *EngineError {
	e.Resource = address
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first EngineError in err's chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func IsTransient(err error) bool { return classOf(err) == ErrorClassTransient }
func IsConflict(err error) bool  { return classOf(err) == ErrorClassConflict }
func IsPermanent(err error) bool { return classOf(err) == ErrorClassPermanent }

func IsInvalidTreeState(err error) bool { return CodeOf(err) == ErrCodeInvalidTreeState }
func IsMissingExtension(err error) bool { return CodeOf(err) == ErrCodeMissingExtension }
func IsOperationFailed(err error) bool  { return CodeOf(err) == ErrCodeOperationFailed }
