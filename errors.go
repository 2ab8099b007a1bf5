package pvm

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeListenerFailed     = "PVM_LISTENER_FAILED"
	ErrCodeHookMissing        = "PVM_HOOK_MISSING"
	ErrCodeScopeMissing       = "PVM_SCOPE_MISSING"
	ErrCodeDefinitionInvalid  = "PVM_DEFINITION_INVALID"
	ErrCodeExecutionNotFound  = "PVM_EXECUTION_NOT_FOUND"
	ErrCodeVersionConflict    = "PVM_VERSION_CONFLICT"
	ErrCodeInvalidTransition  = "PVM_INVALID_TRANSITION"
	ErrCodeOperationNotFound  = "PVM_OPERATION_NOT_FOUND"
	listenerFailedMessageHead = "couldn't execute event listener: "
)

var (
	ErrListenerFailed = apperrors.New("couldn't execute event listener", apperrors.CategoryHandler).
				WithTextCode(ErrCodeListenerFailed)
	ErrHookMissing = apperrors.New("atomic operation hook missing", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeHookMissing)
	ErrScopeMissing = apperrors.New("execution has no current scope", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeScopeMissing)
	ErrDefinitionInvalid = apperrors.New("process definition invalid", apperrors.CategoryValidation).
				WithTextCode(ErrCodeDefinitionInvalid)
	ErrExecutionNotFound = apperrors.New("execution not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeExecutionNotFound)
	ErrVersionConflict = apperrors.New("version conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeVersionConflict)
	ErrInvalidTransition = apperrors.New("invalid transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidTransition)
	ErrOperationNotFound = apperrors.New("operation not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeOperationNotFound)
)

// CloneError copies base and fills in message, source and metadata.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrInvalidTransition
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// IsRuntimeError reports whether err is already an engine-level error that
// must travel to the caller untouched. That covers go-errors values and any
// error carrying the runtime.Error marker method.
func IsRuntimeError(err error) bool {
	if err == nil {
		return false
	}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return true
	}
	var marker interface{ RuntimeError() }
	return stderrors.As(err, &marker)
}

// WrapListenerError applies the listener failure policy: runtime-level errors
// pass through unchanged, everything else is wrapped into ErrListenerFailed
// keeping the original message and cause.
func WrapListenerError(err error, metadata map[string]any) error {
	if err == nil {
		return nil
	}
	if IsRuntimeError(err) {
		return err
	}
	return CloneError(ErrListenerFailed, listenerFailedMessageHead+err.Error(), err, metadata)
}

// ErrorCode returns the go-errors text code carried by err, if any.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasErrorCode reports whether err carries the given text code.
func HasErrorCode(err error, code string) bool {
	return code != "" && ErrorCode(err) == code
}
