package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode categorizes user-visible failures.
type ErrorCode string

// Admission errors: the caller is not allowed to perform the operation.
const (
	ErrCodeNotOwner   ErrorCode = "NOT_OWNER"
	ErrCodeNotFactory ErrorCode = "NOT_FACTORY"
	ErrCodeNotAdmin   ErrorCode = "NOT_ADMIN"
	ErrCodeNotSelf    ErrorCode = "NOT_SELF"
)

// Identity errors.
const (
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeInvalidModuleID       ErrorCode = "INVALID_MODULE_ID"
	ErrCodeInvalidAddress        ErrorCode = "INVALID_ADDRESS"
	ErrCodeAlreadyExists         ErrorCode = "ALREADY_EXISTS"
	ErrCodeAlreadyInstalled      ErrorCode = "ALREADY_INSTALLED"
	ErrCodeCannotRemoveProtected ErrorCode = "CANNOT_REMOVE_PROTECTED"
)

// Version errors.
const (
	ErrCodeInvalidVersion         ErrorCode = "INVALID_VERSION"
	ErrCodeOlderVersion           ErrorCode = "OLDER_VERSION"
	ErrCodeRequirementNotMet      ErrorCode = "REQUIREMENT_NOT_MET"
	ErrCodeDependencyNotInstalled ErrorCode = "DEPENDENCY_NOT_INSTALLED"
)

// Graph errors.
const (
	ErrCodeHasDependents            ErrorCode = "HAS_DEPENDENTS"
	ErrCodeDuplicateModuleMigration ErrorCode = "DUPLICATE_MODULE_MIGRATION"
	ErrCodeInconsistentDependency   ErrorCode = "INCONSISTENT_DEPENDENCY"
	ErrCodeEmptyBatch               ErrorCode = "EMPTY_BATCH"
	ErrCodeMixedSelfUpgrade         ErrorCode = "MIXED_SELF_UPGRADE"
)

// Reference-kind errors.
const (
	ErrCodeNotUpgradeable        ErrorCode = "NOT_UPGRADEABLE"
	ErrCodeInvalidReference      ErrorCode = "INVALID_REFERENCE"
	ErrCodeMissingMigratePayload ErrorCode = "MISSING_MIGRATE_PAYLOAD"
	ErrCodeUnknownMessage        ErrorCode = "UNKNOWN_MESSAGE"
)

// Error is a synchronous, user-visible failure. It is always returned before
// any outbound message of the failing call is built.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Module identifies the affected module, when there is one.
	Module ModuleID

	// Details contains additional context (unmet comparator, dependents...).
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Module != "" {
		fmt.Fprintf(&b, " (module=%s)", e.Module)
	}
	return b.String()
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ModuleError creates an Error scoped to a module.
func ModuleError(code ErrorCode, id ModuleID, message string) *Error {
	return &Error{Code: code, Message: message, Module: id}
}

// WithDetail returns e with key=value added to its details.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// NewHasDependentsError lists the modules still depending on id.
func NewHasDependentsError(id ModuleID, dependents []ModuleID) *Error {
	names := make([]string, len(dependents))
	for i, d := range dependents {
		names[i] = string(d)
	}
	sort.Strings(names)
	joined := strings.Join(names, ",")
	return ModuleError(ErrCodeHasDependents, id,
		fmt.Sprintf("module is required by %s", joined)).WithDetail("dependents", joined)
}

// NewRequirementNotMetError names the dependent, the dependency and the
// comparator that rejected version.
func NewRequirementNotMetError(dependent, dependency ModuleID, comparator, version string) *Error {
	return ModuleError(ErrCodeRequirementNotMet, dependency,
		fmt.Sprintf("%s requires %s %s, got %s", dependent, dependency, comparator, version)).
		WithDetail("dependent", string(dependent)).
		WithDetail("comparator", comparator).
		WithDetail("version", version)
}
