package script

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidScriptID indicates that a script identifier is empty or exceeds storage bounds.
	ErrInvalidScriptID = errors.New("script: invalid script id")
	// ErrInvalidElementID indicates that an element identifier is empty or exceeds storage bounds.
	ErrInvalidElementID = errors.New("script: invalid element id")
	// ErrInvalidOperationID indicates that an operation identifier is empty or exceeds storage bounds.
	ErrInvalidOperationID = errors.New("script: invalid operation id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("script: invalid user id")
)

// ScriptID represents a validated script identifier.
type ScriptID string

// NewScriptID validates raw input and returns a ScriptID.
func NewScriptID(rawInput string) (ScriptID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidScriptID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidScriptID, maxIdentifierLength)
	}
	return ScriptID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ScriptID) String() string {
	return string(id)
}

// ElementID represents a validated script element identifier.
type ElementID string

// NewElementID validates raw input and returns an ElementID.
func NewElementID(rawInput string) (ElementID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidElementID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidElementID, maxIdentifierLength)
	}
	return ElementID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ElementID) String() string {
	return string(id)
}

// OperationID represents a validated edit operation identifier.
type OperationID string

// NewOperationID validates raw input and returns an OperationID.
func NewOperationID(rawInput string) (OperationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOperationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOperationID, maxIdentifierLength)
	}
	return OperationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OperationID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}
