// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the referenced policy, agent, action, or record
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidState indicates an operation was attempted from a lifecycle
// state that does not allow it.
var ErrInvalidState = errors.New("invalid state for operation")

// ErrValidation indicates a document or configuration violates schema
// or hard business rules.
var ErrValidation = errors.New("validation failed")

// ErrConflict indicates a hard conflict between policies, or an
// operation blocked by dependent records (e.g. deleting a policy with
// active agents).
var ErrConflict = errors.New("conflict")

// ErrPolicyNotActive indicates the bound policy exists but is inactive.
var ErrPolicyNotActive = errors.New("policy is not active")

// ErrAgentNotPaused indicates a resume was attempted on an agent that
// is not paused.
var ErrAgentNotPaused = errors.New("agent is not paused")
