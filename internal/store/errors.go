package store

import "errors"

// Sentinel errors shared by every store implementation and the layers
// above them (runner, scheduler, HTTP). Callers use errors.Is against
// these, never string matching.
var (
	ErrAgentNotFound  = errors.New("store: agent not found")
	ErrThreadNotFound = errors.New("store: thread not found")
	ErrTriggerNotFound = errors.New("store: trigger not found")
	ErrTaskNotFound   = errors.New("store: task not found")

	ErrStoreCorruption = errors.New("store: corrupted record")

	ErrProtectedAgent = errors.New("store: agent id is protected and cannot be deleted or have its trust fields mutated by an agent")

	ErrValidation = errors.New("store: validation failed")
)
