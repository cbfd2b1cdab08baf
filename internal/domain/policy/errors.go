// Package policy provides domain types for the sub-policy PPO agent.
package policy

import "errors"

var (
	// ErrInvalidActionSpace indicates a degenerate action space.
	ErrInvalidActionSpace = errors.New("invalid action space")

	// ErrInvalidConfig indicates malformed engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrShapeMismatch indicates mismatched parameter shapes between a
	// current and old policy pair or between a checkpoint and the engine.
	ErrShapeMismatch = errors.New("parameter shape mismatch")

	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNoCheckpoint indicates that no checkpoint exists yet.
	ErrNoCheckpoint = errors.New("no checkpoint found")

	// ErrCheckpointCorrupt indicates a checkpoint that exists but cannot
	// be parsed or restored.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrEngineClosed indicates an operation on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
)
