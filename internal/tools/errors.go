package tools

import "errors"

// Tool registry errors.
var (
	// ErrToolNameEmpty is returned when a descriptor has no name.
	ErrToolNameEmpty = errors.New("tool name cannot be empty")

	// ErrToolSymbolEmpty is returned when a descriptor names no helper symbol.
	ErrToolSymbolEmpty = errors.New("tool symbol cannot be empty")

	// ErrToolAlreadyRegistered is returned when registering a duplicate.
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)
