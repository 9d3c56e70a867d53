package engine

import (
	"errors"
	"fmt"
)

var (
	ErrMediaNotFound     = errors.New("media not found")
	ErrTransitionTooLong = errors.New("transition longer than the shortest clip")
	ErrUnknownTransition = errors.New("unknown transition")
)

// AssemblyError reports which segment failed to assemble.
type AssemblyError struct {
	Index int
	Err   error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
