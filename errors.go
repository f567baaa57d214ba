package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphEmpty reports a search graph with no start state or no
	// arcs; decoding cannot begin on it.
	ErrGraphEmpty = errors.New("decoder: search graph has no start state or no arcs")

	// ErrNoUtterance reports a frame pushed outside
	// BeginUtterance/EndUtterance.
	ErrNoUtterance = errors.New("decoder: no utterance in progress")
)

// CapacityError reports a push that would exceed one of the configured
// ceilings. It is fatal to the utterance; Ceiling names the option that
// was hit.
type CapacityError struct {
	Ceiling string
	Limit   uint32
	Frame   int32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("decoder: %s ceiling (%d) exceeded at frame %d", e.Ceiling, e.Limit, e.Frame)
}
