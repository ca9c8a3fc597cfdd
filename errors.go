package mediagraph

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMissingCapability is returned when no element factory is registered
	// for a capability name.
	ErrMissingCapability = errors.New("missing capability")

	// ErrLinkFailure is returned when two nodes cannot be linked.
	ErrLinkFailure = errors.New("link failure")

	// ErrInvalidURI is returned when a source URI cannot be used.
	ErrInvalidURI = errors.New("invalid source uri")

	// ErrIndeterminate is returned by Classify when a stream carries no
	// negotiated type information.
	ErrIndeterminate = errors.New("stream type not negotiated")

	// ErrDuplicateNode is returned when a node name is already taken or a
	// singleton node kind is already present.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNodeNotInGraph is returned when linking a node that was never added.
	ErrNodeNotInGraph = errors.New("node not in graph")

	// ErrGraphDestroyed is returned by operations on a destroyed graph.
	ErrGraphDestroyed = errors.New("graph destroyed")

	// ErrPadLinked is returned when linking an already linked pad.
	ErrPadLinked = errors.New("pad already linked")

	// ErrNotLinked is returned by Pad.Push when the pad has no peer.
	ErrNotLinked = errors.New("pad not linked")

	// ErrFlushing is returned by sinks that are not accepting data.
	ErrFlushing = errors.New("element flushing")

	// ErrBusClosed is returned by Bus.Next once the bus is closed and drained.
	ErrBusClosed = errors.New("bus closed")

	// ErrNoDecoder is returned when no decoder is registered for a codec.
	ErrNoDecoder = errors.New("no decoder for codec")

	// ErrSlotNotReserved is returned when filling a registry slot that was
	// not reserved first.
	ErrSlotNotReserved = errors.New("sink slot not reserved")
)

// ConstructionReason classifies a ConstructionError.
type ConstructionReason int

const (
	ReasonMissingCapability ConstructionReason = iota // Element factory not available
	ReasonLinkFailure                                 // Source -> decoder link failed
	ReasonInvalidURI                                  // URI rejected by the source
	ReasonStateChange                                 // Graph refused to start
)

func (r ConstructionReason) String() string {
	switch r {
	case ReasonMissingCapability:
		return "missing capability"
	case ReasonLinkFailure:
		return "link failure"
	case ReasonInvalidURI:
		return "invalid uri"
	case ReasonStateChange:
		return "state change failure"
	default:
		return "unknown"
	}
}

// ConstructionError is returned by NewController. A controller is never
// returned together with a ConstructionError.
type ConstructionError struct {
	Reason     ConstructionReason
	Capability string // Offending capability, if any
	Err        error
}

func (e *ConstructionError) Error() string {
	switch e.Reason {
	case ReasonMissingCapability:
		return fmt.Sprintf("missing element %s", e.Capability)
	case ReasonLinkFailure:
		if e.Err != nil {
			return fmt.Sprintf("failed to link source to decoder: %v", e.Err)
		}
		return "failed to link source to decoder"
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Reason, e.Err)
		}
		return e.Reason.String()
	}
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel that corresponds to the reason.
func (e *ConstructionError) Is(target error) bool {
	switch target {
	case ErrMissingCapability:
		return e.Reason == ReasonMissingCapability
	case ErrLinkFailure:
		return e.Reason == ReasonLinkFailure
	case ErrInvalidURI:
		return e.Reason == ReasonInvalidURI
	}
	return false
}

// AttachmentError describes a stream whose sink could not be attached.
// It is recoverable: only the slot for Kind stays empty.
type AttachmentError struct {
	Kind  MediaKind
	Pad   string
	Stage string // create, add, link, sync
	Err   error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("failed to insert %s sink for pad %s (%s): %v", e.Kind, e.Pad, e.Stage, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}
