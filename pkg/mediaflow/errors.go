package mediaflow

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrEndOfQueue        = errors.New("mediaflow: end of queue")
	ErrEndOfStream       = errors.New("mediaflow: end of stream")
	ErrInvalidTransition = errors.New("mediaflow: invalid transition")
	ErrQueueFull         = errors.New("mediaflow: queue is full")
	ErrResourceExhausted = errors.New("mediaflow: resource exhausted")
	ErrSessionNotFound   = errors.New("mediaflow: session not found")
	ErrTransient         = errors.New("mediaflow: transient error")
	ErrUnrecoverable     = errors.New("mediaflow: unrecoverable error")
	ErrUnsupported       = errors.New("mediaflow: unsupported")
)

type ErrorKind int

const (
	// Skipped or retried locally, playback goes on
	ErrorKindTransient ErrorKind = iota
	// The track is disabled, playback goes on with the remaining tracks
	ErrorKindTrackDegrading
	// The pipeline switches to errored
	ErrorKindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindTrackDegrading:
		return "track_degrading"
	default:
		return "fatal"
	}
}

// Error is a collaborator error once it has been classified by a coordinator
type Error struct {
	Err   error
	Kind  ErrorKind
	Op    string
	Track *TrackID
}

func (e *Error) Error() string {
	if e.Track != nil {
		return fmt.Sprintf("mediaflow: %s %s failed on track %d: %s", e.Kind, e.Op, *e.Track, e.Err)
	}
	return fmt.Sprintf("mediaflow: %s %s failed: %s", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(k ErrorKind, op string, track *TrackID, err error) *Error {
	return &Error{
		Err:   err,
		Kind:  k,
		Op:    op,
		Track: track,
	}
}

// ClassifyDemuxError classifies an error returned by a demuxer or a source reader. Network
// timeouts and errors wrapping ErrTransient are transient, everything else is fatal.
func ClassifyDemuxError(op string, err error) *Error {
	// Already classified
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	// Transient
	var ne net.Error
	if errors.Is(err, ErrTransient) || (errors.As(err, &ne) && ne.Timeout()) {
		return newError(ErrorKindTransient, op, nil, err)
	}
	return newError(ErrorKindFatal, op, nil, err)
}

// ClassifyDecodeError classifies an error returned by a decoder. A decoder can't take the whole
// pipeline down: unrecoverable and unsupported errors degrade the track, everything else is transient.
func ClassifyDecodeError(track TrackID, op string, err error) *Error {
	// Already classified
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == ErrorKindFatal {
			return newError(ErrorKindTrackDegrading, op, &track, e.Err)
		}
		if e.Track == nil || *e.Track != track {
			return newError(e.Kind, e.Op, &track, e.Err)
		}
		return e
	}

	// Track degrading
	if errors.Is(err, ErrUnrecoverable) || errors.Is(err, ErrUnsupported) {
		return newError(ErrorKindTrackDegrading, op, &track, err)
	}
	return newError(ErrorKindTransient, op, &track, err)
}

type TransitionError struct {
	From State
	Op   string
	To   State
}

func (e *TransitionError) Error() string {
	if e.To == e.From {
		return fmt.Sprintf("mediaflow: %s is not allowed in state %s", e.Op, e.From)
	}
	return fmt.Sprintf("mediaflow: %s is not allowed in state %s (transition to %s)", e.Op, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
