package mediaflow

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassifyDemuxError(t *testing.T) {
	e := ClassifyDemuxError("read", ErrTransient)
	require.Equal(t, ErrorKindTransient, e.Kind)
	require.ErrorIs(t, e, ErrTransient)
	require.Nil(t, e.Track)

	e = ClassifyDemuxError("read", timeoutError{})
	require.Equal(t, ErrorKindTransient, e.Kind)

	e = ClassifyDemuxError("open", errors.New("invalid data"))
	require.Equal(t, ErrorKindFatal, e.Kind)
	require.Equal(t, "mediaflow: fatal open failed: invalid data", e.Error())

	e2 := ClassifyDemuxError("read", e)
	require.Same(t, e, e2)
}

func TestClassifyDecodeError(t *testing.T) {
	e := ClassifyDecodeError(2, "decode", errors.New("invalid data"))
	require.Equal(t, ErrorKindTransient, e.Kind)
	require.Equal(t, TrackID(2), *e.Track)
	require.Equal(t, "mediaflow: transient decode failed on track 2: invalid data", e.Error())

	e = ClassifyDecodeError(2, "decode", ErrUnrecoverable)
	require.Equal(t, ErrorKindTrackDegrading, e.Kind)
	e = ClassifyDecodeError(2, "decode", ErrUnsupported)
	require.Equal(t, ErrorKindTrackDegrading, e.Kind)

	e = ClassifyDecodeError(2, "decode", newError(ErrorKindFatal, "decode", nil, ErrTransient))
	require.Equal(t, ErrorKindTrackDegrading, e.Kind)
	require.ErrorIs(t, e, ErrTransient)

	e1 := newError(ErrorKindTrackDegrading, "decode", nil, ErrUnsupported)
	e = ClassifyDecodeError(2, "decode", e1)
	require.Equal(t, ErrorKindTrackDegrading, e.Kind)
	require.Equal(t, TrackID(2), *e.Track)
	require.Nil(t, e1.Track)

	track := TrackID(3)
	e1 = newError(ErrorKindTransient, "decode", &track, ErrTransient)
	e = ClassifyDecodeError(2, "decode", e1)
	require.Equal(t, TrackID(2), *e.Track)
	require.Equal(t, TrackID(3), *e1.Track)
	track = 2
	require.Same(t, e1, ClassifyDecodeError(2, "decode", e1))
}

func TestTransitionError(t *testing.T) {
	err := error(&TransitionError{From: StateIdle, Op: "seek", To: StateSeeking})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, "mediaflow: seek is not allowed in state idle (transition to seeking)", err.Error())
	err = &TransitionError{From: StateIdle, Op: "pause", To: StateIdle}
	require.Equal(t, "mediaflow: pause is not allowed in state idle", err.Error())
}
