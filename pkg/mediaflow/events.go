package mediaflow

import (
	"time"

	"github.com/asticode/go-astikit"
)

const (
	EventNameBufferingProgress astikit.EventName = "mediaflow.buffering.progress"
	EventNameError             astikit.EventName = "mediaflow.error"
	EventNameFrameDropped      astikit.EventName = "mediaflow.frame.dropped"
	EventNameFrameReady        astikit.EventName = "mediaflow.frame.ready"
	EventNamePipelineClosed    astikit.EventName = "mediaflow.pipeline.closed"
	EventNamePipelineDone      astikit.EventName = "mediaflow.pipeline.done"
	EventNamePipelineRunning   astikit.EventName = "mediaflow.pipeline.running"
	EventNamePipelineStarting  astikit.EventName = "mediaflow.pipeline.starting"
	EventNamePipelineStopping  astikit.EventName = "mediaflow.pipeline.stopping"
	EventNameSamplesReady      astikit.EventName = "mediaflow.samples.ready"
	EventNameStateChanged      astikit.EventName = "mediaflow.state.changed"
	EventNameWorkerClosed      astikit.EventName = "mediaflow.worker.closed"
	EventNameWorkerCreated     astikit.EventName = "mediaflow.worker.created"
	EventNameWorkerDone        astikit.EventName = "mediaflow.worker.done"
	EventNameWorkerRunning     astikit.EventName = "mediaflow.worker.running"
	EventNameWorkerStarting    astikit.EventName = "mediaflow.worker.starting"
	EventNameWorkerStopping    astikit.EventName = "mediaflow.worker.stopping"
)

const (
	eventNameTaskClosed   astikit.EventName = "mediaflow.task.closed"
	eventNameTaskDone     astikit.EventName = "mediaflow.task.done"
	eventNameTaskRunning  astikit.EventName = "mediaflow.task.running"
	eventNameTaskStarting astikit.EventName = "mediaflow.task.starting"
	eventNameTaskStopping astikit.EventName = "mediaflow.task.stopping"
)

// Event is what is sent to the pipeline's events channel
type Event struct {
	Name    astikit.EventName
	Payload interface{}
}

type EventBufferingProgress struct {
	// Between 0 and 1
	Fraction float64
}

type EventFrameDropped struct {
	Drift time.Duration
	Frame *VideoFrame
	Track TrackID
}

type EventFrameReady struct {
	Frame *VideoFrame
	Track TrackID
}

type EventSamplesReady struct {
	Block *AudioBlock
	Track TrackID
}

type EventStateChanged struct {
	// Only set when To is StateErrored
	Err  error
	From State
	To   State
}
