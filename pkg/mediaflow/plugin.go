package mediaflow

import (
	"context"

	"github.com/asticode/go-astikit"
)

// Plugin extends a pipeline without taking part in playback: monitoring, recording, log
// interception. Init is called when the pipeline is created and everything added to c is
// closed with the pipeline. Start is called once the control loop is about to run and tasks
// created with tc are waited for before the pipeline is done.
type Plugin interface {
	Init(ctx context.Context, c *astikit.Closer, p *Pipeline) error
	Metadata() Metadata
	Start(ctx context.Context, tc astikit.TaskCreator)
}
