package mediaflow

const (
	DeltaStatNameDecodeErrors     = "mediaflow.decode.errors"
	DeltaStatNameDecodedRate      = "mediaflow.decoded.rate"
	DeltaStatNameDisplayedRate    = "mediaflow.displayed.rate"
	DeltaStatNameDroppedRate      = "mediaflow.dropped.rate"
	DeltaStatNameFrameQueueFill   = "mediaflow.frame_queue.fill"
	DeltaStatNameHostUsage        = "mediaflow.host.usage"
	DeltaStatNameIncomingByteRate = "mediaflow.incoming.byte_rate"
	DeltaStatNameIncomingRate     = "mediaflow.incoming.rate"
	DeltaStatNamePacketQueueFill  = "mediaflow.packet_queue.fill"
	DeltaStatNameQueueFill        = "mediaflow.queue.fill"
	DeltaStatNameSamplesRate      = "mediaflow.samples.rate"
	DeltaStatNameTrimmedFrames    = "mediaflow.trimmed.frames"
	DeltaStatNameWaitRate         = "mediaflow.wait.rate"
)

type DeltaStatHostUsageValue struct {
	CPU     DeltaStatHostCPUUsageValue     `json:"cpu"`
	Memory  DeltaStatHostMemoryUsageValue  `json:"memory"`
	Process DeltaStatHostProcessUsageValue `json:"process"`
}

type DeltaStatHostCPUUsageValue struct {
	Individual []float64 `json:"individual"`
	Process    *float64  `json:"process,omitempty"`
	Total      float64   `json:"total"`
}

type DeltaStatHostMemoryUsageValue struct {
	Resident uint64 `json:"resident"`
	Total    uint64 `json:"total"`
	Used     uint64 `json:"used"`
	Virtual  uint64 `json:"virtual"`
}

type DeltaStatHostProcessUsageValue struct {
	Goroutines int `json:"goroutines"`
	Threads    int `json:"threads"`
}
