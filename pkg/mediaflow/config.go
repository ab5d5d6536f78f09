package mediaflow

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultBufferSize                 = 1024
	defaultDecodeWorkers              = 4
	defaultDemuxRetries               = 5
	defaultDemuxRetry                 = 10 * time.Millisecond
	defaultMaxConsecutiveDecodeErrors = 5
	defaultMaxSyncWait                = 250 * time.Millisecond
	defaultPlaybackRate               = 1.0
	defaultSyncThreshold              = 40 * time.Millisecond
)

// PipelineConfig is immutable for the lifetime of one load. Zero values mean defaults.
type PipelineConfig struct {
	// Max number of items per packet and frame queue
	BufferSize int
	// Size of the decode pool when the pipeline is not given a shared one
	DecodeWorkers int
	// Number of consecutive transient demux errors retried before giving up
	DemuxRetries int
	// Delay between two demux retries
	DemuxRetry time.Duration
	// Number of consecutive decode errors after which a track is disabled
	MaxConsecutiveDecodeErrors int
	// Max duration an output loop waits for an early frame before re-evaluating it
	MaxSyncWait  time.Duration
	PlaybackRate float64
	SeekMode     SeekMode
	// Drift tolerance
	SyncThreshold time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{}.WithDefaults()
}

func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.DecodeWorkers == 0 {
		c.DecodeWorkers = defaultDecodeWorkers
	}
	if c.DemuxRetries == 0 {
		c.DemuxRetries = defaultDemuxRetries
	}
	if c.DemuxRetry == 0 {
		c.DemuxRetry = defaultDemuxRetry
	}
	if c.MaxConsecutiveDecodeErrors == 0 {
		c.MaxConsecutiveDecodeErrors = defaultMaxConsecutiveDecodeErrors
	}
	if c.MaxSyncWait == 0 {
		c.MaxSyncWait = defaultMaxSyncWait
	}
	if c.PlaybackRate == 0 {
		c.PlaybackRate = defaultPlaybackRate
	}
	if c.SyncThreshold == 0 {
		c.SyncThreshold = defaultSyncThreshold
	}
	return c
}

func (c PipelineConfig) Validate() error {
	var errs []error
	if c.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("buffer size %d is negative", c.BufferSize))
	}
	if c.DecodeWorkers < 0 {
		errs = append(errs, fmt.Errorf("decode workers %d is negative", c.DecodeWorkers))
	}
	if c.DemuxRetries < 0 {
		errs = append(errs, fmt.Errorf("demux retries %d is negative", c.DemuxRetries))
	}
	if c.MaxConsecutiveDecodeErrors < 0 {
		errs = append(errs, fmt.Errorf("max consecutive decode errors %d is negative", c.MaxConsecutiveDecodeErrors))
	}
	if c.MaxSyncWait < 0 {
		errs = append(errs, fmt.Errorf("max sync wait %s is negative", c.MaxSyncWait))
	}
	if c.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("playback rate %f is negative", c.PlaybackRate))
	}
	if c.SeekMode != SeekModeKeyframe && c.SeekMode != SeekModeExact {
		errs = append(errs, fmt.Errorf("seek mode %d is invalid", c.SeekMode))
	}
	if c.SyncThreshold < 0 {
		errs = append(errs, fmt.Errorf("sync threshold %s is negative", c.SyncThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("mediaflow: invalid pipeline config: %w", errors.Join(errs...))
	}
	return nil
}
