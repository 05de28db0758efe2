package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/auditoryaid/voicetray/internal/audio"
	"github.com/auditoryaid/voicetray/internal/filter"
)

// State is the capture lifecycle. There is exactly one controller, and so
// exactly one state, per process.
type State int

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// StatusUpdater is an interface for surfacing state changes (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRunning()
	SetError()
}

// Config wires a Controller.
type Config struct {
	Device        audio.Device
	Stage         filter.Stage
	Format        audio.Format
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// Controller owns the Start/Stop lifecycle and runs the capture-filter-play
// loop on its own goroutine. Start and Stop are safe to call from any
// goroutine and never block the caller on audio timing.
type Controller struct {
	dev    audio.Device
	stage  filter.Stage
	format audio.Format
	log    zerolog.Logger
	status StatusUpdater

	mu      sync.Mutex
	state   State
	lastErr error
	sink    *PlaybackSink // current session's sink, nil while Idle
}

// writerDrainTimeout bounds how long a stop waits for the playback writer
// to finish an in-flight device write before giving up on it.
const writerDrainTimeout = 500 * time.Millisecond

func NewController(cfg Config) *Controller {
	return &Controller{
		dev:    cfg.Device,
		stage:  cfg.Stage,
		format: cfg.Format,
		log:    cfg.Logger,
		status: cfg.StatusUpdater,
	}
}

// Start opens the device and launches the capture loop. Calling Start while
// Running or Stopping is a no-op. An open failure leaves the state Idle and
// returns the device error.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return nil
	}

	if err := c.dev.Open(c.format); err != nil {
		c.log.Error().Err(err).Msg("Failed to open audio device")
		c.lastErr = err
		if c.status != nil {
			c.status.SetError()
		}
		return err
	}

	c.log.Info().
		Int("sample_rate", c.format.SampleRate).
		Int("channels", c.format.Channels).
		Int("frame_size", c.format.FrameSize).
		Msg("Capture started")

	c.state = Running
	c.lastErr = nil
	c.sink = NewPlaybackSink(c.dev, c.format, c.log)
	if c.status != nil {
		c.status.SetRunning()
	}

	go c.run(NewFrameSource(c.dev, c.log), c.sink)
	return nil
}

// Stop requests a cooperative shutdown. The loop notices at its next frame
// boundary, so the worst-case latency is one frame duration. Calling Stop
// while Idle or Stopping is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		return
	}
	c.log.Info().Msg("Stopping capture")
	c.state = Stopping

	// Wake the loop even if it is blocked in Play behind a full playback
	// queue; otherwise a stalled output device could pin it there forever.
	c.sink.Close()
}

// State returns the current lifecycle state. Read-only; display purposes.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the last session, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) run(src *FrameSource, sink *PlaybackSink) {
	var loopErr error
	for c.State() == Running {
		frame, err := src.Next()
		if err != nil {
			loopErr = err
			break
		}
		frame, err = c.stage.Apply(frame)
		if err != nil {
			loopErr = err
			break
		}
		if err := sink.Play(frame); err != nil {
			// Stop() closes the sink to break out of Play; that is a
			// clean shutdown, not a device fault.
			if !errors.Is(err, audio.ErrClosed) || c.State() == Running {
				loopErr = err
			}
			break
		}
	}

	// A device fault forces the same Stopping -> Idle path a Stop() takes.
	c.mu.Lock()
	c.state = Stopping
	c.mu.Unlock()

	sink.Close()
	// The output stream must not be released under an in-flight write.
	if !sink.Join(writerDrainTimeout) {
		c.log.Error().Msg("Playback writer stalled in the device, abandoning it")
	}
	c.dev.Close()

	c.mu.Lock()
	c.state = Idle
	c.lastErr = loopErr
	c.sink = nil
	c.mu.Unlock()

	if loopErr != nil {
		c.log.Error().Err(loopErr).Msg("Capture loop terminated")
		if c.status != nil {
			c.status.SetError()
		}
		return
	}
	c.log.Info().Msg("Capture stopped")
	if c.status != nil {
		c.status.SetIdle()
	}
}
