package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/auditoryaid/voicetray/internal/audio"
)

// playbackDepth bounds how many frames may pile up between the capture loop
// and the output device before Play applies backpressure.
const playbackDepth = 8

// PlaybackSink queues frames for output without gating the capture cadence
// on playback speed. A single writer goroutine drains the queue to the
// device, so frames play in exactly the order they were submitted.
type PlaybackSink struct {
	dev    audio.Device
	format audio.Format
	log    zerolog.Logger
	frames chan audio.Frame
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	failure error

	closeOnce sync.Once
}

func NewPlaybackSink(dev audio.Device, format audio.Format, log zerolog.Logger) *PlaybackSink {
	s := &PlaybackSink{
		dev:    dev,
		format: format,
		log:    log,
		frames: make(chan audio.Frame, playbackDepth),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Play enqueues a frame and returns without waiting for it to be heard.
// It blocks only when the queue is full, and unblocks the moment the sink
// is closed. A write failure on an earlier frame is reported here on the
// next call; any Play after Close fails with a DeviceError.
func (s *PlaybackSink) Play(f audio.Frame) error {
	if want, got := s.format.FrameBytes(), len(f.Data); got != want {
		return &audio.FormatError{Msg: fmt.Sprintf("frame %d is %d bytes, session format needs %d", f.Seq, got, want)}
	}

	s.mu.Lock()
	if s.failure != nil {
		err := s.failure
		s.mu.Unlock()
		return err
	}
	if s.closed {
		s.mu.Unlock()
		return &audio.DeviceError{Op: "play", Err: audio.ErrClosed}
	}
	s.mu.Unlock()

	select {
	case s.frames <- f:
		return nil
	case <-s.done:
		return &audio.DeviceError{Op: "play", Err: audio.ErrClosed}
	}
}

func (s *PlaybackSink) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			// Once closed, start no new writes; Join only has to wait
			// out the one already inside the device.
			select {
			case <-s.done:
				return
			default:
			}
			if err := s.dev.Write(f.Data); err != nil {
				s.log.Error().Err(err).Uint64("seq", f.Seq).Msg("Playback write failed")
				s.fail(err)
				return
			}
		}
	}
}

// Close stops accepting frames and wakes any blocked Play. It does not wait
// for the writer; devices must not be released until Join returns. Queued
// frames are dropped; this is live audio, not a file sink.
func (s *PlaybackSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// Join waits for the writer goroutine, including any write already handed
// to the device, to finish. Returns false if the writer is still stuck in
// the device after the timeout.
func (s *PlaybackSink) Join(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *PlaybackSink) fail(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()
	s.Close()
}
