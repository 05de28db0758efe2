package audio

import (
	"fmt"
	"time"
)

// Format fixes the sample contract for one capture session. Changing any
// field requires closing the device and opening a new session.
type Format struct {
	SampleRate    int // samples per second, per channel
	Channels      int // interleaved channel count
	BitsPerSample int // signed PCM sample width
	FrameSize     int // samples per frame, per channel
}

// DefaultFormat returns the capture defaults: 16 kHz stereo signed 16-bit,
// 1024 samples per frame (64 ms).
func DefaultFormat() Format {
	return Format{
		SampleRate:    16000,
		Channels:      2,
		BitsPerSample: 16,
		FrameSize:     1024,
	}
}

// FrameBytes returns the size of one frame on the wire.
func (f Format) FrameBytes() int {
	return f.FrameSize * f.Channels * f.BitsPerSample / 8
}

// FrameDuration returns the real-time length of one frame.
func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

// Validate rejects formats the PCM pipeline cannot carry.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return &FormatError{Msg: fmt.Sprintf("invalid sample rate %d", f.SampleRate)}
	}
	if f.Channels <= 0 {
		return &FormatError{Msg: fmt.Sprintf("invalid channel count %d", f.Channels)}
	}
	if f.BitsPerSample != 16 {
		return &FormatError{Msg: fmt.Sprintf("unsupported bit depth %d, only 16-bit signed PCM is supported", f.BitsPerSample)}
	}
	if f.FrameSize <= 0 {
		return &FormatError{Msg: fmt.Sprintf("invalid frame size %d", f.FrameSize)}
	}
	return nil
}

// Frame is one fixed-size chunk of interleaved PCM moving through the
// pipeline. Data is owned by exactly one stage at a time and must not be
// mutated after handoff. Seq is assigned by the frame source, starting at 0
// and increasing by 1 per captured frame.
type Frame struct {
	Seq  uint64
	Data []byte
}

// Device defines the interface for a duplex audio device
type Device interface {
	// Open claims the input and output hardware for the given format.
	// Fails with a DeviceError if no device is available or the format
	// is unsupported.
	Open(f Format) error
	// Read blocks until one full frame of input is captured. Fails with
	// a DeviceError if the device was closed concurrently.
	Read() ([]byte, error)
	// Write queues one frame for output.
	Write(data []byte) error
	// Overruns reports how many input overflows the driver has seen since
	// Open. Callers compare successive values to detect dropped frames.
	Overruns() uint64
	// Close releases the session's streams. Idempotent.
	Close() error
	// SetEndpoints rebinds the input/output endpoints used by the next
	// Open. Fails while a session is open.
	SetEndpoints(input, output string) error
	// ListDevices enumerates capture endpoints when input is true,
	// playback endpoints otherwise.
	ListDevices(input bool) ([]DeviceInfo, error)
	// Terminate releases the audio host itself. The device cannot be
	// reopened afterwards.
	Terminate() error
}

// DeviceInfo describes an audio endpoint for menu display
type DeviceInfo struct {
	ID      string
	Name    string
	Default bool
}
