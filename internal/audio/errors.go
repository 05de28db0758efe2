package audio

import "errors"

// ErrClosed is wrapped by DeviceError when an operation hits a device that
// was closed concurrently.
var ErrClosed = errors.New("device closed")

// DeviceError reports an open/read/write failure on the audio hardware.
// It is fatal to the current capture session only.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return "audio device " + e.Op + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// FormatError reports an AudioFormat the hardware or pipeline cannot honor,
// including frames whose length does not match the session format.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string {
	return "audio format: " + e.Msg
}
