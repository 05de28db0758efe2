package pipeline

import (
	"github.com/rs/zerolog"

	"github.com/auditoryaid/voicetray/internal/audio"
)

// FrameSource turns an open device into a sequence of numbered frames. One
// source per open device; sequence numbers start at 0 and increase by 1 per
// captured frame. Driver overruns are logged, never hidden.
type FrameSource struct {
	dev      audio.Device
	log      zerolog.Logger
	seq      uint64
	overruns uint64
}

func NewFrameSource(dev audio.Device, log zerolog.Logger) *FrameSource {
	return &FrameSource{dev: dev, log: log}
}

// Next blocks until one full frame has been captured.
func (s *FrameSource) Next() (audio.Frame, error) {
	data, err := s.dev.Read()
	if err != nil {
		return audio.Frame{}, err
	}

	if n := s.dev.Overruns(); n > s.overruns {
		s.log.Warn().
			Uint64("dropped", n-s.overruns).
			Uint64("seq", s.seq).
			Msg("Input overrun, frames dropped by the driver")
		s.overruns = n
	}

	f := audio.Frame{Seq: s.seq, Data: data}
	s.seq++
	return f, nil
}
