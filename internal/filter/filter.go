package filter

import (
	"fmt"

	"github.com/auditoryaid/voicetray/internal/audio"
)

// Stage transforms one captured frame before playback. Implementations must
// return a frame of the same length and format and must finish well inside
// one frame's real-time duration, or capture falls behind.
type Stage interface {
	Apply(f audio.Frame) (audio.Frame, error)
}

// Identity is the pass-through stage used when no transform is configured.
type Identity struct {
	format audio.Format
}

// NewIdentity creates a pass-through stage for the given session format.
func NewIdentity(format audio.Format) *Identity {
	return &Identity{format: format}
}

func (i *Identity) Apply(f audio.Frame) (audio.Frame, error) {
	if err := checkFrame(i.format, f); err != nil {
		return audio.Frame{}, err
	}
	return f, nil
}

func checkFrame(format audio.Format, f audio.Frame) error {
	if want, got := format.FrameBytes(), len(f.Data); got != want {
		return &audio.FormatError{Msg: fmt.Sprintf("frame %d is %d bytes, session format needs %d", f.Seq, got, want)}
	}
	return nil
}
