package media

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/tosone/minimp3"

	"github.com/auditoryaid/voicetray/internal/audio"
)

// PlayIntro decodes an MP3 and plays it through the output device, blocking
// until the last frame has been queued. The device is opened with the clip's
// own rate and channel count and closed again before returning, so the
// capture session can claim it afterwards.
func PlayIntro(path string, dev audio.Device, log zerolog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read intro sound: %w", err)
	}

	dec, pcm, err := minimp3.DecodeFull(data)
	if err != nil {
		return fmt.Errorf("failed to decode intro sound: %w", err)
	}

	format := audio.Format{
		SampleRate:    dec.SampleRate,
		Channels:      dec.Channels,
		BitsPerSample: 16,
		FrameSize:     1024,
	}
	if err := dev.Open(format); err != nil {
		return err
	}
	defer dev.Close()

	log.Info().Str("path", path).
		Int("sample_rate", dec.SampleRate).
		Int("channels", dec.Channels).
		Msg("Playing intro sound")

	step := format.FrameBytes()
	for off := 0; off < len(pcm); off += step {
		frame := make([]byte, step)
		copy(frame, pcm[off:min(off+step, len(pcm))])
		if err := dev.Write(frame); err != nil {
			return err
		}
	}
	return nil
}
