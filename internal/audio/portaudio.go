package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/auditoryaid/voicetray/internal/config"
)

type portAudioDevice struct {
	inputID  string
	outputID string

	mu       sync.Mutex
	format   Format
	in       *portaudio.Stream
	out      *portaudio.Stream
	inBuf    []int16
	outBuf   []int16
	overruns atomic.Uint64
}

// New initializes PortAudio and returns a duplex device bound to the
// configured input/output endpoints (empty means system default).
func New(cfg config.AudioConfig) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioDevice{
		inputID:  cfg.InputDevice,
		outputID: cfg.OutputDevice,
	}, nil
}

// FormatFromConfig builds the session Format from config, falling back to
// the defaults for any zero field.
func FormatFromConfig(cfg config.AudioConfig) Format {
	f := DefaultFormat()
	if cfg.SampleRate > 0 {
		f.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		f.Channels = cfg.Channels
	}
	if cfg.BitsPerSample > 0 {
		f.BitsPerSample = cfg.BitsPerSample
	}
	if cfg.FrameSize > 0 {
		f.FrameSize = cfg.FrameSize
	}
	return f
}

func (p *portAudioDevice) Open(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.in != nil {
		return &DeviceError{Op: "open", Err: errors.New("already open")}
	}

	inDev, err := findDevice(p.inputID, true)
	if err != nil {
		return &DeviceError{Op: "open", Err: err}
	}
	outDev, err := findDevice(p.outputID, false)
	if err != nil {
		return &DeviceError{Op: "open", Err: err}
	}
	if f.Channels > inDev.MaxInputChannels {
		return &FormatError{Msg: fmt.Sprintf("%d channels requested, input device %q supports %d", f.Channels, inDev.Name, inDev.MaxInputChannels)}
	}

	p.inBuf = make([]int16, f.FrameSize*f.Channels)
	in, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inDev,
			Channels: f.Channels,
			Latency:  inDev.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: f.FrameSize,
	}, p.inBuf)
	if err != nil {
		return &DeviceError{Op: "open", Err: fmt.Errorf("input stream: %w", err)}
	}

	p.outBuf = make([]int16, f.FrameSize*f.Channels)
	out, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: f.Channels,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: f.FrameSize,
	}, p.outBuf)
	if err != nil {
		in.Close()
		return &DeviceError{Op: "open", Err: fmt.Errorf("output stream: %w", err)}
	}

	if err := in.Start(); err != nil {
		in.Close()
		out.Close()
		return &DeviceError{Op: "open", Err: fmt.Errorf("start input: %w", err)}
	}
	if err := out.Start(); err != nil {
		in.Stop()
		in.Close()
		out.Close()
		return &DeviceError{Op: "open", Err: fmt.Errorf("start output: %w", err)}
	}

	p.format = f
	p.in = in
	p.out = out
	p.overruns.Store(0)
	return nil
}

func (p *portAudioDevice) Read() ([]byte, error) {
	p.mu.Lock()
	stream := p.in
	buf := p.inBuf
	p.mu.Unlock()

	if stream == nil {
		return nil, &DeviceError{Op: "read", Err: ErrClosed}
	}

	if err := stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			// The driver dropped samples before this read; the buffer
			// itself is still valid.
			p.overruns.Add(1)
		} else {
			return nil, &DeviceError{Op: "read", Err: err}
		}
	}

	data := make([]byte, len(buf)*2)
	for i, s := range buf {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
	return data, nil
}

func (p *portAudioDevice) Write(data []byte) error {
	p.mu.Lock()
	stream := p.out
	buf := p.outBuf
	p.mu.Unlock()

	if stream == nil {
		return &DeviceError{Op: "write", Err: ErrClosed}
	}
	if len(data) != len(buf)*2 {
		return &FormatError{Msg: fmt.Sprintf("frame is %d bytes, session format needs %d", len(data), len(buf)*2)}
	}

	for i := range buf {
		buf[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return &DeviceError{Op: "write", Err: err}
	}
	return nil
}

func (p *portAudioDevice) Overruns() uint64 {
	return p.overruns.Load()
}

func (p *portAudioDevice) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.in != nil {
		p.in.Stop()
		p.in.Close()
		p.in = nil
	}
	if p.out != nil {
		p.out.Stop()
		p.out.Close()
		p.out = nil
	}
	return nil
}

func (p *portAudioDevice) SetEndpoints(input, output string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.in != nil {
		return &DeviceError{Op: "rebind", Err: errors.New("cannot change endpoints while a session is open")}
	}
	p.inputID = input
	p.outputID = output
	return nil
}

func (p *portAudioDevice) ListDevices(input bool) ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var defaultDevice *portaudio.DeviceInfo
	if input {
		defaultDevice, _ = portaudio.DefaultInputDevice()
	} else {
		defaultDevice, _ = portaudio.DefaultOutputDevice()
	}

	return collectDevices(devices, defaultDevice, input), nil
}

// collectDevices keeps only the endpoints usable in the requested direction
// and marks the direction's own default.
func collectDevices(devices []*portaudio.DeviceInfo, defaultDevice *portaudio.DeviceInfo, input bool) []DeviceInfo {
	result := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if input && d.MaxInputChannels == 0 {
			continue
		}
		if !input && d.MaxOutputChannels == 0 {
			continue
		}
		result = append(result, DeviceInfo{
			ID:      d.Name,
			Name:    d.Name,
			Default: d == defaultDevice,
		})
	}
	return result
}

func (p *portAudioDevice) Terminate() error {
	p.Close()
	return portaudio.Terminate()
}

// findDevice resolves an endpoint by name, or the system default when the
// name is empty.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			dev, err := portaudio.DefaultInputDevice()
			if err != nil {
				return nil, fmt.Errorf("no default input device: %w", err)
			}
			return dev, nil
		}
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default output device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels == 0 {
			continue
		}
		if !input && d.MaxOutputChannels == 0 {
			continue
		}
		return d, nil
	}
	return nil, fmt.Errorf("device not found: %s", name)
}
