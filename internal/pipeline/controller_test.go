package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/auditoryaid/voicetray/internal/audio"
	"github.com/auditoryaid/voicetray/internal/filter"
)

// Mock implementations for testing

type mockDevice struct {
	mu        sync.Mutex
	format    audio.Format
	opened    bool
	opens     int
	closes    int
	openErr   error
	readErr   error
	failAfter int // reads that succeed before readErr kicks in
	reads     int
	writes    [][]byte
	writeErr  error
	overruns  uint64

	writeDelay time.Duration // how long each Write stays inside the device
	writeBlock chan struct{} // when set, Write waits on it (wedged output)

	writing           bool
	closedDuringWrite bool
}

func (m *mockDevice) Open(f audio.Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	m.opens++
	m.format = f
	return nil
}

func (m *mockDevice) Read() ([]byte, error) {
	time.Sleep(time.Millisecond) // simulate capture cadence
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return nil, &audio.DeviceError{Op: "read", Err: audio.ErrClosed}
	}
	if m.readErr != nil && m.reads >= m.failAfter {
		return nil, m.readErr
	}
	m.reads++
	return make([]byte, m.format.FrameBytes()), nil
}

func (m *mockDevice) Write(data []byte) error {
	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		return &audio.DeviceError{Op: "write", Err: audio.ErrClosed}
	}
	if m.writeErr != nil {
		m.mu.Unlock()
		return m.writeErr
	}
	m.writing = true
	delay := m.writeDelay
	block := m.writeBlock
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if block != nil {
		<-block
	}

	m.mu.Lock()
	m.writing = false
	buf := make([]byte, len(data))
	copy(buf, data)
	m.writes = append(m.writes, buf)
	m.mu.Unlock()
	return nil
}

func (m *mockDevice) Overruns() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overruns
}

func (m *mockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writing {
		m.closedDuringWrite = true
	}
	if m.opened {
		m.opened = false
		m.closes++
	}
	return nil
}

func (m *mockDevice) SetEndpoints(input, output string) error { return nil }

func (m *mockDevice) ListDevices(input bool) ([]audio.DeviceInfo, error) {
	return []audio.DeviceInfo{{ID: "default", Name: "Default", Default: true}}, nil
}

func (m *mockDevice) Terminate() error { return m.Close() }

func (m *mockDevice) stats() (opens, closes, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes, m.reads
}

type recordStage struct {
	mu   sync.Mutex
	seqs []uint64
}

func (r *recordStage) Apply(f audio.Frame) (audio.Frame, error) {
	r.mu.Lock()
	r.seqs = append(r.seqs, f.Seq)
	r.mu.Unlock()
	return f, nil
}

func (r *recordStage) seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

type statusRecorder struct {
	mu     sync.Mutex
	events []string
}

func (s *statusRecorder) SetIdle()    { s.record("idle") }
func (s *statusRecorder) SetRunning() { s.record("running") }
func (s *statusRecorder) SetError()   { s.record("error") }

func (s *statusRecorder) record(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *statusRecorder) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return ""
	}
	return s.events[len(s.events)-1]
}

func testFormat() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16, FrameSize: 160}
}

func newTestController(dev audio.Device, stage filter.Stage, status StatusUpdater) *Controller {
	if stage == nil {
		stage = filter.NewIdentity(testFormat())
	}
	return NewController(Config{
		Device:        dev,
		Stage:         stage,
		Format:        testFormat(),
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
	})
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	for i := 0; i < 100; i++ { // Poll for 1 second
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("controller never reached %s, stuck at %s", want, c.State())
}

func TestStartStopLifecycle(t *testing.T) {
	dev := &mockDevice{}
	ctl := newTestController(dev, nil, nil)

	if ctl.State() != Idle {
		t.Fatalf("expected Idle before Start, got %s", ctl.State())
	}

	if err := ctl.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, ctl, Running)

	ctl.Stop()
	waitForState(t, ctl, Idle)

	opens, closes, _ := dev.stats()
	if opens != 1 {
		t.Errorf("expected device opened exactly once, got %d", opens)
	}
	if closes != 1 {
		t.Errorf("expected device closed exactly once, got %d", closes)
	}
	if err := ctl.Err(); err != nil {
		t.Errorf("clean stop should not record an error, got %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	dev := &mockDevice{}
	ctl := newTestController(dev, nil, nil)

	if err := ctl.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := ctl.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	if ctl.State() != Running {
		t.Errorf("expected Running after double Start, got %s", ctl.State())
	}
	opens, _, _ := dev.stats()
	if opens != 1 {
		t.Errorf("double Start must open the device exactly once, got %d", opens)
	}

	ctl.Stop()
	waitForState(t, ctl, Idle)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	dev := &mockDevice{}
	ctl := newTestController(dev, nil, nil)

	ctl.Stop()
	ctl.Stop()

	if ctl.State() != Idle {
		t.Errorf("expected Idle after Stop on idle controller, got %s", ctl.State())
	}
	if _, closes, _ := dev.stats(); closes != 0 {
		t.Errorf("Stop on idle controller must not touch the device, got %d closes", closes)
	}
}

func TestStartWithoutDeviceStaysIdle(t *testing.T) {
	openErr := &audio.DeviceError{Op: "open", Err: errors.New("no input device")}
	dev := &mockDevice{openErr: openErr}
	status := &statusRecorder{}
	ctl := newTestController(dev, nil, status)

	err := ctl.Start()
	if err == nil {
		t.Fatal("expected Start to fail with no device")
	}
	var devErr *audio.DeviceError
	if !errors.As(err, &devErr) {
		t.Errorf("expected a DeviceError, got %T: %v", err, err)
	}
	if ctl.State() != Idle {
		t.Errorf("expected Idle after failed Start, got %s", ctl.State())
	}
	if status.last() != "error" {
		t.Errorf("expected error status, got %q", status.last())
	}

	// The session must be explicitly restartable.
	dev.mu.Lock()
	dev.openErr = nil
	dev.mu.Unlock()
	if err := ctl.Start(); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	waitForState(t, ctl, Running)
	ctl.Stop()
	waitForState(t, ctl, Idle)
}

func TestSequenceNumbersStrictlyIncrease(t *testing.T) {
	dev := &mockDevice{}
	stage := &recordStage{}
	ctl := newTestController(dev, stage, nil)

	if err := ctl.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let a handful of frames flow through the filter stage.
	for i := 0; i < 100; i++ {
		if len(stage.seen()) >= 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctl.Stop()
	waitForState(t, ctl, Idle)

	seqs := stage.seen()
	if len(seqs) < 5 {
		t.Fatalf("expected at least 5 frames, got %d", len(seqs))
	}
	if seqs[0] != 0 {
		t.Errorf("sequence must start at 0, got %d", seqs[0])
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("sequence gap or duplicate at index %d: %d after %d", i, seqs[i], seqs[i-1])
		}
	}
}

func TestDeviceFaultEndsSession(t *testing.T) {
	readErr := &audio.DeviceError{Op: "read", Err: errors.New("device unplugged")}
	dev := &mockDevice{readErr: readErr, failAfter: 3}
	status := &statusRecorder{}
	ctl := newTestController(dev, nil, status)

	if err := ctl.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The fault must take the controller back to Idle on its own.
	waitForState(t, ctl, Idle)

	if ctl.Err() == nil {
		t.Error("expected the session error to be recorded")
	}
	if status.last() != "error" {
		t.Errorf("expected error status after fault, got %q", status.last())
	}
	if _, closes, _ := dev.stats(); closes != 1 {
		t.Errorf("device must be released after a fault, got %d closes", closes)
	}
}

func TestStopUnblocksStalledPlayback(t *testing.T) {
	// A wedged output stream: the writer never returns from Write, the
	// playback queue fills, and the capture loop ends up blocked in Play.
	block := make(chan struct{})
	dev := &mockDevice{writeBlock: block}
	t.Cleanup(func() { close(block) })

	ctl := newTestController(dev, nil, nil)
	if err := ctl.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForState(t, ctl, Running)

	// Give the loop time to jam against the full queue.
	time.Sleep(100 * time.Millisecond)

	ctl.Stop()
	waitForState(t, ctl, Idle)

	if _, closes, _ := dev.stats(); closes != 1 {
		t.Errorf("device must still be released after a stalled stop, got %d closes", closes)
	}
}

func TestStopWaitsForInFlightWrite(t *testing.T) {
	dev := &mockDevice{writeDelay: 150 * time.Millisecond}
	ctl := newTestController(dev, nil, nil)

	if err := ctl.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let at least one frame reach the writer goroutine.
	for i := 0; i < 100; i++ {
		if _, _, reads := dev.stats(); reads >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctl.Stop()
	waitForState(t, ctl, Idle)

	dev.mu.Lock()
	violated := dev.closedDuringWrite
	dev.mu.Unlock()
	if violated {
		t.Error("device was closed while a playback write was still in flight")
	}
}

func TestRestartAfterStop(t *testing.T) {
	dev := &mockDevice{}
	ctl := newTestController(dev, nil, nil)

	for i := 0; i < 3; i++ {
		if err := ctl.Start(); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		waitForState(t, ctl, Running)
		ctl.Stop()
		waitForState(t, ctl, Idle)
	}

	opens, closes, _ := dev.stats()
	if opens != 3 || closes != 3 {
		t.Errorf("expected 3 opens and 3 closes, got %d and %d", opens, closes)
	}
}
