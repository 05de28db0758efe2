package tray

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/auditoryaid/voicetray/internal/audio"
	"github.com/auditoryaid/voicetray/internal/config"
	"github.com/auditoryaid/voicetray/internal/pipeline"
)

type UI struct {
	ctl     *pipeline.Controller
	dev     audio.Device
	cfg     *config.Config
	version string
	commit  string
	log     zerolog.Logger

	// Menu items
	mStartStop *systray.MenuItem
	mInputs    *systray.MenuItem
	mOutputs   *systray.MenuItem
}

func New(dev audio.Device, cfg *config.Config, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		dev:     dev,
		cfg:     cfg,
		version: version,
		commit:  commit,
		log:     log,
	}
}

// SetController sets the controller reference (for circular dependency resolution:
// the controller reports status back to the tray)
func (u *UI) SetController(ctl *pipeline.Controller) {
	u.ctl = ctl
}

// Status update methods for the controller to call

func (u *UI) SetIdle() {
	u.updateStatus("idle")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Start Voice Filter")
	}
}

func (u *UI) SetRunning() {
	u.updateStatus("running")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Stop Voice Filter")
	}
}

func (u *UI) SetError() {
	u.updateStatus("error")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Start Voice Filter")
	}
}

func (u *UI) Run(ctx context.Context) error {
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.updateStatus("idle")
	systray.SetTooltip("Real-time voice filtering")

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Voice Filter", "Toggle capture and playback")
	systray.AddSeparator()

	u.mInputs = systray.AddMenuItem("Microphone", "Select input device")
	u.buildDeviceMenu(u.mInputs, true)

	u.mOutputs = systray.AddMenuItem("Speaker", "Select output device")
	u.buildDeviceMenu(u.mOutputs, false)

	systray.AddSeparator()
	mDiag := systray.AddMenuItem("Copy Diagnostics", "Copy device and session info")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mDiag, mQuit)
}

func (u *UI) handleEvents(mDiag, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.Toggle()
		case <-mDiag.ClickedCh:
			u.copyDiagnostics()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// Toggle flips capture. Also bound to the global hotkey.
func (u *UI) Toggle() {
	if u.ctl.State() == pipeline.Running {
		u.ctl.Stop()
		return
	}
	if err := u.ctl.Start(); err != nil {
		u.log.Error().Err(err).Msg("Failed to start capture")
	}
}

func (u *UI) buildDeviceMenu(parent *systray.MenuItem, input bool) {
	devices, err := u.dev.ListDevices(input)
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := parent.AddSubMenuItem(dev.Name, "")
		if dev.Default {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.selectDevice(deviceID, input); err != nil {
					u.log.Error().Err(err).Str("device", deviceName).Msg("Failed to change audio device")
					continue
				}
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Bool("input", input).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) selectDevice(id string, input bool) error {
	if u.ctl.State() != pipeline.Idle {
		return fmt.Errorf("cannot change devices while capture is active")
	}

	if input {
		u.cfg.Audio.InputDevice = id
	} else {
		u.cfg.Audio.OutputDevice = id
	}
	if err := u.dev.SetEndpoints(u.cfg.Audio.InputDevice, u.cfg.Audio.OutputDevice); err != nil {
		return err
	}
	return u.cfg.Save()
}

func (u *UI) copyDiagnostics() {
	var b strings.Builder
	fmt.Fprintf(&b, "voicetray %s (%s)\n", u.version, u.commit)
	fmt.Fprintf(&b, "state: %s\n", u.ctl.State())
	if err := u.ctl.Err(); err != nil {
		fmt.Fprintf(&b, "last error: %v\n", err)
	}
	fmt.Fprintf(&b, "input: %s\n", deviceLabel(u.cfg.Audio.InputDevice))
	fmt.Fprintf(&b, "output: %s\n", deviceLabel(u.cfg.Audio.OutputDevice))
	fmt.Fprintf(&b, "format: %d Hz, %d ch, %d-bit, %d samples/frame\n",
		u.cfg.Audio.SampleRate, u.cfg.Audio.Channels, u.cfg.Audio.BitsPerSample, u.cfg.Audio.FrameSize)
	fmt.Fprintf(&b, "filter: %s", u.cfg.Filter.Mode)
	if u.cfg.Filter.Mode == config.FilterRemote {
		fmt.Fprintf(&b, " (%s, ssl %s)", u.cfg.Filter.Target, u.cfg.Filter.SSLMode)
	}
	b.WriteString("\n")

	if err := clipboard.WriteAll(b.String()); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy diagnostics")
		return
	}
	u.log.Info().Msg("Diagnostics copied to clipboard")
}

func deviceLabel(id string) string {
	if id == "" {
		return "system default"
	}
	return id
}

func (u *UI) onExit() {
	// Cleanup
}

// updateStatus sets the tray title with a status indicator
func (u *UI) updateStatus(status string) {
	systray.SetTitle(fmt.Sprintf("🎧 %s", emojiForStatus(status)))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "running":
		return "🟢" // Green - capturing and playing
	case "error":
		return "🔴" // Red - last session ended with a device fault
	case "idle":
		return "🟡" // Yellow - ready
	default:
		return "🟡"
	}
}
