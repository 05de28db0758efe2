package hotkey

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

// Manager registers one global hotkey and invokes a callback on each press.
// The tray uses it to toggle capture without focusing any window.
type Manager struct {
	hk   *hotkey.Hotkey
	stop chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	registered bool
}

// New creates an unregistered manager.
func New() *Manager {
	return &Manager{stop: make(chan struct{})}
}

// Register claims Ctrl+Shift+Space system-wide and calls onPress for every
// keydown until Close.
func (m *Manager) Register(onPress func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return fmt.Errorf("hotkey already registered")
	}

	hk := hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("failed to register hotkey: %w", err)
	}
	m.hk = hk
	m.registered = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-hk.Keydown():
				onPress()
			case <-m.stop:
				return
			}
		}
	}()

	return nil
}

// Close unregisters the hotkey and stops the listener goroutine.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registered {
		return nil
	}
	close(m.stop)
	m.wg.Wait()
	err := m.hk.Unregister()
	m.hk = nil
	m.registered = false
	return err
}
