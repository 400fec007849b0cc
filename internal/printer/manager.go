// Package printer handles named label-printer devices and their connections
package printer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Device types.
const (
	TypeNetwork = "network"
	TypeSerial  = "serial"
	TypeUSB     = "usb"
)

// ErrUnknownDevice means the requested device name is not configured.
// Always fatal for a job: retrying cannot make configuration appear.
var ErrUnknownDevice = errors.New("unknown device")

// DeviceError is a printer-side failure carrying its retry classification.
type DeviceError struct {
	Device    string
	Retryable bool
	Err       error
}

func (e *DeviceError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("device %s: %s: %v", e.Device, kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Retryable reports whether err is a retryable device failure. Anything not
// explicitly classified retryable is treated as fatal.
func Retryable(err error) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// Device describes one configured target printer. Resolved by name; the
// name is the only key callers ever use.
type Device struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`

	// Network devices.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`

	// Serial devices.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Baud int    `json:"baud,omitempty" yaml:"baud,omitempty"`

	// USB devices.
	VID uint16 `json:"vid,omitempty" yaml:"vid,omitempty"`
	PID uint16 `json:"pid,omitempty" yaml:"pid,omitempty"`

	// DotsPerLine is the device's printable width. Zero means the ESC/POS
	// default of 576.
	DotsPerLine int `json:"dots_per_line,omitempty" yaml:"dots_per_line,omitempty"`
}

// Manager resolves device names to configured devices. It is an explicit
// value handed to its users, not ambient global state, so tests can build
// one around fakes.
type Manager struct {
	devices map[string]*Device
	order   []string
	mu      sync.RWMutex
}

// NewManager builds a manager over the configured device list.
func NewManager(devices []Device) (*Manager, error) {
	m := &Manager{devices: make(map[string]*Device)}

	for i := range devices {
		d := devices[i]
		if d.Name == "" {
			return nil, fmt.Errorf("device %d: name is required", i)
		}
		if _, dup := m.devices[d.Name]; dup {
			return nil, fmt.Errorf("duplicate device name %q", d.Name)
		}
		switch d.Type {
		case TypeNetwork, TypeSerial, TypeUSB:
		default:
			return nil, fmt.Errorf("device %q: unsupported type %q", d.Name, d.Type)
		}
		m.devices[d.Name] = &d
		m.order = append(m.order, d.Name)
	}

	return m, nil
}

// Get resolves a device by name.
func (m *Manager) Get(name string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[name]
	if !ok {
		return nil, &DeviceError{Device: name, Retryable: false, Err: ErrUnknownDevice}
	}
	return d, nil
}

// Default returns the first configured device, or nil when the manager has
// none. An empty manager means file-only mode, which is a normal state.
func (m *Manager) Default() *Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return nil
	}
	return m.devices[m.order[0]]
}

// All returns the configured devices in declaration order.
func (m *Manager) All() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.devices[name])
	}
	return out
}

// Empty reports whether no devices are configured.
func (m *Manager) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order) == 0
}

// Health probes a device's reachability without printing anything. The
// probe opens and immediately closes the transport.
func (m *Manager) Health(ctx context.Context, name string) error {
	d, err := m.Get(name)
	if err != nil {
		return err
	}

	switch d.Type {
	case TypeNetwork:
		port := d.Port
		if port == 0 {
			port = 9100
		}
		addr := fmt.Sprintf("%s:%d", d.Host, port)
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return &DeviceError{Device: name, Retryable: true, Err: err}
		}
		return conn.Close()
	case TypeSerial:
		baud := d.Baud
		if baud == 0 {
			baud = 9600
		}
		port, err := serial.OpenPort(&serial.Config{Name: d.Path, Baud: baud, ReadTimeout: time.Second})
		if err != nil {
			return &DeviceError{Device: name, Retryable: true, Err: err}
		}
		return port.Close()
	case TypeUSB:
		conn, err := ConnectUSB(d.VID, d.PID)
		if err != nil {
			return &DeviceError{Device: name, Retryable: true, Err: err}
		}
		return conn.Close()
	default:
		return &DeviceError{Device: name, Retryable: false, Err: fmt.Errorf("unsupported device type %q", d.Type)}
	}
}
