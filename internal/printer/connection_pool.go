package printer

import (
	"fmt"
	"sync"
)

// Connection is a unified transport to one physical printer.
type Connection interface {
	Write(data []byte) (int, error)
	Close() error
}

// ConnectionPool caches open connections by device name. A connection that
// fails mid-write is evicted so the next attempt reconnects.
type ConnectionPool struct {
	connections map[string]Connection
	mu          sync.RWMutex
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{
		connections: make(map[string]Connection),
	}
}

// Connect ensures an open connection to the device.
func (p *ConnectionPool) Connect(d *Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.connections[d.Name]; exists {
		return nil
	}

	var conn Connection
	var err error

	switch d.Type {
	case TypeNetwork:
		conn, err = ConnectNetwork(d.Host, d.Port)
	case TypeSerial:
		conn, err = ConnectSerial(d.Path, d.Baud)
	case TypeUSB:
		conn, err = ConnectUSB(d.VID, d.PID)
	default:
		return &DeviceError{Device: d.Name, Retryable: false, Err: fmt.Errorf("unsupported device type %q", d.Type)}
	}
	if err != nil {
		// Connection establishment failures are transient device states
		// (offline, busy port) until proven otherwise.
		return &DeviceError{Device: d.Name, Retryable: true, Err: err}
	}

	p.connections[d.Name] = conn
	return nil
}

// Send writes a fully encoded payload to the device.
func (p *ConnectionPool) Send(deviceName string, data []byte) error {
	p.mu.RLock()
	conn, exists := p.connections[deviceName]
	p.mu.RUnlock()

	if !exists {
		return &DeviceError{Device: deviceName, Retryable: true, Err: fmt.Errorf("not connected")}
	}

	if _, err := conn.Write(data); err != nil {
		p.Disconnect(deviceName)
		return &DeviceError{Device: deviceName, Retryable: true, Err: err}
	}
	return nil
}

// Disconnect closes and evicts a device connection.
func (p *ConnectionPool) Disconnect(deviceName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, exists := p.connections[deviceName]
	if !exists {
		return nil
	}

	err := conn.Close()
	delete(p.connections, deviceName)
	return err
}

// DisconnectAll closes every open connection.
func (p *ConnectionPool) DisconnectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, conn := range p.connections {
		conn.Close()
		delete(p.connections, name)
	}
}

// IsConnected reports whether a device has an open connection.
func (p *ConnectionPool) IsConnected(deviceName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, exists := p.connections[deviceName]
	return exists
}
