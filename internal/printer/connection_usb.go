package printer

import (
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// USBConnection is a USB printer connection held through libusb.
type USBConnection struct {
	usbCtx   *gousb.Context
	device   *gousb.Device
	iface    *gousb.Interface
	done     func()
	endpoint *gousb.OutEndpoint
	mu       sync.Mutex
}

// ConnectUSB connects to a USB printer by vendor/product ID. Returns an
// error when libusb is unavailable or the device has no OUT endpoint.
func ConnectUSB(vid, pid uint16) (*USBConnection, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found: %04X:%04X", vid, pid)
	}

	iface, done, err := dev.DefaultInterface()
	if err != nil {
		// Some devices need the kernel driver detached first.
		dev.SetAutoDetach(true)
		iface, done, err = dev.DefaultInterface()
	}
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("failed to claim USB interface: %w", err)
	}

	var endpoint *gousb.OutEndpoint
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				endpoint = ep
				break
			}
		}
	}
	if endpoint == nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("no OUT endpoint on device %04X:%04X", vid, pid)
	}

	return &USBConnection{
		usbCtx:   ctx,
		device:   dev,
		iface:    iface,
		done:     done,
		endpoint: endpoint,
	}, nil
}

// Write sends data to the USB printer.
func (c *USBConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.endpoint.Write(data)
}

// Close releases the interface, device and USB context.
func (c *USBConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		c.done()
		c.done = nil
	}
	if c.device != nil {
		c.device.Close()
		c.device = nil
	}
	if c.usbCtx != nil {
		return c.usbCtx.Close()
	}
	return nil
}
