package turret

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the turret firmware.
const DefaultBaudRate = 9600

// Device is the write side of the turret link. Nothing is ever read back.
type Device interface {
	io.Writer
	Close() error
}

// OpenDevice opens the serial port. If port is empty or cannot be opened the
// controller runs against a simulated device so the rest of the system still
// works without hardware.
func OpenDevice(port string, baud int, logger *slog.Logger) Device {
	if logger == nil {
		logger = slog.Default()
	}
	if port == "" {
		logger.Warn("No serial port configured, running without hardware")
		return NewSimulatedDevice(logger)
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		logger.Error("Failed to open serial port, running without hardware", "port", port, "baud", baud, "error", err)
		return NewSimulatedDevice(logger)
	}

	logger.Info("Opened serial port", "port", port, "baud", baud)
	return p
}

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

// SimulatedDevice logs and remembers every command instead of driving hardware.
type SimulatedDevice struct {
	mu       sync.Mutex
	commands []string
	closed   bool
	logger   *slog.Logger
}

func NewSimulatedDevice(logger *slog.Logger) *SimulatedDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedDevice{logger: logger.With("device", "simulated")}
}

func (d *SimulatedDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	d.commands = append(d.commands, string(p))
	d.mu.Unlock()

	d.logger.Debug("No hardware, dropping command", "command", string(p))
	return len(p), nil
}

func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Commands returns every command written so far.
func (d *SimulatedDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}
