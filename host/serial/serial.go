package serial

import (
	"io"
)

// Port is a serial console the tool writes its log to.
// Open returns the tarm/serial backed implementation.
type Port interface {
	io.ReadWriteCloser

	// Sync flushes buffered output. It satisfies zapcore.WriteSyncer.
	Sync() error

	// Flush discards unread input
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB1", "COM3")
	Device string

	// Baud rate of the board's UART console
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the console settings of the reference board
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}
