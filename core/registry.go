package core

import (
	"go.uber.org/zap"
)

// PowerState is a general power state
type PowerState uint8

const (
	PowerOff  PowerState = iota // No operation possible
	PowerLow                    // Retain state, detect and signal wake-up events
	PowerFull                   // Full operation at maximum performance
)

// Version holds the API and driver versions, encoded major<<8 | minor
type Version struct {
	API    uint16
	Driver uint16
}

// VersionMajorMinor packs a version number
func VersionMajorMinor(major, minor uint8) uint16 {
	return uint16(major)<<8 | uint16(minor)
}

// Capabilities lists optional driver features
type Capabilities struct {
	Simplex        bool // Simplex mode (master and slave)
	TISSI          bool // TI synchronous serial interface
	Microwire      bool // Microwire interface
	EventModeFault bool // Signal mode fault event
}

var (
	driverVersion = Version{
		API:    VersionMajorMinor(1, 0),
		Driver: VersionMajorMinor(1, 0),
	}
	driverCapabilities = Capabilities{}
)

// SPI is the capability table of one SPIM instance
type SPI interface {
	Initialize(cb SignalEvent) error
	Uninitialize() error
	PowerControl(state PowerState) error
	Send(data []byte, num uint32, cfg XferFlags) error
	Receive(data []byte, num uint32, cfg XferFlags) error
	Transfer(out, in []byte, num uint32) error
	GetDataCount() uint32
	Control(control, arg uint32) (uint32, error)
	GetStatus() DriverStatus
	GetVersion() Version
	GetCapabilities() Capabilities
}

var _ SPI = (*Driver)(nil)

// Registry owns the SPIM instances of the SoC. Construct one at startup and
// pass it to whatever needs a driver.
type Registry struct {
	platform  Platform
	events    *EventTable
	log       *zap.Logger
	trace     Trace
	drivers   [MaxInstances]Driver
	populated int
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used on foreground paths
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithInstances sets how many SPIM instances are populated (default 1)
func WithInstances(n int) Option {
	return func(r *Registry) {
		r.populated = n
	}
}

// NewRegistry builds the driver table and binds the EOT event of every
// populated instance in events. Call it before interrupts are enabled.
func NewRegistry(platform Platform, events *EventTable, opts ...Option) (*Registry, error) {
	if err := platform.validate(); err != nil {
		return nil, err
	}
	if events == nil {
		return nil, ErrParameter
	}

	r := &Registry{
		platform:  platform,
		events:    events,
		log:       zap.NewNop(),
		populated: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.populated < 1 || r.populated > MaxInstances {
		return nil, ErrParameter
	}

	for id := 0; id < r.populated; id++ {
		d := &r.drivers[id]
		d.reset(id, platform, r.log, &r.trace)
		if err := events.SetHandler(EOTEvent(id), r.handleEOT); err != nil {
			return nil, err
		}
	}

	r.log.Debug("spim registry ready", zap.Int("instances", r.populated))
	return r, nil
}

// Driver returns the capability table of instance id
func (r *Registry) Driver(id int) (SPI, error) {
	d, err := r.Instance(id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Instance returns the concrete driver of instance id
func (r *Registry) Instance(id int) (*Driver, error) {
	if id < 0 || id >= r.populated {
		return nil, ErrParameter
	}
	return &r.drivers[id], nil
}

// Len returns the number of populated instances
func (r *Registry) Len() int {
	return r.populated
}

// Trace returns the shared event ring
func (r *Registry) Trace() *Trace {
	return &r.trace
}

// handleEOT recovers the instance from the event code and completes it
func (r *Registry) handleEOT(evt uint32) {
	id := instanceFromEvent(evt)
	if id < 0 || id >= r.populated {
		return
	}
	r.drivers[id].handleEOT(evt)
}
