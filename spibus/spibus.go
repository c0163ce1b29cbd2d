// Package spibus puts blocking bus interfaces on top of a SPIM instance: a
// periph.io spi.PortCloser and a Conn usable both as a periph.io spi.Conn and
// as a tinygo drivers.SPI.
package spibus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"

	"pulpspim/core"
)

var (
	ErrClosed      = errors.New("spibus: port closed")
	ErrConnected   = errors.New("spibus: port already connected")
	ErrNoCS        = errors.New("spibus: NoCS mode is not supported")
	ErrLength      = errors.New("spibus: buffer length is not a whole number of words")
	ErrDuplexKeep  = errors.New("spibus: KeepCS is not supported on full duplex packets")
	ErrPacketWidth = errors.New("spibus: per packet word width is not supported")
	ErrWideKeep    = errors.New("spibus: KeepCS is not supported on a single wide word")
)

// DefaultSpeed is used when neither Connect nor LimitSpeed set a speed
const DefaultSpeed = physic.MegaHertz

// Port is a periph.io spi.PortCloser over one SPIM instance
type Port struct {
	mu      sync.Mutex
	spi     core.SPI
	name    string
	log     *zap.Logger
	timeout time.Duration
	limit   physic.Frequency
	conn    *Conn
	closed  bool
}

var _ spi.PortCloser = (*Port)(nil)

// Option configures a Port
type Option func(*Port)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(p *Port) {
		if log != nil {
			p.log = log
		}
	}
}

// WithTimeout bounds every transaction
func WithTimeout(timeout time.Duration) Option {
	return func(p *Port) {
		p.timeout = timeout
	}
}

// NewPort initializes s without a callback; completion is polled
func NewPort(s core.SPI, name string, opts ...Option) (*Port, error) {
	p := &Port{
		spi:     s,
		name:    name,
		log:     zap.NewNop(),
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := s.Initialize(nil); err != nil {
		return nil, fmt.Errorf("spibus: initialize %s: %w", name, err)
	}
	return p, nil
}

// String implements spi.Port
func (p *Port) String() string {
	return p.name
}

// LimitSpeed implements spi.Port
func (p *Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("spibus: invalid speed %s", f)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limit = f
	if p.conn == nil {
		return nil
	}
	_, err := p.spi.Control(core.ControlSetBusSpeed, hz(min(p.conn.speed, f)))
	return err
}

// Connect implements spi.Port. The instance is switched to master mode with
// the requested frame format, word width and bit order.
func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.conn != nil {
		return nil, ErrConnected
	}
	if mode&spi.NoCS != 0 {
		return nil, ErrNoCS
	}
	if bits < 1 || bits > 32 {
		return nil, fmt.Errorf("spibus: invalid word width %d", bits)
	}
	if f == 0 {
		f = DefaultSpeed
	}
	speed := f
	if p.limit != 0 && p.limit < speed {
		speed = p.limit
	}

	control := uint32(core.ModeMaster) | frameFormat(mode) | core.DataBits(uint32(bits))
	if mode&spi.LSBFirst != 0 {
		control |= core.LSBFirst
	}
	if _, err := p.spi.Control(control, hz(speed)); err != nil {
		return nil, fmt.Errorf("spibus: connect %s at %s: %w", p.name, speed, err)
	}

	c := &Conn{
		port:  p,
		speed: f,
		mode:  mode,
		bits:  bits,
		width: wordBytes(bits),
	}
	p.conn = c
	p.log.Debug("connected", zap.String("port", p.name), zap.Stringer("speed", speed),
		zap.Int("mode", int(mode&3)), zap.Int("bits", bits))
	return c, nil
}

// Close implements io.Closer. It puts the instance back to inactive and
// uninitializes it.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	bits := 8
	if p.conn != nil {
		bits = p.conn.bits
	}
	p.conn = nil
	if _, err := p.spi.Control(core.ModeInactive|core.DataBits(uint32(bits)), 0); err != nil {
		p.log.Warn("set inactive failed", zap.Error(err))
	}
	return p.spi.Uninitialize()
}

// Conn is a connected port
type Conn struct {
	port  *Port
	speed physic.Frequency
	mode  spi.Mode
	bits  int
	width int // bytes per word in memory
	one   [4]byte
	sink  [4]byte
}

var (
	_ spi.Conn    = (*Conn)(nil)
	_ drivers.SPI = (*Conn)(nil)
)

// String implements conn.Resource
func (c *Conn) String() string {
	return c.port.name
}

// Halt implements conn.Resource: it aborts the transfer in flight
func (c *Conn) Halt() error {
	_, err := c.port.spi.Control(core.ControlAbortTransfer, 0)
	return err
}

// Duplex implements conn.Conn
func (c *Conn) Duplex() conn.Duplex {
	if c.mode&spi.HalfDuplex != 0 {
		return conn.Half
	}
	return conn.Full
}

// Tx implements spi.Conn and drivers.SPI. With only w set it sends, with
// only r set it receives, with both it runs a full duplex transfer over
// min(len(w), len(r)) bytes.
func (c *Conn) Tx(w, r []byte) error {
	return c.tx(w, r, false)
}

// Transfer implements drivers.SPI: one byte out, one byte in
func (c *Conn) Transfer(b byte) (byte, error) {
	var in [1]byte
	c.one[0] = b
	if err := c.tx(c.one[:1], in[:], false); err != nil {
		return 0, err
	}
	return in[0], nil
}

// TxPackets implements spi.Conn. KeepCS on a packet keeps chip select
// asserted after it, also on the last packet, so a transaction can span
// several calls.
func (c *Conn) TxPackets(pkts []spi.Packet) error {
	for i, pkt := range pkts {
		if pkt.BitsPerWord != 0 && int(pkt.BitsPerWord) != c.bits {
			return ErrPacketWidth
		}
		if err := c.tx(pkt.W, pkt.R, pkt.KeepCS); err != nil {
			return fmt.Errorf("spibus: packet %d: %w", i, err)
		}
	}
	return nil
}

func (c *Conn) tx(w, r []byte, keep bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.port.timeout)
	defer cancel()

	s := c.port.spi
	switch {
	case len(w) > 0 && len(r) > 0:
		if keep {
			return ErrDuplexKeep
		}
		n := min(len(w), len(r))
		return c.chunked(ctx, n, false, func(off, end int, _ core.XferFlags) error {
			return s.Transfer(w[off:end], r[off:end], uint32((end-off)/c.width))
		})
	case len(w) > 0:
		return c.chunked(ctx, len(w), keep, func(off, end int, flags core.XferFlags) error {
			num := uint32((end - off) / c.width)
			if num == 1 && c.width > 1 {
				// a single item Send only carries its first byte inline
				if flags&core.XferPending != 0 {
					return ErrWideKeep
				}
				return s.Transfer(w[off:end], c.sink[:c.width], 1)
			}
			return s.Send(w[off:end], num, flags)
		})
	case len(r) > 0:
		return c.chunked(ctx, len(r), keep, func(off, end int, flags core.XferFlags) error {
			return s.Receive(r[off:end], uint32((end-off)/c.width), flags)
		})
	}
	return nil
}

// chunked splits n bytes into requests the command block can encode and
// waits for each. Every chunk but the last keeps chip select asserted.
func (c *Conn) chunked(ctx context.Context, n int, keep bool, start func(off, end int, flags core.XferFlags) error) error {
	if n%c.width != 0 {
		return ErrLength
	}
	s := c.port.spi
	step := core.MaxItems * c.width
	for off := 0; off < n; off += step {
		end := min(off+step, n)
		var flags core.XferFlags
		if end < n || keep {
			flags |= core.XferPending
		}
		if err := core.WaitIdle(ctx, s); err != nil {
			return err
		}
		if err := start(off, end, flags); err != nil {
			return err
		}
		if err := core.WaitIdle(ctx, s); err != nil {
			s.Control(core.ControlAbortTransfer, 0)
			return err
		}
	}
	return nil
}

func frameFormat(mode spi.Mode) uint32 {
	switch mode & 3 {
	case spi.Mode1:
		return core.CPOL0CPHA1
	case spi.Mode2:
		return core.CPOL1CPHA0
	case spi.Mode3:
		return core.CPOL1CPHA1
	}
	return core.CPOL0CPHA0
}

func wordBytes(bits int) int {
	switch {
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	default:
		return 4
	}
}

func hz(f physic.Frequency) uint32 {
	return uint32(f / physic.Hertz)
}
