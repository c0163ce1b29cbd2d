// Package flash drives a serial NOR flash through the SPIM driver table:
// identification, status polling, sector erase, page program and read in
// single and quad mode. Device also implements tinyfs.BlockDevice.
package flash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/tinyfs"

	"pulpspim/core"
)

var (
	ErrOutOfRange   = errors.New("flash: address out of range")
	ErrCrossesPage  = errors.New("flash: program crosses a page boundary")
	ErrIDMismatch   = errors.New("flash: unexpected device id")
	ErrNotBlank     = errors.New("flash: sector not blank after erase")
	ErrVerifyFailed = errors.New("flash: read back differs from programmed data")
)

// DefaultTimeout bounds every wait on the bus or on WIP
const DefaultTimeout = 5 * time.Second

// Geometry describes the flash array
type Geometry struct {
	Size       int64 // bytes
	SectorSize int64 // erase granularity
	PageSize   int64 // program granularity
}

// DefaultGeometry returns the S25FS geometry for an array of size bytes
func DefaultGeometry(size int64) Geometry {
	return Geometry{Size: size, SectorSize: SectorSize, PageSize: PageSize}
}

// Device is a flash on chip select 0 of one SPIM instance
type Device struct {
	spi     core.SPI
	geo     Geometry
	log     *zap.Logger
	timeout time.Duration

	cmd [6]byte // opcode, 4-byte address, dummy
	sr  [1]byte
}

var _ tinyfs.BlockDevice = (*Device)(nil)

// Option configures a Device
type Option func(*Device)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(d *Device) {
		if log != nil {
			d.log = log
		}
	}
}

// WithTimeout sets the timeout used by the tinyfs.BlockDevice methods
func WithTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		d.timeout = timeout
	}
}

// New returns a Device talking through spi. spi must be initialized and
// configured as master with 8-bit words.
func New(spi core.SPI, geo Geometry, opts ...Option) *Device {
	d := &Device{
		spi:     spi,
		geo:     geo,
		log:     zap.NewNop(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Geometry returns the array geometry
func (d *Device) Geometry() Geometry {
	return d.geo
}

// ReadID returns the RDID response: JEDEC id followed by the CFI table
func (d *Device) ReadID(ctx context.Context) ([]byte, error) {
	id := make([]byte, IDSize)
	d.cmd[0] = CmdReadID
	if err := d.send(ctx, d.cmd[:1], core.XferPending); err != nil {
		return nil, fmt.Errorf("flash: read id: %w", err)
	}
	if err := d.receive(ctx, id, 0); err != nil {
		return nil, fmt.Errorf("flash: read id: %w", err)
	}
	return id, nil
}

// ReadStatus returns status register 1
func (d *Device) ReadStatus(ctx context.Context) (byte, error) {
	d.cmd[0] = CmdReadStatus1
	if err := d.send(ctx, d.cmd[:1], core.XferPending); err != nil {
		return 0, err
	}
	if err := d.receive(ctx, d.sr[:], 0); err != nil {
		return 0, err
	}
	return d.sr[0], nil
}

// WaitReady polls status register 1 until WIP clears
func (d *Device) WaitReady(ctx context.Context) error {
	for {
		sr, err := d.ReadStatus(ctx)
		if err != nil {
			return fmt.Errorf("flash: wait ready: %w", err)
		}
		if sr&StatusWIP == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("flash: wait ready: %w", core.ErrTimeout)
		}
	}
}

// WriteEnable sets the write enable latch
func (d *Device) WriteEnable(ctx context.Context) error {
	d.cmd[0] = CmdWriteEnable
	return d.send(ctx, d.cmd[:1], 0)
}

// EraseSector erases the sector containing addr and waits for completion
func (d *Device) EraseSector(ctx context.Context, addr uint32) error {
	if int64(addr) >= d.geo.Size {
		return ErrOutOfRange
	}
	if err := d.WriteEnable(ctx); err != nil {
		return fmt.Errorf("flash: erase %#x: %w", addr, err)
	}
	n := d.command(Cmd4SectorErase, addr, false)
	if err := d.send(ctx, d.cmd[:n], 0); err != nil {
		return fmt.Errorf("flash: erase %#x: %w", addr, err)
	}
	d.log.Debug("sector erase", zap.Uint32("addr", addr))
	return d.WaitReady(ctx)
}

// ProgramPage programs data at addr. data must not cross a page boundary.
// quad runs the data phase on four lanes.
func (d *Device) ProgramPage(ctx context.Context, addr uint32, data []byte, quad bool) error {
	if len(data) == 0 {
		return nil
	}
	if int64(addr)+int64(len(data)) > d.geo.Size {
		return ErrOutOfRange
	}
	if int64(addr)%d.geo.PageSize+int64(len(data)) > d.geo.PageSize {
		return ErrCrossesPage
	}

	if err := d.WriteEnable(ctx); err != nil {
		return fmt.Errorf("flash: program %#x: %w", addr, err)
	}
	op := byte(Cmd4PageProgram)
	if quad {
		op = Cmd4QuadPageProgram
	}
	n := d.command(op, addr, false)
	if err := d.send(ctx, d.cmd[:n], core.XferPending); err != nil {
		return fmt.Errorf("flash: program %#x: %w", addr, err)
	}
	if err := d.send(ctx, data, laneFlags(quad)); err != nil {
		return fmt.Errorf("flash: program %#x: %w", addr, err)
	}
	d.log.Debug("page program", zap.Uint32("addr", addr), zap.Int("len", len(data)), zap.Bool("quad", quad))
	return d.WaitReady(ctx)
}

// Read fills p from addr. Reads longer than one command can carry are split.
func (d *Device) Read(ctx context.Context, addr uint32, p []byte, quad bool) error {
	if int64(addr)+int64(len(p)) > d.geo.Size {
		return ErrOutOfRange
	}
	op := byte(Cmd4Read)
	if quad {
		op = Cmd4QuadOutRead
	}
	for len(p) > 0 {
		chunk := min(len(p), core.MaxItems)
		n := d.command(op, addr, quad)
		if err := d.send(ctx, d.cmd[:n], core.XferPending); err != nil {
			return fmt.Errorf("flash: read %#x: %w", addr, err)
		}
		if err := d.receive(ctx, p[:chunk], laneFlags(quad)); err != nil {
			return fmt.Errorf("flash: read %#x: %w", addr, err)
		}
		p = p[chunk:]
		addr += uint32(chunk)
	}
	return nil
}

// Verify reads back len(want) bytes at addr and compares them
func (d *Device) Verify(ctx context.Context, addr uint32, want []byte, quad bool) error {
	got := make([]byte, len(want))
	if err := d.Read(ctx, addr, got, quad); err != nil {
		return err
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%w: first difference at %#x, crc16 %04X want %04X",
				ErrVerifyFailed, addr+uint32(i), CRC16(got), CRC16(want))
		}
	}
	return nil
}

// ReadAt implements tinyfs.BlockDevice
func (d *Device) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(buf)) > d.geo.Size {
		return 0, ErrOutOfRange
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.Read(ctx, uint32(off), buf, false); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// WriteAt implements tinyfs.BlockDevice. The target range must be erased.
func (d *Device) WriteAt(buf []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(buf)) > d.geo.Size {
		return 0, ErrOutOfRange
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	written := 0
	for written < len(buf) {
		addr := off + int64(written)
		n := min(int64(len(buf)-written), d.geo.PageSize-addr%d.geo.PageSize)
		if err := d.ProgramPage(ctx, uint32(addr), buf[written:written+int(n)], false); err != nil {
			return written, err
		}
		written += int(n)
	}
	return written, nil
}

// Size implements tinyfs.BlockDevice
func (d *Device) Size() int64 {
	return d.geo.Size
}

// WriteBlockSize implements tinyfs.BlockDevice
func (d *Device) WriteBlockSize() int64 {
	return d.geo.PageSize
}

// EraseBlockSize implements tinyfs.BlockDevice
func (d *Device) EraseBlockSize() int64 {
	return d.geo.SectorSize
}

// EraseBlocks implements tinyfs.BlockDevice
func (d *Device) EraseBlocks(start, len int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for blk := start; blk < start+len; blk++ {
		if err := d.EraseSector(ctx, uint32(blk*d.geo.SectorSize)); err != nil {
			return err
		}
	}
	return nil
}

// command fills d.cmd with op and a big-endian 4-byte address, plus a dummy
// byte when dummy is set. It returns the number of bytes used.
func (d *Device) command(op byte, addr uint32, dummy bool) int {
	d.cmd[0] = op
	d.cmd[1] = byte(addr >> 24)
	d.cmd[2] = byte(addr >> 16)
	d.cmd[3] = byte(addr >> 8)
	d.cmd[4] = byte(addr)
	if dummy {
		d.cmd[5] = 0x00
		return 6
	}
	return 5
}

// send waits for the bus, starts a Send and waits for its EOT
func (d *Device) send(ctx context.Context, p []byte, flags core.XferFlags) error {
	if err := core.WaitIdle(ctx, d.spi); err != nil {
		return err
	}
	if err := d.spi.Send(p, uint32(len(p)), flags); err != nil {
		return err
	}
	return core.WaitIdle(ctx, d.spi)
}

// receive waits for the bus, starts a Receive and waits for its EOT
func (d *Device) receive(ctx context.Context, p []byte, flags core.XferFlags) error {
	if err := core.WaitIdle(ctx, d.spi); err != nil {
		return err
	}
	if err := d.spi.Receive(p, uint32(len(p)), flags); err != nil {
		return err
	}
	return core.WaitIdle(ctx, d.spi)
}

func laneFlags(quad bool) core.XferFlags {
	if quad {
		return core.XferQSPI
	}
	return 0
}
