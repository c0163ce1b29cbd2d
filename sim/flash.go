package sim

import (
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/tinyfs"

	"pulpspim/flash"
)

// Flash is a NOR flash on the SPI bus. It answers RDID, RDSR1, WREN/WRDI,
// WRR, 4-byte sector erase, page program and read in single and quad mode.
// Programming ANDs bits into the array, erase sets them. The array lives in
// a tinyfs memory block device.
type Flash struct {
	mu  sync.Mutex
	log *zap.Logger
	mem *tinyfs.MemBlockDevice

	size         int64
	id           []byte
	status       byte
	config       byte
	busyPolls    int
	erasePolls   int
	programPolls int

	selected bool
	op       byte
	n        int // bytes seen in the current transaction
	addr     uint32
	laneErrs int
}

// FlashOption configures a Flash
type FlashOption func(*Flash)

// WithID replaces the RDID response
func WithID(id []byte) FlashOption {
	return func(f *Flash) {
		f.id = append([]byte(nil), id...)
	}
}

// WithBusyPolls sets how many RDSR1 reads report WIP after an erase and
// after a program
func WithBusyPolls(erase, program int) FlashOption {
	return func(f *Flash) {
		f.erasePolls = erase
		f.programPolls = program
	}
}

// WithFlashLogger sets the logger for command tracing
func WithFlashLogger(log *zap.Logger) FlashOption {
	return func(f *Flash) {
		if log != nil {
			f.log = log
		}
	}
}

// NewFlash returns an erased flash of size bytes, rounded down to whole
// sectors
func NewFlash(size int64, opts ...FlashOption) *Flash {
	sectors := size / flash.SectorSize
	if sectors < 1 {
		sectors = 1
	}
	f := &Flash{
		log:          zap.NewNop(),
		mem:          tinyfs.NewMemoryDevice(flash.PageSize, flash.SectorSize, int(sectors)),
		size:         sectors * flash.SectorSize,
		id:           flash.S25FSID[:],
		erasePolls:   3,
		programPolls: 2,
	}
	for _, opt := range opts {
		opt(f)
	}

	erased := make([]byte, flash.SectorSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	for off := int64(0); off < f.size; off += flash.SectorSize {
		if _, err := f.mem.WriteAt(erased, off); err != nil {
			f.log.Error("flash array init failed", zap.Int64("off", off), zap.Error(err))
		}
	}
	return f
}

// Size returns the array size in bytes
func (f *Flash) Size() int64 {
	return f.size
}

// ReadAt copies array content without going through the bus
func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem.ReadAt(p, off%f.size)
}

// Status returns status register 1
func (f *Flash) Status() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// LaneErrors counts data bytes that arrived on the wrong lane width
func (f *Flash) LaneErrors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.laneErrs
}

// Select implements Device
func (f *Flash) Select() {
	f.mu.Lock()
	f.selected = true
	f.n = 0
	f.op = 0
	f.addr = 0
	f.mu.Unlock()
}

// Deselect implements Device. Erase and program start here.
func (f *Flash) Deselect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.selected {
		return
	}
	f.selected = false

	wel := f.status&flash.StatusWEL != 0
	switch f.op {
	case flash.CmdWriteEnable:
		f.status |= flash.StatusWEL
	case flash.CmdWriteDisable:
		f.status &^= flash.StatusWEL
	case flash.CmdWriteRegisters:
		if wel && f.n > 1 {
			f.startBusy(1)
		}
	case flash.Cmd4SectorErase:
		if wel && f.n >= 5 {
			f.erase(f.addr)
			f.startBusy(f.erasePolls)
		}
	case flash.Cmd4PageProgram, flash.Cmd4QuadPageProgram:
		if wel && f.n > 5 {
			f.startBusy(f.programPolls)
		}
	}
	f.log.Debug("flash transaction", zap.Uint8("op", f.op), zap.Int("bytes", f.n), zap.Uint32("addr", f.addr))
}

// Exchange implements Device
func (f *Flash) Exchange(out byte, quad bool) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.selected {
		return 0xFF
	}

	i := f.n
	f.n++
	if i == 0 {
		f.op = out
		if f.status&flash.StatusWIP != 0 && out != flash.CmdReadStatus1 {
			f.op = 0 // busy: everything but RDSR1 is ignored
		}
		return 0xFF
	}

	switch f.op {
	case flash.CmdReadID:
		if i-1 < len(f.id) {
			return f.id[i-1]
		}
	case flash.CmdReadStatus1:
		return f.pollStatus()
	case flash.CmdWriteRegisters:
		if i == 1 && f.status&flash.StatusWEL != 0 {
			f.status = out&^(flash.StatusWIP|flash.StatusWEL) | f.status&(flash.StatusWIP|flash.StatusWEL)
		} else if i == 2 {
			f.config = out
		}
	case flash.Cmd4SectorErase:
		if i <= 4 {
			f.addr = f.addr<<8 | uint32(out)
		}
	case flash.Cmd4PageProgram, flash.Cmd4QuadPageProgram:
		if i <= 4 {
			f.addr = f.addr<<8 | uint32(out)
			return 0xFF
		}
		if !f.lane(quad, f.op == flash.Cmd4QuadPageProgram) {
			return 0xFF
		}
		if f.status&flash.StatusWEL != 0 {
			page := f.addr &^ (flash.PageSize - 1)
			off := (f.addr + uint32(i-5)) % flash.PageSize
			f.program(page+off, out)
		}
	case flash.Cmd4Read:
		if i <= 4 {
			f.addr = f.addr<<8 | uint32(out)
			return 0xFF
		}
		if !f.lane(quad, false) {
			return 0x00
		}
		return f.read(f.addr + uint32(i-5))
	case flash.Cmd4QuadOutRead:
		if i <= 4 {
			f.addr = f.addr<<8 | uint32(out)
			return 0xFF
		}
		if i == 5 {
			return 0xFF // dummy
		}
		if !f.lane(quad, true) {
			return 0x00
		}
		return f.read(f.addr + uint32(i-6))
	}
	return 0xFF
}

// lane checks the data phase lane width against what the command expects
func (f *Flash) lane(quad, want bool) bool {
	if quad != want {
		f.laneErrs++
		return false
	}
	return true
}

func (f *Flash) pollStatus() byte {
	s := f.status
	if f.busyPolls > 0 {
		f.busyPolls--
		if f.busyPolls == 0 {
			f.status &^= flash.StatusWIP
		}
	}
	return s
}

func (f *Flash) startBusy(polls int) {
	f.status &^= flash.StatusWEL
	if polls < 1 {
		return
	}
	f.status |= flash.StatusWIP
	f.busyPolls = polls
}

func (f *Flash) read(addr uint32) byte {
	var b [1]byte
	if _, err := f.mem.ReadAt(b[:], int64(addr)%f.size); err != nil {
		f.log.Error("flash array read failed", zap.Uint32("addr", addr), zap.Error(err))
		return 0xFF
	}
	return b[0]
}

func (f *Flash) program(addr uint32, v byte) {
	off := int64(addr) % f.size
	var b [1]byte
	if _, err := f.mem.ReadAt(b[:], off); err != nil {
		f.log.Error("flash array read failed", zap.Int64("off", off), zap.Error(err))
		return
	}
	b[0] &= v
	if _, err := f.mem.WriteAt(b[:], off); err != nil {
		f.log.Error("flash array program failed", zap.Int64("off", off), zap.Error(err))
	}
}

func (f *Flash) erase(addr uint32) {
	base := int64(addr) % f.size
	base -= base % flash.SectorSize
	erased := make([]byte, flash.SectorSize)
	for i := range erased {
		erased[i] = 0xFF
	}
	if _, err := f.mem.WriteAt(erased, base); err != nil {
		f.log.Error("flash array erase failed", zap.Int64("off", base), zap.Error(err))
	}
}
