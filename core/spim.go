package core

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Transfer option flags for Send and Receive
type XferFlags uint8

const (
	XferPending XferFlags = 1 << 0 // Keep chip select asserted after the transfer
	XferQSPI    XferFlags = 1 << 1 // Run the data phase in quad mode
)

// EventTransferComplete is passed to the SignalEvent callback on EOT
const EventTransferComplete = 1 << 0

// SignalEvent is the completion callback registered with Initialize.
// It runs in interrupt context.
type SignalEvent func(event uint32)

// DriverStatus is the snapshot returned by GetStatus
type DriverStatus struct {
	Busy bool // Transmitter/receiver busy flag
}

// Driver is the state of one SPIM instance. All operations on the same
// instance must come from a single foreground context; only the EOT handler
// may run concurrently with them.
type Driver struct {
	id       int
	platform Platform
	log      *zap.Logger
	trace    *Trace

	bitsWord   uint8    // bits per word, 1..32
	lsbFirst   bool     // bit order
	sizeFactor uint8    // log2 of bytes per word
	elemSize   ElemSize // uDMA element size class

	cmd         [cmdSlots]uint32   // CFG, SOT, RUN, EOT
	cmdBuf      [CmdBlockSize]byte // cmd serialised for the CMD channel
	dataLeft    uint32             // items in flight
	initialized bool

	busy     atomic.Bool
	callback atomic.Pointer[SignalEvent]
}

func (d *Driver) reset(id int, platform Platform, log *zap.Logger, trace *Trace) {
	d.id = id
	d.platform = platform
	d.log = log.With(zap.Int("spim", id))
	d.trace = trace
	d.bitsWord = 8
	d.applyWordSize()
	d.cmd = [cmdSlots]uint32{
		EncodeCfg(0, false, false),
		EncodeSOT(0),
		0,
		EncodeEOT(true, false),
	}
}

// ID returns the SPIM instance index
func (d *Driver) ID() int {
	return d.id
}

// Initialize registers cb, enables the peripheral clock and the EOT event
func (d *Driver) Initialize(cb SignalEvent) error {
	d.platform.Clock.EnableClock(PeriphID(d.id))

	d.callback.Store(nil)
	d.busy.Store(false)
	if cb != nil {
		d.callback.Store(&cb)
	}

	d.platform.Events.SetEvent(EOTEvent(d.id))
	d.dataLeft = 0
	d.initialized = true

	d.log.Debug("initialized", zap.Bool("callback", cb != nil))
	return nil
}

// Uninitialize aborts any transfer, drops the callback and gates the clock
func (d *Driver) Uninitialize() error {
	d.AbortTransfer()
	d.callback.Store(nil)
	d.dataLeft = 0

	d.platform.Clock.DisableClock(PeriphID(d.id))
	d.platform.Events.ClearEvent(EOTEvent(d.id))
	d.initialized = false

	d.log.Debug("uninitialized")
	return nil
}

// PowerControl is not supported: the peripheral only runs at full power
func (d *Driver) PowerControl(state PowerState) error {
	_ = state
	return ErrUnsupported
}

// Send starts sending num items from data. A single item is embedded in the
// command block; longer sends go through the TX channel. num == 0 is
// rejected with ErrBusy and changes nothing.
func (d *Driver) Send(data []byte, num uint32, cfg XferFlags) error {
	if num == 0 {
		return ErrBusy
	}
	need := num << d.sizeFactor
	if num == 1 {
		need = 1
	}
	if err := d.checkRequest(num, need, len(data)); err != nil {
		return err
	}
	if !d.acquire() {
		return ErrBusy
	}

	qspi := cfg&XferQSPI != 0
	pending := cfg&XferPending != 0

	d.dataLeft = num
	if num == 1 {
		d.cmd[cmdRunSlot] = EncodeSendCmd(uint16(data[0]), d.bitsWord, qspi)
	} else {
		d.cmd[cmdRunSlot] = EncodeTxData(num, 0, d.bitsWord, qspi, d.lsbFirst)
		d.platform.DMA.Enqueue(TXChannel(d.id), data, num<<d.sizeFactor, d.elemSize)
	}
	d.cmd[cmdEOTSlot] = EncodeEOT(true, pending)

	d.trace.Record(EvtSend, uint8(d.id), num, d.cmd[cmdRunSlot])
	d.enqueueCmd()
	return nil
}

// Receive starts receiving num items into data
func (d *Driver) Receive(data []byte, num uint32, cfg XferFlags) error {
	if num == 0 {
		return ErrParameter
	}
	if err := d.checkRequest(num, num<<d.sizeFactor, len(data)); err != nil {
		return err
	}
	if !d.acquire() {
		return ErrBusy
	}

	qspi := cfg&XferQSPI != 0
	pending := cfg&XferPending != 0

	d.cmd[cmdEOTSlot] = EncodeEOT(true, pending)
	d.cmd[cmdRunSlot] = EncodeRxData(num, 0, d.bitsWord, qspi, d.lsbFirst)
	d.dataLeft = num
	d.platform.DMA.Enqueue(RXChannel(d.id), data, num<<d.sizeFactor, d.elemSize)

	d.trace.Record(EvtReceive, uint8(d.id), num, d.cmd[cmdRunSlot])
	d.enqueueCmd()
	return nil
}

// Transfer sends out and receives into in at the same time. The progress
// counter covers both directions, so it reaches 2*num.
func (d *Driver) Transfer(out, in []byte, num uint32) error {
	if num == 0 {
		return ErrParameter
	}
	size := num << d.sizeFactor
	if err := d.checkRequest(num, size, min(len(out), len(in))); err != nil {
		return err
	}
	if !d.acquire() {
		return ErrBusy
	}

	d.cmd[cmdEOTSlot] = EncodeEOT(true, false)
	d.cmd[cmdRunSlot] = EncodeFullDuplex(num, 0, d.bitsWord, d.lsbFirst)
	d.dataLeft = num << 1
	d.platform.DMA.Enqueue(RXChannel(d.id), in, size, d.elemSize)
	d.platform.DMA.Enqueue(TXChannel(d.id), out, size, d.elemSize)

	d.trace.Record(EvtTransfer, uint8(d.id), num, d.cmd[cmdRunSlot])
	d.enqueueCmd()
	return nil
}

// GetDataCount returns the number of items already moved by the current or
// last transfer, read live from the channel size registers
func (d *Driver) GetDataCount() uint32 {
	tx := d.platform.DMA.Remaining(TXChannel(d.id)) >> d.sizeFactor
	rx := d.platform.DMA.Remaining(RXChannel(d.id)) >> d.sizeFactor
	if tx+rx > d.dataLeft {
		return 0
	}
	return d.dataLeft - (tx + rx)
}

// GetStatus reports whether a transfer is in flight
func (d *Driver) GetStatus() DriverStatus {
	return DriverStatus{Busy: d.busy.Load()}
}

// GetVersion returns the API and driver versions
func (d *Driver) GetVersion() Version {
	return driverVersion
}

// GetCapabilities returns the optional features of the driver (none)
func (d *Driver) GetCapabilities() Capabilities {
	return driverCapabilities
}

// AbortTransfer clears the RX, TX and CMD channels and marks the instance
// idle. Buffers of the aborted transfer are left partially written.
func (d *Driver) AbortTransfer() {
	d.platform.DMA.Clear(RXChannel(d.id))
	d.platform.DMA.Clear(TXChannel(d.id))
	d.platform.DMA.Clear(CMDChannel(d.id))
	d.busy.Store(false)
	d.trace.Record(EvtAbort, uint8(d.id), d.dataLeft, 0)
}

// handleEOT is the EOT event handler bound in the EventTable
func (d *Driver) handleEOT(evt uint32) {
	if cb := d.callback.Load(); cb != nil {
		(*cb)(EventTransferComplete)
	}
	d.busy.Store(false)
	d.trace.Record(EvtComplete, uint8(d.id), evt, 0)
}

// checkRequest validates a request before the busy flag is touched
func (d *Driver) checkRequest(num, need uint32, have int) error {
	if !d.initialized {
		d.reject(StatusError)
		return ErrGeneric
	}
	if num > MaxItems || uint64(have) < uint64(need) {
		d.reject(StatusParameter)
		return ErrParameter
	}
	return nil
}

// acquire moves the instance from idle to busy
func (d *Driver) acquire() bool {
	if d.busy.CompareAndSwap(false, true) {
		return true
	}
	d.reject(StatusBusy)
	return false
}

func (d *Driver) reject(s Status) {
	d.trace.Record(EvtRejected, uint8(d.id), uint32(int32(s)), 0)
	d.log.Debug("request rejected", zap.Error(s))
}

// enqueueCmd hands the whole command block to the CMD channel. It must come
// after the data buffers: the block starts the hardware.
func (d *Driver) enqueueCmd() {
	for i, w := range d.cmd {
		d.cmdBuf[i*4] = byte(w)
		d.cmdBuf[i*4+1] = byte(w >> 8)
		d.cmdBuf[i*4+2] = byte(w >> 16)
		d.cmdBuf[i*4+3] = byte(w >> 24)
	}
	d.platform.DMA.Enqueue(CMDChannel(d.id), d.cmdBuf[:], CmdBlockSize, ElemSize32)
}

// applyWordSize derives the uDMA element size from bitsWord
func (d *Driver) applyWordSize() {
	switch {
	case d.bitsWord <= 8:
		d.elemSize = ElemSize8
		d.sizeFactor = 0
	case d.bitsWord <= 16:
		d.elemSize = ElemSize16
		d.sizeFactor = 1
	default:
		d.elemSize = ElemSize32
		d.sizeFactor = 2
	}
}
