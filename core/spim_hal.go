package core

// Channel is the base address of one uDMA channel (RX, TX or CMD of a
// peripheral). The DMA collaborator decodes it the same way the hardware does.
type Channel uint32

// ElemSize is the uDMA element size class programmed into the channel config
type ElemSize uint8

const (
	ElemSize8  ElemSize = 0 // 8-bit transfers
	ElemSize16 ElemSize = 1 // 16-bit transfers
	ElemSize32 ElemSize = 2 // 32-bit transfers
)

// uDMA memory map of a PULP SoC. SPIM instance i is uDMA peripheral
// FirstSPIMPeriph+i and owns EventsPerPeriph consecutive SoC events.
const (
	UDMABase        = 0x1A102000
	UDMAPeriphSize  = 0x80
	MaxInstances    = 4
	FirstSPIMPeriph = 2
	EventsPerPeriph = 4

	// Channel offsets inside a SPIM peripheral
	ChannelRXOffset  = 0x00
	ChannelTXOffset  = 0x10
	ChannelCMDOffset = 0x20

	// Per-peripheral event index of the SPIM end-of-transfer event
	SPIMEOTEvent = 3
)

// PeriphID returns the uDMA peripheral id of SPIM instance id
func PeriphID(id int) int {
	return FirstSPIMPeriph + id
}

// PeriphBase returns the register base of uDMA peripheral periph
func PeriphBase(periph int) uint32 {
	return UDMABase + uint32(periph+1)*UDMAPeriphSize
}

// RXChannel returns the receive channel of SPIM instance id
func RXChannel(id int) Channel {
	return Channel(PeriphBase(PeriphID(id)) + ChannelRXOffset)
}

// TXChannel returns the transmit channel of SPIM instance id
func TXChannel(id int) Channel {
	return Channel(PeriphBase(PeriphID(id)) + ChannelTXOffset)
}

// CMDChannel returns the command channel of SPIM instance id
func CMDChannel(id int) Channel {
	return Channel(PeriphBase(PeriphID(id)) + ChannelCMDOffset)
}

// EOTEvent returns the SoC event raised when SPIM instance id ends a transfer
func EOTEvent(id int) uint32 {
	return uint32(PeriphID(id)*EventsPerPeriph + SPIMEOTEvent)
}

// instanceFromEvent recovers the SPIM instance index from an EOT event code
func instanceFromEvent(evt uint32) int {
	return int((evt-SPIMEOTEvent)/EventsPerPeriph) - FirstSPIMPeriph
}

// DMA is the uDMA engine as seen by the driver.
// Enqueue is fire-and-forget: the hardware starts consuming buf once the
// channel reaches it. buf must stay valid until the transfer completes.
type DMA interface {
	// Enqueue queues size bytes of buf on channel ch
	Enqueue(ch Channel, buf []byte, size uint32, elem ElemSize)

	// Remaining returns the number of bytes still to be moved on ch
	Remaining(ch Channel) uint32

	// Clear stops ch and drops every queued buffer
	Clear(ch Channel)
}

// ClockGate enables or disables the clock of a uDMA peripheral
type ClockGate interface {
	EnableClock(periph int)
	DisableClock(periph int)
}

// EventMask controls which SoC events are forwarded to the fabric controller
type EventMask interface {
	SetEvent(evt uint32)
	ClearEvent(evt uint32)
}

// FreqSource reports the current peripheral domain frequency in Hz
type FreqSource interface {
	PeriphFreq() uint32
}

// Platform bundles the collaborators the driver needs.
// A single value usually implements all of them.
type Platform struct {
	DMA    DMA
	Clock  ClockGate
	Events EventMask
	Freq   FreqSource
}

func (p Platform) validate() error {
	if p.DMA == nil || p.Clock == nil || p.Events == nil || p.Freq == nil {
		return ErrParameter
	}
	return nil
}
