package core

// SPIM command descriptor opcodes (bits 31..28 of each command word)
const (
	CmdCfg        = 0
	CmdSOT        = 1
	CmdSendCmd    = 2
	CmdDummy      = 4
	CmdWait       = 5
	CmdTxData     = 6
	CmdRxData     = 7
	CmdRepeat     = 8
	CmdEOT        = 9
	CmdRepeatEnd  = 10
	CmdRxCheck    = 11
	CmdFullDuplex = 12

	CmdIDOffset = 28
)

// Command word fields
const (
	CfgClockDivMask = 0xFF
	CfgCPHABit      = 1 << 8
	CfgCPOLBit      = 1 << 9

	SOTCSMask = 0x3

	SendCmdValueMask = 0xFFFF

	DataWordsMask      = 0xFFFF // words-1
	DataBitsOffset     = 16     // bits-1, 5 bits
	DataBitsMask       = 0x1F
	DataPerXferOffset  = 21 // words per transfer, 2 bits
	DataLSBFirstOffset = 26
	DataQPIOffset      = 27

	EOTEventEnable = 1 << 0
	EOTKeepCS      = 1 << 1
)

// cmdSlot indexes the fixed 4-word command block
const (
	cmdCfgSlot = iota // clock configuration
	cmdSOTSlot        // assert chip select
	cmdRunSlot        // run the transfer
	cmdEOTSlot        // release chip select, raise event
	cmdSlots
)

// CmdBlockSize is the size in bytes of the command block enqueued per transaction
const CmdBlockSize = cmdSlots * 4

// MaxItems is the largest item count a single TX/RX/FUL command can encode
const MaxItems = DataWordsMask + 1

// CmdOpcode extracts the opcode of a command word
func CmdOpcode(w uint32) uint32 {
	return w >> CmdIDOffset
}

// EncodeCfg builds the clock configuration word
func EncodeCfg(clockDiv uint8, cpol, cpha bool) uint32 {
	w := uint32(CmdCfg)<<CmdIDOffset | uint32(clockDiv)
	if cpol {
		w |= CfgCPOLBit
	}
	if cpha {
		w |= CfgCPHABit
	}
	return w
}

// EncodeSOT asserts chip select cs
func EncodeSOT(cs uint8) uint32 {
	return uint32(CmdSOT)<<CmdIDOffset | uint32(cs)&SOTCSMask
}

// EncodeSendCmd sends value inline, without a TX buffer
func EncodeSendCmd(value uint16, bits uint8, qpi bool) uint32 {
	return uint32(CmdSendCmd)<<CmdIDOffset |
		b2u(qpi)<<DataQPIOffset |
		(uint32(bits-1)&DataBitsMask)<<DataBitsOffset |
		uint32(value)&SendCmdValueMask
}

// EncodeTxData sends words items of bits bits from the TX channel
func EncodeTxData(words uint32, perXfer uint8, bits uint8, qpi, lsbFirst bool) uint32 {
	return encodeData(CmdTxData, words, perXfer, bits, qpi, lsbFirst)
}

// EncodeRxData receives words items of bits bits into the RX channel
func EncodeRxData(words uint32, perXfer uint8, bits uint8, qpi, lsbFirst bool) uint32 {
	return encodeData(CmdRxData, words, perXfer, bits, qpi, lsbFirst)
}

// EncodeFullDuplex sends and receives words items at the same time
func EncodeFullDuplex(words uint32, perXfer uint8, bits uint8, lsbFirst bool) uint32 {
	return encodeData(CmdFullDuplex, words, perXfer, bits, false, lsbFirst)
}

// EncodeEOT ends the transfer. keepCS leaves chip select asserted so that the
// next command block continues the same bus transaction.
func EncodeEOT(event, keepCS bool) uint32 {
	w := uint32(CmdEOT) << CmdIDOffset
	if event {
		w |= EOTEventEnable
	}
	if keepCS {
		w |= EOTKeepCS
	}
	return w
}

func encodeData(op uint32, words uint32, perXfer uint8, bits uint8, qpi, lsbFirst bool) uint32 {
	return op<<CmdIDOffset |
		b2u(qpi)<<DataQPIOffset |
		b2u(lsbFirst)<<DataLSBFirstOffset |
		(uint32(perXfer)&0x3)<<DataPerXferOffset |
		(uint32(bits-1)&DataBitsMask)<<DataBitsOffset |
		(words-1)&DataWordsMask
}

// DecodeData returns the item count and word width of a TX/RX/FUL word
func DecodeData(w uint32) (words uint32, bits uint8) {
	return w&DataWordsMask + 1, uint8(w>>DataBitsOffset&DataBitsMask) + 1
}

// DataQPI reports whether a data or send-cmd word requests quad mode
func DataQPI(w uint32) bool {
	return w>>DataQPIOffset&1 != 0
}

// DataLSBFirst reports whether a data word shifts LSB first
func DataLSBFirst(w uint32) bool {
	return w>>DataLSBFirstOffset&1 != 0
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
