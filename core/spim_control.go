package core

import "go.uber.org/zap"

// Control word layout
const (
	ControlPos  = 0
	ControlMask = 0xFF << ControlPos

	// Mode sub-protocol (ControlMiscellaneous clear)
	ModeInactive = 0x00 << ControlPos // SPI inactive, aborts any transfer
	ModeMaster   = 0x01 << ControlPos // SPI master; arg = bus speed in bps

	FrameFormatPos  = 8
	FrameFormatMask = 7 << FrameFormatPos
	CPOL0CPHA0      = 0 << FrameFormatPos // mode 0 (default)
	CPOL0CPHA1      = 1 << FrameFormatPos // mode 1
	CPOL1CPHA0      = 2 << FrameFormatPos // mode 2
	CPOL1CPHA1      = 3 << FrameFormatPos // mode 3

	DataBitsPos         = 12
	ControlDataBitsMask = 0x3F << DataBitsPos

	BitOrderPos  = 18
	BitOrderMask = 1 << BitOrderPos
	MSBFirst     = 0 << BitOrderPos // default
	LSBFirst     = 1 << BitOrderPos

	// Miscellaneous sub-protocol, selected by ControlMiscellaneous
	ControlMiscellaneous     = 0x10 << ControlPos
	ControlSetBusSpeed       = 0x10 << ControlPos // arg = bus speed in bps
	ControlGetBusSpeed       = 0x11 << ControlPos
	ControlSetDefaultTxValue = 0x12 << ControlPos // not supported
	ControlAbortTransfer     = 0x14 << ControlPos
)

// DataBits encodes a word width for the control word
func DataBits(n uint32) uint32 {
	return (n & 0x3F) << DataBitsPos
}

// Control configures the instance. The mode sub-protocol sets mode, frame
// format, word width and bit order; the miscellaneous sub-protocol sets or
// reads the bus speed or aborts. ControlGetBusSpeed returns the speed as the
// value result.
//
// Configuration is applied even when an error is returned: an invalid word
// width falls back to 8 bits and reports ErrDataBits. The size class and the
// SOT/EOT words are re-derived on every call, whichever sub-protocol ran.
func (d *Driver) Control(control, arg uint32) (uint32, error) {
	var (
		err   error
		value uint32
	)
	freq := d.platform.Freq.PeriphFreq()

	if control&ControlMiscellaneous != 0 {
		switch control {
		case ControlSetBusSpeed:
			if div, ok := ClockDivider(freq, arg); ok {
				d.cmd[cmdCfgSlot] = d.cmd[cmdCfgSlot]&^CfgClockDivMask | uint32(div)
			} else {
				err = ErrMode
			}
		case ControlGetBusSpeed:
			value = BusSpeed(freq, uint8(d.cmd[cmdCfgSlot]&CfgClockDivMask))
		case ControlAbortTransfer:
			d.AbortTransfer()
		default:
			err = ErrParameter
		}
	} else {
		div := uint8(d.cmd[cmdCfgSlot] & CfgClockDivMask)
		switch control & ControlMask {
		case ModeMaster:
			if nd, ok := ClockDivider(freq, arg); ok {
				div = nd
				d.platform.Clock.EnableClock(PeriphID(d.id))
			} else {
				err = ErrMode
			}
		case ModeInactive:
			d.AbortTransfer()
		default:
			err = ErrMode
		}

		frame := control & FrameFormatMask
		if frame > CPOL1CPHA1 {
			frame &= CPOL1CPHA1
			err = ErrFrameFormat
		}
		d.cmd[cmdCfgSlot] = uint32(CmdCfg)<<CmdIDOffset | frame | uint32(div)

		bits := (control & ControlDataBitsMask) >> DataBitsPos
		if bits < 1 || bits > 32 {
			bits = 8
			err = ErrDataBits
		}
		d.bitsWord = uint8(bits)
		d.lsbFirst = control&BitOrderMask != 0
	}

	d.applyWordSize()
	d.cmd[cmdSOTSlot] = EncodeSOT(0)
	d.cmd[cmdEOTSlot] = EncodeEOT(true, false)

	d.trace.Record(EvtControl, uint8(d.id), control, uint32(int32(StatusOf(err))))
	if err != nil {
		d.log.Debug("control", zap.Uint32("control", control), zap.Uint32("arg", arg), zap.Error(err))
	}
	return value, err
}

// ClockDivider computes the SPIM clock divider for baud. baud is accepted
// when freq/512 < baud <= freq.
func ClockDivider(freq, baud uint32) (uint8, bool) {
	if baud > freq || baud <= freq>>9 {
		return 0, false
	}
	return uint8(uint64(freq) / (uint64(baud) << 1)), true
}

// BusSpeed returns the bus speed produced by div
func BusSpeed(freq uint32, div uint8) uint32 {
	if div == 0 {
		return freq
	}
	return freq / (uint32(div) << 1)
}
