package flash

// S25FS-class command set. 4-byte address variants throughout.
const (
	CmdWriteRegisters   = 0x01 // WRR
	CmdWriteDisable     = 0x04 // WRDI
	CmdReadStatus1      = 0x05 // RDSR1
	CmdWriteEnable      = 0x06 // WREN
	Cmd4PageProgram     = 0x12 // 4PP
	Cmd4Read            = 0x13 // 4READ
	Cmd4SectorErase     = 0x21 // 4P4E, 4 KiB
	Cmd4QuadPageProgram = 0x34 // 4QPP
	Cmd4QuadOutRead     = 0x6C // 4QOREAD, one dummy byte after the address
	CmdReadID           = 0x9F // RDID, JEDEC ID followed by the CFI table
)

// Status register 1 bits
const (
	StatusWIP = 1 << 0 // Write in progress
	StatusWEL = 1 << 1 // Write enable latch
)

// Default geometry
const (
	PageSize   = 256
	SectorSize = 4096
	IDSize     = 81
)

// S25FSID is the RDID response of the S25FS flash on the reference board:
// manufacturer and device id, then the CFI query table.
var S25FSID = [IDSize]byte{
	0x01, 0x02, 0x19, 0x4D, 0x01, 0x80, 0x52, 0x30,
	0x81, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x51, 0x52, 0x59, 0x02, 0x00, 0x40, 0x00, 0x53,
	0x46, 0x51, 0x00, 0x27, 0x36, 0x00, 0x00, 0x06,
	0x08, 0x08, 0x10, 0x02, 0x02, 0x03, 0x03, 0x19,
	0x02, 0x01, 0x08, 0x00, 0x02, 0x1F, 0x00, 0x10,
	0x00, 0xFD, 0x01, 0x00, 0x01, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x50, 0x52, 0x49, 0x31, 0x33, 0x21, 0x02, 0x01,
	0x00, 0x08, 0x00, 0x01, 0x03, 0x00, 0x00, 0x07,
	0x01,
}
