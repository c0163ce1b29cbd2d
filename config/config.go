// Package config holds the board and test configuration of the flash
// regression tool
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"pulpspim/core"
	"pulpspim/flash"
)

// Test is the complete tool configuration
type Test struct {
	Bus       BusConfig     `json:"bus"`
	Flash     FlashConfig   `json:"flash"`
	Sim       SimConfig     `json:"sim"`
	Console   ConsoleConfig `json:"console"`
	SkipQuad  bool          `json:"skip_quad"`
	TimeoutMS int           `json:"timeout_ms"`
	Debug     bool          `json:"debug"`
}

// BusConfig selects the SPIM instance and its bus settings
type BusConfig struct {
	SPIM     int    `json:"spim"`
	PeriphHz uint32 `json:"periph_hz"`
	BaudHz   uint32 `json:"baud_hz"`
	Bits     int    `json:"bits"`
	Mode     int    `json:"mode"` // 0..3, CPOL<<1 | CPHA
	LSBFirst bool   `json:"lsb_first"`
}

// FlashConfig describes the flash and the scratch area the test may erase
type FlashConfig struct {
	Size       int64    `json:"size"`
	SectorSize int64    `json:"sector_size"`
	PageSize   int64    `json:"page_size"`
	Address    uint32   `json:"address"`
	ExpectedID HexBytes `json:"expected_id"`
}

// SimConfig tunes the simulated flash
type SimConfig struct {
	EraseBusyPolls   int `json:"erase_busy_polls"`
	ProgramBusyPolls int `json:"program_busy_polls"`
}

// ConsoleConfig sends the log to a serial port when Device is set
type ConsoleConfig struct {
	Device string `json:"device"`
	Baud   int    `json:"baud"`
}

// HexBytes is a byte string written as hex in JSON. Spaces are allowed.
type HexBytes []byte

// UnmarshalJSON implements json.Unmarshaler
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}
	*h = b
	return nil
}

// MarshalJSON implements json.Marshaler
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

// Timeout returns the poll timeout
func (t *Test) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// ControlWord returns the mode sub-protocol control word for the bus settings
func (b BusConfig) ControlWord() uint32 {
	w := uint32(core.ModeMaster) | uint32(b.Mode&3)<<core.FrameFormatPos | core.DataBits(uint32(b.Bits))
	if b.LSBFirst {
		w |= core.LSBFirst
	}
	return w
}

// Load parses a JSON configuration and applies defaults
func Load(data []byte) (*Test, error) {
	var cfg Test
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFile reads and parses path
func LoadFile(path string) (*Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Load(data)
}

// Default returns the configuration of the reference board
func Default() *Test {
	var cfg Test
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults fills in missing values
func applyDefaults(cfg *Test) {
	if cfg.Bus.PeriphHz == 0 {
		cfg.Bus.PeriphHz = 50000000
	}
	if cfg.Bus.BaudHz == 0 {
		cfg.Bus.BaudHz = 1000000
	}
	if cfg.Bus.Bits == 0 {
		cfg.Bus.Bits = 8
	}

	if cfg.Flash.Size == 0 {
		cfg.Flash.Size = 64 << 20
	}
	if cfg.Flash.SectorSize == 0 {
		cfg.Flash.SectorSize = flash.SectorSize
	}
	if cfg.Flash.PageSize == 0 {
		cfg.Flash.PageSize = flash.PageSize
	}
	if cfg.Flash.ExpectedID == nil {
		cfg.Flash.ExpectedID = append(HexBytes(nil), flash.S25FSID[:]...)
	}

	if cfg.Sim.EraseBusyPolls == 0 {
		cfg.Sim.EraseBusyPolls = 3
	}
	if cfg.Sim.ProgramBusyPolls == 0 {
		cfg.Sim.ProgramBusyPolls = 2
	}

	if cfg.Console.Device != "" && cfg.Console.Baud == 0 {
		cfg.Console.Baud = 115200
	}
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = 5000
	}
}

// Validate rejects settings the hardware cannot run
func (t *Test) Validate() error {
	b := t.Bus
	if b.SPIM < 0 || b.SPIM >= core.MaxInstances {
		return fmt.Errorf("bus.spim %d out of range", b.SPIM)
	}
	if b.Bits < 1 || b.Bits > 32 {
		return fmt.Errorf("bus.bits %d out of range", b.Bits)
	}
	if b.Mode < 0 || b.Mode > 3 {
		return fmt.Errorf("bus.mode %d out of range", b.Mode)
	}
	if _, ok := core.ClockDivider(b.PeriphHz, b.BaudHz); !ok {
		return fmt.Errorf("bus.baud_hz %d not reachable from %d Hz", b.BaudHz, b.PeriphHz)
	}

	f := t.Flash
	if !pow2(f.PageSize) || !pow2(f.SectorSize) || f.PageSize > f.SectorSize {
		return fmt.Errorf("flash geometry page %d sector %d invalid", f.PageSize, f.SectorSize)
	}
	if f.Size < f.SectorSize || f.Size%f.SectorSize != 0 {
		return fmt.Errorf("flash.size %d is not a whole number of sectors", f.Size)
	}
	if int64(f.Address)%f.SectorSize != 0 || int64(f.Address) >= f.Size {
		return fmt.Errorf("flash.address %#x must be a sector inside the array", f.Address)
	}
	if len(f.ExpectedID) > flash.IDSize {
		return fmt.Errorf("flash.expected_id longer than %d bytes", flash.IDSize)
	}

	if t.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms %d is negative", t.TimeoutMS)
	}
	return nil
}

func pow2(n int64) bool {
	return n > 0 && n&(n-1) == 0
}
