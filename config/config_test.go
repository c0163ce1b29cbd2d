package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulpspim/core"
	"pulpspim/flash"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(50000000), cfg.Bus.PeriphHz)
	assert.Equal(t, uint32(1000000), cfg.Bus.BaudHz)
	assert.Equal(t, 8, cfg.Bus.Bits)
	assert.Equal(t, 0, cfg.Bus.Mode)
	assert.False(t, cfg.Bus.LSBFirst)
	assert.Equal(t, 0, cfg.Bus.SPIM)
	assert.Equal(t, int64(64<<20), cfg.Flash.Size)
	assert.Equal(t, int64(4096), cfg.Flash.SectorSize)
	assert.Equal(t, int64(256), cfg.Flash.PageSize)
	assert.Equal(t, uint32(0), cfg.Flash.Address)
	assert.Equal(t, flash.S25FSID[:], []byte(cfg.Flash.ExpectedID))
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Empty(t, cfg.Console.Device)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load([]byte(`{
		"bus": {"baud_hz": 10000000, "mode": 3, "lsb_first": true},
		"flash": {"size": 16777216, "address": 8192, "expected_id": "01 02 19"},
		"console": {"device": "/dev/ttyUSB1"},
		"skip_quad": true,
		"timeout_ms": 250
	}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint32(10000000), cfg.Bus.BaudHz)
	assert.Equal(t, 3, cfg.Bus.Mode)
	assert.Equal(t, int64(16<<20), cfg.Flash.Size)
	assert.Equal(t, uint32(0x2000), cfg.Flash.Address)
	assert.Equal(t, HexBytes{0x01, 0x02, 0x19}, cfg.Flash.ExpectedID)
	assert.Equal(t, 115200, cfg.Console.Baud)
	assert.True(t, cfg.SkipQuad)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout())

	w := cfg.Bus.ControlWord()
	assert.Equal(t, uint32(core.ModeMaster), w&core.ControlMask)
	assert.Equal(t, uint32(core.CPOL1CPHA1), w&core.FrameFormatMask)
	assert.Equal(t, core.DataBits(8), w&core.ControlDataBitsMask)
	assert.Equal(t, uint32(core.LSBFirst), w&core.BitOrderMask)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load([]byte(`{"bus":`))
	require.Error(t, err)

	_, err = Load([]byte(`{"flash": {"expected_id": "zz"}}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Test)
	}{
		{"spim", func(c *Test) { c.Bus.SPIM = core.MaxInstances }},
		{"bits", func(c *Test) { c.Bus.Bits = 33 }},
		{"mode", func(c *Test) { c.Bus.Mode = 4 }},
		{"baud too fast", func(c *Test) { c.Bus.BaudHz = c.Bus.PeriphHz + 1 }},
		{"baud too slow", func(c *Test) { c.Bus.BaudHz = c.Bus.PeriphHz >> 9 }},
		{"page", func(c *Test) { c.Flash.PageSize = 300 }},
		{"page over sector", func(c *Test) { c.Flash.PageSize = 8192 }},
		{"size", func(c *Test) { c.Flash.Size = 5000 }},
		{"address unaligned", func(c *Test) { c.Flash.Address = 0x100 }},
		{"address outside", func(c *Test) { c.Flash.Address = 64 << 20 }},
		{"id too long", func(c *Test) { c.Flash.ExpectedID = make(HexBytes, flash.IDSize+1) }},
		{"timeout", func(c *Test) { c.TimeoutMS = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestHexBytesRoundTrip(t *testing.T) {
	data, err := json.Marshal(HexBytes{0xDE, 0xAD})
	require.NoError(t, err)
	assert.Equal(t, `"dead"`, string(data))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"debug": true}`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
