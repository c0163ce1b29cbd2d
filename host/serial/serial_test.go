package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyUSB1")
	assert.Equal(t, "/dev/ttyUSB1", cfg.Device)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 100, cfg.ReadTimeout)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)

	_, err = Open(&Config{Baud: 115200})
	require.Error(t, err)

	_, err = Open(DefaultConfig("/dev/does-not-exist-spim"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open serial port /dev/does-not-exist-spim")
}
