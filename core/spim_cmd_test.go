package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommandWords(t *testing.T) {
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"cfg div 5 cpol", EncodeCfg(5, true, false), 0x00000205},
		{"cfg div 0 cpha", EncodeCfg(0, false, true), 0x00000100},
		{"sot cs0", EncodeSOT(0), 0x10000000},
		{"sot masks cs", EncodeSOT(7), 0x10000003},
		{"send cmd rdid", EncodeSendCmd(0x9F, 8, false), 0x2007009F},
		{"send cmd qpi", EncodeSendCmd(0x06, 8, true), 0x28070006},
		{"tx 10 bytes", EncodeTxData(10, 0, 8, false, false), 0x60070009},
		{"rx 4 halfwords quad lsb", EncodeRxData(4, 0, 16, true, true), 0x7C0F0003},
		{"full duplex 2", EncodeFullDuplex(2, 0, 8, false), 0xC0070001},
		{"eot event", EncodeEOT(true, false), 0x90000001},
		{"eot keep cs", EncodeEOT(true, true), 0x90000003},
		{"eot silent", EncodeEOT(false, false), 0x90000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equalf(t, tt.want, tt.got, "got %#08x want %#08x", tt.got, tt.want)
		})
	}
}

func TestDecodeData(t *testing.T) {
	for _, bits := range []uint8{1, 8, 16, 32} {
		for _, words := range []uint32{1, 2, 255, MaxItems} {
			w := EncodeTxData(words, 0, bits, false, false)
			gw, gb := DecodeData(w)
			require.Equal(t, words, gw)
			require.Equal(t, bits, gb)
			require.Equal(t, uint32(CmdTxData), CmdOpcode(w))
		}
	}

	w := EncodeRxData(3, 0, 8, true, true)
	assert.True(t, DataQPI(w))
	assert.True(t, DataLSBFirst(w))
	assert.Equal(t, uint32(CmdRxData), CmdOpcode(w))

	w = EncodeFullDuplex(3, 0, 8, true)
	assert.False(t, DataQPI(w))
	assert.True(t, DataLSBFirst(w))
}

func TestMemoryMap(t *testing.T) {
	assert.Equal(t, Channel(0x1A102180), RXChannel(0))
	assert.Equal(t, Channel(0x1A102190), TXChannel(0))
	assert.Equal(t, Channel(0x1A1021A0), CMDChannel(0))
	assert.Equal(t, uint32(11), EOTEvent(0))

	for id := 0; id < MaxInstances; id++ {
		assert.Equal(t, id, instanceFromEvent(EOTEvent(id)))
	}
}
