package sim

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulpspim/core"
)

// recorder is a Device that logs what it sees and echoes out+1
type recorder struct {
	selects   int
	deselects int
	out       []byte
	quad      []bool
}

func (r *recorder) Select() { r.selects++ }
func (r *recorder) Deselect() { r.deselects++ }

func (r *recorder) Exchange(out byte, quad bool) byte {
	r.out = append(r.out, out)
	r.quad = append(r.quad, quad)
	return out + 1
}

func cmdBlock(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

func newRecorderSoC(mode Mode) (*SoC, *recorder, *[]uint32) {
	dev := &recorder{}
	s := New(WithDevice(0, dev), WithMode(mode))
	var events []uint32
	s.SetTrap(func(evt uint32) { events = append(events, evt) })
	s.EnableClock(core.PeriphID(0))
	s.SetEvent(core.EOTEvent(0))
	return s, dev, &events
}

func TestSendCmdShiftsMSBFirst(t *testing.T) {
	s, dev, events := newRecorderSoC(Immediate)

	blk := cmdBlock(
		core.EncodeCfg(4, true, false),
		core.EncodeSOT(0),
		core.EncodeSendCmd(0xABCD, 16, true),
		core.EncodeEOT(true, false),
	)
	s.Enqueue(core.CMDChannel(0), blk, uint32(len(blk)), core.ElemSize32)

	assert.Equal(t, []byte{0xAB, 0xCD}, dev.out)
	assert.Equal(t, []bool{true, true}, dev.quad)
	assert.Equal(t, 1, dev.selects)
	assert.Equal(t, 1, dev.deselects)
	assert.Equal(t, []uint32{core.EOTEvent(0)}, *events)

	div, cpol, cpha := s.BusConfig(0)
	assert.Equal(t, uint8(4), div)
	assert.True(t, cpol)
	assert.False(t, cpha)
}

func TestFullDuplexMovesBothChannels(t *testing.T) {
	s, dev, events := newRecorderSoC(Immediate)

	out := []byte{1, 2, 3}
	in := make([]byte, 3)
	s.Enqueue(core.RXChannel(0), in, 3, core.ElemSize8)
	s.Enqueue(core.TXChannel(0), out, 3, core.ElemSize8)
	blk := cmdBlock(core.EncodeSOT(0), core.EncodeFullDuplex(3, 0, 8, false), core.EncodeEOT(true, true))
	s.Enqueue(core.CMDChannel(0), blk, uint32(len(blk)), core.ElemSize32)

	assert.Equal(t, out, dev.out)
	assert.Equal(t, []byte{2, 3, 4}, in)
	assert.Len(t, *events, 1)
	assert.True(t, s.ChipSelect(0))
	assert.Zero(t, s.Remaining(core.RXChannel(0)))
	assert.Zero(t, s.Remaining(core.TXChannel(0)))
}

func TestStarvedChannelStalls(t *testing.T) {
	s, dev, events := newRecorderSoC(Immediate)

	blk := cmdBlock(core.EncodeSOT(0), core.EncodeTxData(4, 0, 8, false, false), core.EncodeEOT(true, false))
	s.Enqueue(core.CMDChannel(0), blk, uint32(len(blk)), core.ElemSize32)
	assert.Empty(t, dev.out)
	assert.Empty(t, *events)
	assert.False(t, s.Idle(0))

	s.Enqueue(core.TXChannel(0), []byte{9, 8, 7, 6}, 4, core.ElemSize8)
	assert.Equal(t, []byte{9, 8, 7, 6}, dev.out)
	assert.Len(t, *events, 1)
	assert.True(t, s.Idle(0))
}

func TestClockGateStopsProgress(t *testing.T) {
	s, dev, _ := newRecorderSoC(Manual)
	s.DisableClock(core.PeriphID(0))

	s.Enqueue(core.TXChannel(0), []byte{1, 2}, 2, core.ElemSize8)
	blk := cmdBlock(core.EncodeSOT(0), core.EncodeTxData(2, 0, 8, false, false), core.EncodeEOT(true, false))
	s.Enqueue(core.CMDChannel(0), blk, uint32(len(blk)), core.ElemSize32)

	assert.Zero(t, s.Run())
	assert.Empty(t, dev.out)

	s.EnableClock(core.PeriphID(0))
	assert.Equal(t, 2, s.Run())
	assert.Equal(t, []byte{1, 2}, dev.out)
}

func TestHistoryAndUnknownChannel(t *testing.T) {
	s := New()
	s.Enqueue(core.Channel(0xDEAD), make([]byte, 4), 4, core.ElemSize8)
	s.Enqueue(core.TXChannel(1), make([]byte, 4), 4, core.ElemSize8)

	hist := s.History()
	require.Len(t, hist, 2)
	assert.Equal(t, core.TXChannel(1), hist[1].Channel)
	assert.Equal(t, uint32(4), s.Remaining(core.TXChannel(1)))
	assert.Zero(t, s.Remaining(core.Channel(0xDEAD)))

	s.Clear(core.TXChannel(1))
	assert.Zero(t, s.Remaining(core.TXChannel(1)))

	s.ResetHistory()
	assert.Empty(t, s.History())
}

func TestPeriphFreq(t *testing.T) {
	s := New(WithFreq(100000000))
	assert.Equal(t, uint32(100000000), s.PeriphFreq())
	s.SetFreq(DefaultFreq)
	assert.Equal(t, uint32(DefaultFreq), s.PeriphFreq())
}
