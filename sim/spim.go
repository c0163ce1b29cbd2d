package sim

import (
	"go.uber.org/zap"

	"pulpspim/core"
)

// Device is a SPI slave on chip select 0. Exchange shifts one byte each way.
// quad tells the device which lane width the master used for that byte.
type Device interface {
	Select()
	Deselect()
	Exchange(out byte, quad bool) byte
}

type transfer struct {
	buf  []byte
	size uint32
	done uint32
}

type channel struct {
	queue []*transfer
}

func (c *channel) remaining() uint32 {
	var n uint32
	for _, t := range c.queue {
		n += t.size - t.done
	}
	return n
}

// head returns the transfer the channel is working on, or nil when starved
func (c *channel) head() *transfer {
	for len(c.queue) > 0 {
		t := c.queue[0]
		if t.done < t.size {
			return t
		}
		c.queue = c.queue[1:]
	}
	return nil
}

// dataOp is a TX, RX or full duplex command in progress
type dataOp struct {
	opcode uint32
	left   uint32 // bytes left on the wire
	quad   bool
}

type spim struct {
	id   int
	dev  Device
	prog []uint32
	cur  *dataOp

	cs       bool
	clockDiv uint8
	cpol     bool
	cpha     bool
}

func (p *spim) reset() {
	p.prog = nil
	p.cur = nil
	if p.cs {
		p.cs = false
		if p.dev != nil {
			p.dev.Deselect()
		}
	}
}

func (p *spim) exchange(out byte, quad bool) byte {
	if p.dev == nil || !p.cs {
		return 0xFF
	}
	return p.dev.Exchange(out, quad)
}

// run executes commands until the program ends, a channel starves or the
// budget of DMA bytes is spent
func (p *spim) run(s *SoC, budget int) int {
	moved := 0
	for {
		if p.cur != nil {
			n, done := p.advance(s, budget-moved)
			moved += n
			if !done {
				return moved
			}
			p.cur = nil
			continue
		}
		if len(p.prog) == 0 {
			return moved
		}

		w := p.prog[0]
		p.prog = p.prog[1:]
		p.exec(s, w)
	}
}

func (p *spim) exec(s *SoC, w uint32) {
	switch core.CmdOpcode(w) {
	case core.CmdCfg:
		p.clockDiv = uint8(w & core.CfgClockDivMask)
		p.cpol = w&core.CfgCPOLBit != 0
		p.cpha = w&core.CfgCPHABit != 0
	case core.CmdSOT:
		if !p.cs {
			p.cs = true
			if p.dev != nil {
				p.dev.Select()
			}
		}
	case core.CmdSendCmd:
		_, bits := core.DecodeData(w)
		n := int(bits+7) / 8
		if n > 2 {
			n = 2
		}
		v := w & core.SendCmdValueMask
		for i := n - 1; i >= 0; i-- {
			p.exchange(byte(v>>(8*uint(i))), core.DataQPI(w))
		}
	case core.CmdTxData, core.CmdRxData, core.CmdFullDuplex:
		words, bits := core.DecodeData(w)
		p.cur = &dataOp{
			opcode: core.CmdOpcode(w),
			left:   words * bytesPerWord(bits),
			quad:   core.DataQPI(w),
		}
	case core.CmdEOT:
		if w&core.EOTKeepCS == 0 && p.cs {
			p.cs = false
			if p.dev != nil {
				p.dev.Deselect()
			}
		}
		if w&core.EOTEventEnable != 0 {
			s.raiseLocked(core.EOTEvent(p.id))
		}
	default:
		s.log.Debug("spim command ignored", zap.Int("spim", p.id), zap.Uint32("word", w))
	}
}

// advance moves bytes of the current data op. It reports done once every
// byte went over the wire.
func (p *spim) advance(s *SoC, budget int) (int, bool) {
	tx := s.chans[core.TXChannel(p.id)]
	rx := s.chans[core.RXChannel(p.id)]

	moved := 0
	for p.cur.left > 0 {
		switch p.cur.opcode {
		case core.CmdTxData:
			if budget-moved < 1 {
				return moved, false
			}
			t := tx.head()
			if t == nil {
				return moved, false
			}
			p.exchange(t.buf[t.done], p.cur.quad)
			t.done++
			moved++
		case core.CmdRxData:
			if budget-moved < 1 {
				return moved, false
			}
			t := rx.head()
			if t == nil {
				return moved, false
			}
			t.buf[t.done] = p.exchange(0xFF, p.cur.quad)
			t.done++
			moved++
		default:
			if budget-moved < 2 {
				return moved, false
			}
			tt, rt := tx.head(), rx.head()
			if tt == nil || rt == nil {
				return moved, false
			}
			rt.buf[rt.done] = p.exchange(tt.buf[tt.done], false)
			tt.done++
			rt.done++
			moved += 2
		}
		p.cur.left--
	}
	return moved, true
}

func bytesPerWord(bits uint8) uint32 {
	switch {
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	default:
		return 4
	}
}
