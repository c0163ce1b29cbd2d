// Package sim models the parts of a PULP SoC the SPIM driver talks to: the
// uDMA channels, the SPIM command interpreter, clock gating, the SoC event
// mask and the fabric controller event FIFO. It lets the driver run on a
// host and gives tests a spy on every enqueue.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulpspim/core"
)

// Mode selects when enqueued command blocks execute
type Mode int

const (
	// Immediate runs the SPIM as soon as anything is enqueued
	Immediate Mode = iota
	// Manual runs the SPIM only from Step, Run or Start
	Manual
)

// Enqueue is one recorded DMA enqueue
type Enqueue struct {
	Channel core.Channel
	Size    uint32
	Elem    core.ElemSize
}

// DefaultFreq is the peripheral domain frequency used when none is set
const DefaultFreq = 50000000

// SoC implements core.DMA, core.ClockGate, core.EventMask and core.FreqSource
type SoC struct {
	mu      sync.Mutex
	log     *zap.Logger
	mode    Mode
	freq    uint32
	clocks  uint64
	events  [core.MaxEvents / 64]uint64
	chans   map[core.Channel]*channel
	spims   [core.MaxInstances]*spim
	trap    func(evt uint32)
	pending []uint32
	history []Enqueue
	dropped int
}

// Option configures a SoC
type Option func(*SoC)

// WithLogger sets the logger for bus level tracing
func WithLogger(log *zap.Logger) Option {
	return func(s *SoC) {
		if log != nil {
			s.log = log
		}
	}
}

// WithFreq sets the peripheral domain frequency
func WithFreq(hz uint32) Option {
	return func(s *SoC) {
		s.freq = hz
	}
}

// WithMode sets the execution mode
func WithMode(m Mode) Option {
	return func(s *SoC) {
		s.mode = m
	}
}

// WithDevice attaches dev to chip select 0 of SPIM instance id
func WithDevice(id int, dev Device) Option {
	return func(s *SoC) {
		s.spims[id].dev = dev
	}
}

// New builds a SoC with every SPIM instance present and no devices attached
func New(opts ...Option) *SoC {
	s := &SoC{
		log:   zap.NewNop(),
		freq:  DefaultFreq,
		chans: make(map[core.Channel]*channel),
	}
	for id := range s.spims {
		s.spims[id] = &spim{id: id}
		s.chans[core.RXChannel(id)] = &channel{}
		s.chans[core.TXChannel(id)] = &channel{}
		s.chans[core.CMDChannel(id)] = &channel{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platform returns the core.Platform backed by s
func (s *SoC) Platform() core.Platform {
	return core.Platform{DMA: s, Clock: s, Events: s, Freq: s}
}

// SetTrap installs the fabric controller trap entry. Every delivered event
// is passed to it, outside the SoC lock.
func (s *SoC) SetTrap(trap func(evt uint32)) {
	s.mu.Lock()
	s.trap = trap
	s.mu.Unlock()
}

// Enqueue implements core.DMA
func (s *SoC) Enqueue(ch core.Channel, buf []byte, size uint32, elem core.ElemSize) {
	s.mu.Lock()
	s.history = append(s.history, Enqueue{Channel: ch, Size: size, Elem: elem})

	c, ok := s.chans[ch]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("enqueue on unknown channel", zap.Uint32("channel", uint32(ch)))
		return
	}
	if size > uint32(len(buf)) {
		size = uint32(len(buf))
	}

	if id, ok := s.cmdOwner(ch); ok {
		// The command interpreter fetches the whole block at once
		p := s.spims[id]
		for i := uint32(0); i+4 <= size; i += 4 {
			p.prog = append(p.prog, uint32(buf[i])|uint32(buf[i+1])<<8|uint32(buf[i+2])<<16|uint32(buf[i+3])<<24)
		}
	} else {
		c.queue = append(c.queue, &transfer{buf: buf, size: size})
	}

	if s.mode == Immediate {
		s.stepLocked(math.MaxInt)
	}
	s.deliverUnlock()
}

// Remaining implements core.DMA
func (s *SoC) Remaining(ch core.Channel) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chans[ch]; ok {
		return c.remaining()
	}
	return 0
}

// Clear implements core.DMA
func (s *SoC) Clear(ch core.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chans[ch]
	if !ok {
		return
	}
	c.queue = nil
	if id, ok := s.cmdOwner(ch); ok {
		s.spims[id].reset()
	}
}

// EnableClock implements core.ClockGate
func (s *SoC) EnableClock(periph int) {
	s.mu.Lock()
	s.clocks |= 1 << uint(periph)
	if s.mode == Immediate {
		s.stepLocked(math.MaxInt)
	}
	s.deliverUnlock()
}

// DisableClock implements core.ClockGate
func (s *SoC) DisableClock(periph int) {
	s.mu.Lock()
	s.clocks &^= 1 << uint(periph)
	s.mu.Unlock()
}

// ClockEnabled reports whether periph is clocked
func (s *SoC) ClockEnabled(periph int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clocks&(1<<uint(periph)) != 0
}

// SetEvent implements core.EventMask
func (s *SoC) SetEvent(evt uint32) {
	if evt >= core.MaxEvents {
		return
	}
	s.mu.Lock()
	s.events[evt/64] |= 1 << (evt % 64)
	s.mu.Unlock()
}

// ClearEvent implements core.EventMask
func (s *SoC) ClearEvent(evt uint32) {
	if evt >= core.MaxEvents {
		return
	}
	s.mu.Lock()
	s.events[evt/64] &^= 1 << (evt % 64)
	s.mu.Unlock()
}

// EventEnabled reports whether evt is forwarded to the fabric controller
func (s *SoC) EventEnabled(evt uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventEnabledLocked(evt)
}

// PeriphFreq implements core.FreqSource
func (s *SoC) PeriphFreq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freq
}

// SetFreq changes the peripheral domain frequency
func (s *SoC) SetFreq(hz uint32) {
	s.mu.Lock()
	s.freq = hz
	s.mu.Unlock()
}

// Inject delivers evt to the trap as if the hardware had raised it,
// bypassing the event mask
func (s *SoC) Inject(evt uint32) {
	s.mu.Lock()
	s.pending = append(s.pending, evt)
	s.deliverUnlock()
}

// Step runs every clocked SPIM for at most budget DMA bytes and delivers the
// events raised meanwhile. It returns the number of bytes moved.
func (s *SoC) Step(budget int) int {
	s.mu.Lock()
	moved := s.stepLocked(budget)
	s.deliverUnlock()
	return moved
}

// Run steps until no SPIM can make progress
func (s *SoC) Run() int {
	return s.Step(math.MaxInt)
}

// Start steps bytesPerTick bytes every tick until ctx is done
func (s *SoC) Start(ctx context.Context, tick time.Duration, bytesPerTick int) {
	go func() {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Step(bytesPerTick)
			}
		}
	}()
}

// History returns a copy of every enqueue seen so far
func (s *SoC) History() []Enqueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Enqueue(nil), s.history...)
}

// ResetHistory forgets the recorded enqueues
func (s *SoC) ResetHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// Dropped returns the number of events raised while masked
func (s *SoC) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// ChipSelect reports whether chip select 0 of SPIM id is asserted
func (s *SoC) ChipSelect(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spims[id].cs
}

// Idle reports whether SPIM id has no command left to run
func (s *SoC) Idle(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.spims[id]
	return p.cur == nil && len(p.prog) == 0
}

func (s *SoC) cmdOwner(ch core.Channel) (int, bool) {
	for id := range s.spims {
		if core.CMDChannel(id) == ch {
			return id, true
		}
	}
	return 0, false
}

func (s *SoC) eventEnabledLocked(evt uint32) bool {
	return evt < core.MaxEvents && s.events[evt/64]&(1<<(evt%64)) != 0
}

func (s *SoC) raiseLocked(evt uint32) {
	if !s.eventEnabledLocked(evt) {
		s.dropped++
		return
	}
	s.pending = append(s.pending, evt)
}

func (s *SoC) stepLocked(budget int) int {
	moved := 0
	for _, p := range s.spims {
		if s.clocks&(1<<uint(core.PeriphID(p.id))) == 0 {
			continue
		}
		moved += p.run(s, budget-moved)
	}
	return moved
}

// deliverUnlock releases the lock and hands pending events to the trap.
// Handlers may enqueue again, which nests another delivery.
func (s *SoC) deliverUnlock() {
	events := s.pending
	s.pending = nil
	trap := s.trap
	s.mu.Unlock()

	if trap == nil {
		return
	}
	for _, evt := range events {
		trap(evt)
	}
}

// BusConfig returns the clock configuration last executed by SPIM id
func (s *SoC) BusConfig(id int) (clockDiv uint8, cpol, cpha bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.spims[id]
	return p.clockDiv, p.cpol, p.cpha
}
