package core

import "sync/atomic"

// MaxEvents is the number of SoC event codes the fabric controller can see
const MaxEvents = 256

// EventHandler runs in interrupt context with the raw SoC event code.
// It must not block or allocate.
type EventHandler func(evt uint32)

// EventTable demultiplexes the single SoC event line into per-event
// handlers. The platform's trap entry reads the event FIFO and calls Handle;
// saving and restoring registers around it is the platform's job.
type EventTable struct {
	handlers [MaxEvents]atomic.Pointer[EventHandler]
}

// NewEventTable returns an empty table
func NewEventTable() *EventTable {
	return &EventTable{}
}

// SetHandler binds h to evt, replacing any previous handler. A nil h unbinds.
// Interrupts are masked while the slot changes.
func (t *EventTable) SetHandler(evt uint32, h EventHandler) error {
	if evt >= MaxEvents {
		return ErrParameter
	}

	state := disableInterrupts()
	defer restoreInterrupts(state)

	if h == nil {
		t.handlers[evt].Store(nil)
		return nil
	}
	t.handlers[evt].Store(&h)
	return nil
}

// Handler returns the handler bound to evt, or nil
func (t *EventTable) Handler(evt uint32) EventHandler {
	if evt >= MaxEvents {
		return nil
	}
	if h := t.handlers[evt].Load(); h != nil {
		return *h
	}
	return nil
}

// Handle dispatches evt. Unknown or unbound codes are dropped.
func (t *EventTable) Handle(evt uint32) {
	if h := t.Handler(evt); h != nil {
		h(evt)
	}
}
