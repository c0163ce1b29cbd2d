package core

import (
	"sync"

	"go.uber.org/zap"
)

// TraceEvent captures one driver event for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	Instance  uint8  // SPIM instance
	Seq       uint32 // Monotonic sequence number
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtSend     = 1 // Send enqueued (v1=items, v2=run word)
	EvtReceive  = 2 // Receive enqueued (v1=items, v2=run word)
	EvtTransfer = 3 // Transfer enqueued (v1=items, v2=run word)
	EvtComplete = 4 // EOT handled (v1=event code)
	EvtAbort    = 5 // Channels cleared
	EvtRejected = 6 // Request rejected (v1=status)
	EvtControl  = 7 // Control applied (v1=control word, v2=status)
)

const (
	TraceRingSize = 32 // Keep last 32 events
)

// Trace is a fixed-size ring of driver events. Record never allocates so it
// can run from the EOT handler.
type Trace struct {
	mu   sync.Mutex
	ring [TraceRingSize]TraceEvent
	head uint8
	seq  uint32
}

// Record appends an event, overwriting the oldest one
func (t *Trace) Record(eventType, instance uint8, value1, value2 uint32) {
	state := disableInterrupts()
	t.mu.Lock()
	t.seq++
	t.ring[t.head] = TraceEvent{
		EventType: eventType,
		Instance:  instance,
		Seq:       t.seq,
		Value1:    value1,
		Value2:    value2,
	}
	t.head = (t.head + 1) % TraceRingSize
	t.mu.Unlock()
	restoreInterrupts(state)
}

// Snapshot returns the recorded events, oldest first
func (t *Trace) Snapshot() []TraceEvent {
	state := disableInterrupts()
	t.mu.Lock()
	defer func() {
		t.mu.Unlock()
		restoreInterrupts(state)
	}()

	events := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := t.ring[(t.head+i)%TraceRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

// Clear empties the ring
func (t *Trace) Clear() {
	state := disableInterrupts()
	t.mu.Lock()
	t.ring = [TraceRingSize]TraceEvent{}
	t.head = 0
	t.mu.Unlock()
	restoreInterrupts(state)
}

// EventName returns a short name for a trace event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtSend:
		return "SEND"
	case EvtReceive:
		return "RECEIVE"
	case EvtTransfer:
		return "TRANSFER"
	case EvtComplete:
		return "EOT"
	case EvtAbort:
		return "ABORT"
	case EvtRejected:
		return "REJECTED"
	case EvtControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// Dump writes the ring to log. Call it from foreground code only.
func (t *Trace) Dump(log *zap.Logger) {
	if log == nil {
		return
	}
	log.Debug("trace ring dump", zap.Int("events", TraceRingSize))
	for _, evt := range t.Snapshot() {
		log.Debug(EventName(evt.EventType),
			zap.Uint8("spim", evt.Instance),
			zap.Uint32("seq", evt.Seq),
			zap.Uint32("v1", evt.Value1),
			zap.Uint32("v2", evt.Value2))
	}
}
