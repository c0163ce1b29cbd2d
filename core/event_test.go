package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTableDispatch(t *testing.T) {
	tbl := NewEventTable()

	var got []uint32
	require.NoError(t, tbl.SetHandler(11, func(evt uint32) { got = append(got, evt) }))

	tbl.Handle(11)
	tbl.Handle(12)
	tbl.Handle(MaxEvents + 5)
	assert.Equal(t, []uint32{11}, got)

	require.NoError(t, tbl.SetHandler(11, nil))
	tbl.Handle(11)
	assert.Len(t, got, 1)
	assert.Nil(t, tbl.Handler(11))
}

func TestEventTableRejectsOutOfRange(t *testing.T) {
	tbl := NewEventTable()
	require.ErrorIs(t, tbl.SetHandler(MaxEvents, func(uint32) {}), ErrParameter)
	assert.Nil(t, tbl.Handler(MaxEvents))
}

func TestRegistryIgnoresForeignEvents(t *testing.T) {
	reg, d, _ := newTestDriver(t)
	require.NoError(t, d.Initialize(nil))
	require.NoError(t, d.Send(make([]byte, 2), 2, 0))

	// EOT code of an instance that is not populated
	reg.handleEOT(EOTEvent(3))
	assert.True(t, d.GetStatus().Busy)

	reg.events.Handle(EOTEvent(0) - 1)
	assert.True(t, d.GetStatus().Busy)

	reg.events.Handle(EOTEvent(0))
	assert.False(t, d.GetStatus().Busy)
}
