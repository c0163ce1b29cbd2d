package flash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulpspim/flash"
	"pulpspim/sim"
)

func TestSelfTestPasses(t *testing.T) {
	f := newFixture(t)

	rep, err := flash.SelfTest(testContext(t), f.fd, flash.SelfTestConfig{
		ExpectedID: flash.S25FSID[:],
		Address:    0x10000,
		Quad:       true,
	})
	require.NoError(t, err)
	assert.True(t, rep.Passed())
	assert.Empty(t, rep.Failed())
	assert.Equal(t, flash.IDFingerprint(flash.S25FSID[:]), rep.Fingerprint)

	var names []string
	for _, s := range rep.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"read id",
		"erase", "blank check", "program", "verify",
		"erase", "blank check", "program", "verify",
	}, names)
	assert.True(t, rep.Steps[len(rep.Steps)-1].Quad)
	assert.Zero(t, f.dev.LaneErrors())

	// the quad pass leaves the incrementing page behind
	page := make([]byte, flash.PageSize)
	_, err = f.dev.ReadAt(page, 0x10000)
	require.NoError(t, err)
	for i, b := range page {
		require.Equal(t, byte(i), b)
	}
}

func TestSelfTestIDMismatch(t *testing.T) {
	f := newFixture(t, sim.WithID([]byte{0xEF, 0x40, 0x18}))

	rep, err := flash.SelfTest(testContext(t), f.fd, flash.SelfTestConfig{
		ExpectedID: flash.S25FSID[:3],
	})
	require.ErrorIs(t, err, flash.ErrIDMismatch)
	assert.False(t, rep.Passed())
	require.Len(t, rep.Failed(), 1)
	assert.Equal(t, "read id", rep.Failed()[0].Name)
	assert.Equal(t, []byte{0xEF, 0x40, 0x18}, rep.ID[:3])
}

func TestSelfTestSkipsIDCheck(t *testing.T) {
	f := newFixture(t, sim.WithID([]byte{0xEF, 0x40, 0x18}))

	rep, err := flash.SelfTest(testContext(t), f.fd, flash.SelfTestConfig{})
	require.NoError(t, err)
	assert.True(t, rep.Passed())
	assert.Len(t, rep.Steps, 5)
}

func TestEmptyReportFails(t *testing.T) {
	var rep flash.Report
	assert.False(t, rep.Passed())
}
