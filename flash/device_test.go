package flash_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulpspim/core"
	"pulpspim/flash"
	"pulpspim/sim"
)

const testSize = 1 << 20

type fixture struct {
	soc *sim.SoC
	dev *sim.Flash
	spi core.SPI
	fd  *flash.Device
}

func newFixture(t *testing.T, simOpts ...sim.FlashOption) *fixture {
	t.Helper()
	dev := sim.NewFlash(testSize, simOpts...)
	soc := sim.New(sim.WithDevice(0, dev))
	events := core.NewEventTable()
	reg, err := core.NewRegistry(soc.Platform(), events)
	require.NoError(t, err)
	soc.SetTrap(events.Handle)

	s, err := reg.Driver(0)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(nil))
	_, err = s.Control(core.ModeMaster|core.DataBits(8), 10000000)
	require.NoError(t, err)

	return &fixture{
		soc: soc,
		dev: dev,
		spi: s,
		fd:  flash.New(s, flash.DefaultGeometry(testSize), flash.WithTimeout(time.Second)),
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReadID(t *testing.T) {
	f := newFixture(t)
	id, err := f.fd.ReadID(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, flash.S25FSID[:], id)
	assert.False(t, f.soc.ChipSelect(0))
}

func TestEraseProgramRead(t *testing.T) {
	for _, quad := range []bool{false, true} {
		f := newFixture(t)
		ctx := testContext(t)

		page := make([]byte, flash.PageSize)
		for i := range page {
			page[i] = byte(255 - i)
		}
		require.NoError(t, f.fd.ProgramPage(ctx, 0x2000, page, quad))
		require.NoError(t, f.fd.Verify(ctx, 0x2000, page, quad))

		require.NoError(t, f.fd.EraseSector(ctx, 0x2080))
		got := make([]byte, flash.PageSize)
		require.NoError(t, f.fd.Read(ctx, 0x2000, got, quad))
		for _, b := range got {
			require.Equal(t, byte(0xFF), b)
		}
		assert.Zero(t, f.dev.LaneErrors(), "quad %v", quad)
		assert.Zero(t, f.dev.Status()&flash.StatusWIP)
	}
}

func TestWaitReadyPollsUntilIdle(t *testing.T) {
	f := newFixture(t, sim.WithBusyPolls(10, 7))
	ctx := testContext(t)

	require.NoError(t, f.fd.EraseSector(ctx, 0))
	sr, err := f.fd.ReadStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, sr&flash.StatusWIP)
	assert.Zero(t, sr&flash.StatusWEL)
}

func TestProgramRejectsBadRanges(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	require.ErrorIs(t, f.fd.ProgramPage(ctx, 0xF0, make([]byte, 32), false), flash.ErrCrossesPage)
	require.ErrorIs(t, f.fd.ProgramPage(ctx, testSize-1, make([]byte, 2), false), flash.ErrOutOfRange)
	require.ErrorIs(t, f.fd.EraseSector(ctx, testSize), flash.ErrOutOfRange)
	require.ErrorIs(t, f.fd.Read(ctx, testSize-1, make([]byte, 2), false), flash.ErrOutOfRange)
	require.NoError(t, f.fd.ProgramPage(ctx, 0, nil, false))
}

func TestVerifyReportsMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	want := []byte{1, 2, 3, 4}
	err := f.fd.Verify(ctx, 0, want, false)
	require.ErrorIs(t, err, flash.ErrVerifyFailed)
	assert.Contains(t, err.Error(), "at 0x0")
}

func TestSingleByteProgram(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	require.NoError(t, f.fd.ProgramPage(ctx, 0x10, []byte{0x5A}, false))
	got := make([]byte, 1)
	require.NoError(t, f.fd.Read(ctx, 0x10, got, false))
	assert.Equal(t, byte(0x5A), got[0])
}

func TestBlockDevice(t *testing.T) {
	f := newFixture(t)
	var bd = f.fd

	assert.Equal(t, int64(testSize), bd.Size())
	assert.Equal(t, int64(flash.PageSize), bd.WriteBlockSize())
	assert.Equal(t, int64(flash.SectorSize), bd.EraseBlockSize())

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i * 7)
	}
	n, err := bd.WriteAt(data, 0x3F0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	got := make([]byte, len(data))
	n, err = bd.ReadAt(got, 0x3F0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)

	require.NoError(t, bd.EraseBlocks(0, 1))
	_, err = bd.ReadAt(got, 0x3F0)
	require.NoError(t, err)
	for _, b := range got {
		require.Equal(t, byte(0xFF), b)
	}

	_, err = bd.ReadAt(got, testSize-10)
	require.ErrorIs(t, err, flash.ErrOutOfRange)
}

func TestTimeoutWhenBusNeverCompletes(t *testing.T) {
	dev := sim.NewFlash(testSize)
	soc := sim.New(sim.WithDevice(0, dev), sim.WithMode(sim.Manual))
	events := core.NewEventTable()
	reg, err := core.NewRegistry(soc.Platform(), events)
	require.NoError(t, err)
	soc.SetTrap(events.Handle)
	s, err := reg.Driver(0)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(nil))

	fd := flash.New(s, flash.DefaultGeometry(testSize))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = fd.ReadID(ctx)
	require.ErrorIs(t, err, core.ErrTimeout)
}

func TestCRC(t *testing.T) {
	assert.Equal(t, uint16(0x6F91), flash.CRC16([]byte("123456789")))
	assert.Equal(t, uint8(0xA1), flash.IDFingerprint([]byte("123456789")))
}
