package flash

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SelfTestConfig selects what SelfTest exercises
type SelfTestConfig struct {
	ExpectedID []byte // prefix of the RDID response, empty skips the check
	Address    uint32 // start of the scratch sector
	Quad       bool   // run the quad pass after the single-lane one
}

// StepResult is the outcome of one SelfTest step
type StepResult struct {
	Name    string
	Quad    bool
	Err     error
	Elapsed time.Duration
}

// Report collects the SelfTest steps in execution order
type Report struct {
	ID          []byte
	Fingerprint uint8
	Steps       []StepResult
}

// Passed reports whether every step succeeded
func (r *Report) Passed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Failed returns the failed steps
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// SelfTest reads the device id and, for each lane mode, erases the scratch
// sector, checks it is blank, programs an incrementing page and reads it
// back. It stops at the first failing step and returns its error.
func SelfTest(ctx context.Context, d *Device, cfg SelfTestConfig) (*Report, error) {
	rep := &Report{}
	run := func(name string, quad bool, fn func() error) error {
		start := time.Now()
		err := fn()
		rep.Steps = append(rep.Steps, StepResult{Name: name, Quad: quad, Err: err, Elapsed: time.Since(start)})
		if err != nil {
			d.log.Error("self test step failed", zap.String("step", name), zap.Bool("quad", quad), zap.Error(err))
		} else {
			d.log.Info("self test step passed", zap.String("step", name), zap.Bool("quad", quad))
		}
		return err
	}

	err := run("read id", false, func() error {
		id, err := d.ReadID(ctx)
		if err != nil {
			return err
		}
		rep.ID = id
		rep.Fingerprint = IDFingerprint(id)
		if n := len(cfg.ExpectedID); n > 0 && (n > len(id) || !bytes.Equal(id[:n], cfg.ExpectedID)) {
			return fmt.Errorf("%w: fingerprint %02X want %02X", ErrIDMismatch, rep.Fingerprint, IDFingerprint(cfg.ExpectedID))
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	modes := []bool{false}
	if cfg.Quad {
		modes = append(modes, true)
	}
	page := make([]byte, d.geo.PageSize)
	for i := range page {
		page[i] = byte(i)
	}
	buf := make([]byte, d.geo.PageSize)

	for _, quad := range modes {
		if err := run("erase", quad, func() error {
			return d.EraseSector(ctx, cfg.Address)
		}); err != nil {
			return rep, err
		}
		if err := run("blank check", quad, func() error {
			if err := d.Read(ctx, cfg.Address, buf, quad); err != nil {
				return err
			}
			for i, b := range buf {
				if b != 0xFF {
					return fmt.Errorf("%w: %#02x at %#x", ErrNotBlank, b, cfg.Address+uint32(i))
				}
			}
			return nil
		}); err != nil {
			return rep, err
		}
		if err := run("program", quad, func() error {
			return d.ProgramPage(ctx, cfg.Address, page, quad)
		}); err != nil {
			return rep, err
		}
		if err := run("verify", quad, func() error {
			return d.Verify(ctx, cfg.Address, page, quad)
		}); err != nil {
			return rep, err
		}
	}
	return rep, nil
}
