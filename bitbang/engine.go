// Package bitbang implements a software SPI master on four GPIO lines for
// hosts without a usable hardware SPI controller. It speaks mode 0 only: the
// clock idles low, data out changes while the clock is low, and both sides
// sample on the rising edge.
package bitbang

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/fpgakit/softspi/gpio"
	"github.com/fpgakit/softspi/gpio/chardev"
	"github.com/fpgakit/softspi/spi"
)

type csMode int

const (
	csAuto csMode = iota
	csManual
)

// Engine drives the four lines of one SPI peripheral. It owns its lines
// exclusively for its lifetime and is synchronous and single-threaded: nothing
// here is safe for concurrent use without an external lock, since the chip
// select mode and the pin cache are mutated without synchronization.
type Engine struct {
	chip     gpio.Chip
	ownsChip bool

	cs   gpio.OutputLine
	sck  gpio.OutputLine
	mosi gpio.OutputLine
	miso gpio.InputLine

	// Last level driven on each output, used to skip redundant writes.
	curCS   bool
	curSCK  bool
	curMOSI bool

	csMode  csMode
	verbose bool
	logger  golog.Logger
}

var _ spi.Transactor = (*Engine)(nil)

// New opens the configured GPIO character device and claims the four lines
// from it. Any failure releases whatever was already claimed; no partial
// engine is ever returned.
func New(conf Config, logger golog.Logger) (*Engine, error) {
	if err := conf.Validate("config"); err != nil {
		return nil, err
	}
	chip, err := chardev.Open(conf.ChipPath)
	if err != nil {
		return nil, err
	}
	eng, err := NewWithChip(chip, conf, logger)
	if err != nil {
		goutils.UncheckedErrorFunc(chip.Close)
		return nil, err
	}
	eng.ownsChip = true
	return eng, nil
}

// NewWithChip is New with a caller-supplied GPIO provider. The caller keeps
// ownership of the chip handle; Close will not touch it.
func NewWithChip(chip gpio.Chip, conf Config, logger golog.Logger) (*Engine, error) {
	if err := conf.Validate("config"); err != nil {
		return nil, err
	}

	numLines := chip.NumLines()
	for _, role := range []struct {
		name string
		pin  uint32
	}{
		{"cs", conf.CSPin},
		{"sck", conf.SCKPin},
		{"mosi", conf.MOSIPin},
		{"miso", conf.MISOPin},
	} {
		if role.pin >= numLines {
			return nil, errors.Errorf("%s pin %d is outside the valid range of %s (%d lines)",
				role.name, role.pin, chip.Name(), numLines)
		}
	}

	e := &Engine{chip: chip, verbose: conf.Verbose, logger: logger}
	e.logger.Debugf("softspi bitbang driver, chip=%s, cs=%d, sck=%d, mosi=%d, miso=%d",
		chip.Name(), conf.CSPin, conf.SCKPin, conf.MOSIPin, conf.MISOPin)

	// CS is active low, so it idles deasserted (high); clock and data idle low.
	var err error
	if e.cs, err = chip.OpenOutputLine(conf.CSPin, true, "softspi-cs"); err != nil {
		return nil, e.claimFailure("cs", conf.CSPin, err)
	}
	if e.sck, err = chip.OpenOutputLine(conf.SCKPin, false, "softspi-sck"); err != nil {
		return nil, e.claimFailure("sck", conf.SCKPin, err)
	}
	if e.mosi, err = chip.OpenOutputLine(conf.MOSIPin, false, "softspi-mosi"); err != nil {
		return nil, e.claimFailure("mosi", conf.MOSIPin, err)
	}
	if e.miso, err = chip.OpenInputLine(conf.MISOPin, "softspi-miso"); err != nil {
		return nil, e.claimFailure("miso", conf.MISOPin, err)
	}

	// Seed the cache opposite the claimed levels so this first update writes
	// every line; cache and hardware agree from here on.
	e.curCS, e.curSCK, e.curMOSI = false, true, true
	e.updatePins(true, false, false)

	e.csMode = csAuto
	return e, nil
}

func (e *Engine) claimFailure(role string, pin uint32, err error) error {
	if relErr := e.releaseLines(); relErr != nil {
		e.logger.Errorf("error releasing lines after failed claim: %s", relErr)
	}
	return errors.Wrapf(err, "unable to claim %s line %d on %s", role, pin, e.chip.Name())
}

func (e *Engine) releaseLines() error {
	var err error
	if e.miso != nil {
		err = multierr.Combine(err, e.miso.Close())
		e.miso = nil
	}
	if e.mosi != nil {
		err = multierr.Combine(err, e.mosi.Close())
		e.mosi = nil
	}
	if e.sck != nil {
		err = multierr.Combine(err, e.sck.Close())
		e.sck = nil
	}
	if e.cs != nil {
		err = multierr.Combine(err, e.cs.Close())
		e.cs = nil
	}
	return err
}

// Close releases the four lines and, when the engine opened it, the chip
// handle. It always runs to completion, combining whatever errors it met.
// Safe to call more than once; the engine must not be used afterwards.
func (e *Engine) Close() error {
	err := e.releaseLines()
	if e.ownsChip && e.chip != nil {
		err = multierr.Combine(err, e.chip.Close())
		e.chip = nil
	}
	return err
}

// updatePins drives each output line whose requested level differs from the
// cached one. A failed line write is logged and absorbed, and the cache still
// moves to the requested triple: a single stuck toggle must not abort a
// transfer that may yet succeed.
func (e *Engine) updatePins(cs, sck, mosi bool) {
	if mosi != e.curMOSI {
		if err := e.mosi.Set(mosi); err != nil {
			e.logger.Errorf("unable to set gpio pin mosi: %s", err)
		}
	}
	if sck != e.curSCK {
		if err := e.sck.Set(sck); err != nil {
			e.logger.Errorf("unable to set gpio pin sck: %s", err)
		}
	}
	if cs != e.curCS {
		if err := e.cs.Set(cs); err != nil {
			e.logger.Errorf("unable to set gpio pin cs: %s", err)
		}
	}
	e.curCS, e.curSCK, e.curMOSI = cs, sck, mosi
}

// readMISO samples the input line. Unlike output writes, a read failure is
// fatal to the operation: a transfer result built on an unreadable line is
// meaningless.
func (e *Engine) readMISO() (bool, error) {
	level, err := e.miso.Get()
	if err != nil {
		return false, errors.Wrap(err, "unable to read miso line")
	}
	return level, nil
}

// assertCS drives chip select to its active low level, clock and data untouched.
func (e *Engine) assertCS() {
	e.updatePins(false, e.curSCK, e.curMOSI)
}

// deassertCS returns chip select to its idle high level.
func (e *Engine) deassertCS() {
	e.updatePins(true, e.curSCK, e.curMOSI)
}
