package bitbang

// assertAndTransfer runs one duplex byte-group transfer through the bit loop.
// In AUTO mode it brackets the group with a chip select assert/deassert pair
// of its own; in MANUAL mode chip select is entirely the caller's business,
// which is what lets compound transactions hold it across several groups.
func (e *Engine) assertAndTransfer(count int, tx, rx []byte) error {
	if e.csMode == csAuto {
		e.assertCS()
	}
	err := e.shiftBytes(count, tx, rx)
	if e.csMode == csAuto {
		// Deassert even after a failed read; a chip select left active would
		// wedge the peripheral for every later transfer.
		e.deassertCS()
	}
	return err
}

// shiftBytes is the mode 0 bit loop. Per bit, MSB first: clock low with data
// out set to the bit, clock high (the peripheral latches here), one sample of
// data in, clock low again. Exactly 8 clock pulses per byte; a count of 0
// produces none at all. Chip select is never touched here.
//
// On a fatal read at byte i, rx[:i] holds valid data and rx[i:] is left
// untouched; the error return is the only signal of that incompleteness.
func (e *Engine) shiftBytes(count int, tx, rx []byte) error {
	for i := 0; i < count; i++ {
		var wv byte
		if tx != nil {
			wv = tx[i]
		}
		var rv byte
		for bit := 0; bit < 8; bit++ {
			e.updatePins(e.curCS, false, wv&0x80 != 0)
			wv <<= 1
			e.updatePins(e.curCS, true, e.curMOSI)
			level, err := e.readMISO()
			if err != nil {
				return err
			}
			rv <<= 1
			if level {
				rv |= 1
			}
			e.updatePins(e.curCS, false, e.curMOSI)
		}
		if rx != nil {
			rx[i] = rv
		}
	}
	return nil
}
