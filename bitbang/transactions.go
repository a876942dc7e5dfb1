package bitbang

import (
	"github.com/pkg/errors"

	"github.com/fpgakit/softspi/spi"
)

// xferCount derives the byte count of a duplex transfer from whichever buffer
// is present. Both nil is a legal no-op.
func xferCount(tx, rx []byte) (int, error) {
	switch {
	case tx == nil:
		return len(rx), nil
	case rx == nil:
		return len(tx), nil
	case len(tx) != len(rx):
		return 0, errors.Errorf("duplex transfer length mismatch: tx %d bytes, rx %d bytes",
			len(tx), len(rx))
	default:
		return len(tx), nil
	}
}

// Transfer shifts bytes out of tx while shifting the same number into rx;
// either side may be nil. It runs in whatever chip select mode is current, so
// a standalone call gets one automatic assert/deassert around the whole group.
func (e *Engine) Transfer(tx, rx []byte) error {
	count, err := xferCount(tx, rx)
	if err != nil {
		return err
	}
	return e.assertAndTransfer(count, tx, rx)
}

// Command shifts cmd followed by the bytes of tx as one group. The byte
// clocked in while cmd goes out is discarded: the peripheral has not decoded
// the command yet, so that window carries nothing. With a zero-length tx the
// command byte goes out alone.
func (e *Engine) Command(cmd byte, tx, rx []byte) error {
	count, err := xferCount(tx, rx)
	if err != nil {
		return err
	}

	jtx := make([]byte, count+1)
	jtx[0] = cmd
	copy(jtx[1:], tx)

	var jrx []byte
	if rx != nil {
		jrx = make([]byte, count+1)
	}

	if err := e.assertAndTransfer(count+1, jtx, jrx); err != nil {
		return err
	}

	if rx != nil {
		copy(rx, jrx[1:])
	}
	return nil
}

// WriteThenRead shifts out all of tx and then reads len(rx) bytes while
// holding chip select across both halves. A failure in the write half skips
// the read half; chip select is released either way.
func (e *Engine) WriteThenRead(tx, rx []byte) error {
	e.csMode = csManual
	e.assertCS()
	defer func() {
		e.deassertCS()
		e.csMode = csAuto
	}()

	if err := e.assertAndTransfer(len(tx), tx, nil); err != nil {
		return errors.Wrap(err, "write phase")
	}
	if err := e.assertAndTransfer(len(rx), nil, rx); err != nil {
		return errors.Wrap(err, "read phase")
	}
	return nil
}

// WaitStatus sends cmd once and then polls single status bytes over one held
// chip select until (status & mask) == want, failing with spi.ErrWaitTimeout
// after timeout polls without a match. Holding chip select across the whole
// poll matters: re-asserting it per poll resets many peripherals' internal
// read position. At least one poll and one comparison happen even with a
// timeout of 0.
func (e *Engine) WaitStatus(cmd, mask, want byte, timeout uint32, verbose bool) error {
	e.csMode = csManual
	e.assertCS()
	defer func() {
		e.deassertCS()
		e.csMode = csAuto
	}()

	if err := e.assertAndTransfer(1, []byte{cmd}, nil); err != nil {
		return err
	}

	rx := make([]byte, 1)
	var count uint32
	for {
		if err := e.assertAndTransfer(1, nil, rx); err != nil {
			return err
		}
		count++
		if verbose || e.verbose {
			e.logger.Debugf("status poll %d: %02x (mask %02x, want %02x)", count, rx[0], mask, want)
		}
		if rx[0]&mask == want {
			return nil
		}
		if count >= timeout {
			return errors.Wrapf(spi.ErrWaitTimeout,
				"status %02x never matched %02x under mask %02x after %d polls",
				rx[0], want, mask, count)
		}
	}
}
