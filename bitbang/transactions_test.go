package bitbang

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/fpgakit/softspi/gpio/fake"
	"github.com/fpgakit/softspi/spi"
)

// bitsToBytes folds MSB-first sampled levels back into bytes.
func bitsToBytes(t *testing.T, bits []bool) []byte {
	t.Helper()
	test.That(t, len(bits)%8, test.ShouldEqual, 0)
	out := make([]byte, len(bits)/8)
	for i, bit := range bits {
		out[i/8] <<= 1
		if bit {
			out[i/8] |= 1
		}
	}
	return out
}

// csWrites extracts the chip select writes from a trace segment.
func csWrites(writes []fake.Write) []bool {
	var out []bool
	for _, w := range writes {
		if w.Offset == csPin {
			out = append(out, w.Level)
		}
	}
	return out
}

func TestTransferLoopback(t *testing.T) {
	eng, chip := newTestEngine(t)
	defer func() {
		test.That(t, eng.Close(), test.ShouldBeNil)
	}()
	chip.Loopback(misoPin, mosiPin)

	baseline := len(chip.Writes())
	tx := []byte{0xA5, 0x0F, 0x00, 0xFF}
	rx := make([]byte, len(tx))
	test.That(t, eng.Transfer(tx, rx), test.ShouldBeNil)
	test.That(t, rx, test.ShouldResemble, tx)

	// 8 clock pulses per byte, and the peripheral-side view of MOSI at each
	// rising edge spells the written bytes back out, MSB first.
	test.That(t, chip.RisingEdges(sckPin), test.ShouldEqual, len(tx)*8)
	test.That(t, bitsToBytes(t, chip.SampledBits(sckPin, mosiPin)), test.ShouldResemble, tx)

	// One CS bracket around the whole group: assert first, deassert last.
	ws := chip.Writes()[baseline:]
	test.That(t, csWrites(ws), test.ShouldResemble, []bool{false, true})
	test.That(t, ws[0].Offset, test.ShouldEqual, uint32(csPin))
	test.That(t, ws[len(ws)-1].Offset, test.ShouldEqual, uint32(csPin))
}

func TestTransferSides(t *testing.T) {
	t.Run("write only", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		test.That(t, eng.Transfer([]byte{0x81}, nil), test.ShouldBeNil)
		test.That(t, bitsToBytes(t, chip.SampledBits(sckPin, mosiPin)),
			test.ShouldResemble, []byte{0x81})
	})

	t.Run("read only shifts out zero fill", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		chip.QueueInputByte(misoPin, 0xC3)
		rx := make([]byte, 1)
		test.That(t, eng.Transfer(nil, rx), test.ShouldBeNil)
		test.That(t, rx[0], test.ShouldEqual, byte(0xC3))
		test.That(t, bitsToBytes(t, chip.SampledBits(sckPin, mosiPin)),
			test.ShouldResemble, []byte{0x00})
	})

	t.Run("zero length is a no-op on the clock", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		test.That(t, eng.Transfer(nil, nil), test.ShouldBeNil)
		test.That(t, chip.RisingEdges(sckPin), test.ShouldEqual, 0)
	})

	t.Run("length mismatch", func(t *testing.T) {
		eng, _ := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		err := eng.Transfer(make([]byte, 2), make([]byte, 3))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "length mismatch")
	})
}

func TestCommand(t *testing.T) {
	t.Run("prefixes the command byte", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		test.That(t, eng.Command(0x9F, []byte{0x12, 0x34}, nil), test.ShouldBeNil)
		test.That(t, chip.RisingEdges(sckPin), test.ShouldEqual, 3*8)
		test.That(t, bitsToBytes(t, chip.SampledBits(sckPin, mosiPin)),
			test.ShouldResemble, []byte{0x9F, 0x12, 0x34})
	})

	t.Run("discards the byte opposite the command", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		// 0xAA arrives while the command shifts out and must not reach rx.
		chip.QueueInputByte(misoPin, 0xAA)
		chip.QueueInputByte(misoPin, 0x11)
		chip.QueueInputByte(misoPin, 0x22)
		rx := make([]byte, 2)
		test.That(t, eng.Command(0x03, nil, rx), test.ShouldBeNil)
		test.That(t, rx, test.ShouldResemble, []byte{0x11, 0x22})
	})

	t.Run("zero length sends the command alone", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		test.That(t, eng.Command(0xAB, nil, nil), test.ShouldBeNil)
		test.That(t, bitsToBytes(t, chip.SampledBits(sckPin, mosiPin)),
			test.ShouldResemble, []byte{0xAB})
	})
}

func TestWriteThenRead(t *testing.T) {
	eng, chip := newTestEngine(t)
	defer func() {
		test.That(t, eng.Close(), test.ShouldBeNil)
	}()

	// One byte arrives during the write half (discarded), two during the read half.
	chip.QueueInputByte(misoPin, 0xEF)
	chip.QueueInputByte(misoPin, 0x01)
	chip.QueueInputByte(misoPin, 0x02)

	baseline := len(chip.Writes())
	rx := make([]byte, 2)
	test.That(t, eng.WriteThenRead([]byte{0x9F}, rx), test.ShouldBeNil)
	test.That(t, rx, test.ShouldResemble, []byte{0x01, 0x02})

	// Chip select held across both halves: exactly one assert and one
	// deassert for the whole compound transaction.
	test.That(t, csWrites(chip.Writes()[baseline:]), test.ShouldResemble, []bool{false, true})
	test.That(t, chip.Level(csPin), test.ShouldBeTrue)
}

func TestWaitStatus(t *testing.T) {
	t.Run("succeeds when the masked bit clears", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		// One byte is clocked in during the command write, then the
		// peripheral reports busy, busy, done.
		chip.QueueInputByte(misoPin, 0xFF)
		chip.QueueInputByte(misoPin, 0x01)
		chip.QueueInputByte(misoPin, 0x01)
		chip.QueueInputByte(misoPin, 0x00)

		baseline := len(chip.Writes())
		test.That(t, eng.WaitStatus(0x05, 0x01, 0x00, 3, false), test.ShouldBeNil)

		// 1 command byte + exactly 3 status polls, all under one chip select.
		test.That(t, chip.ReadCount(misoPin), test.ShouldEqual, 4*8)
		test.That(t, chip.RisingEdges(sckPin), test.ShouldEqual, 4*8)
		test.That(t, csWrites(chip.Writes()[baseline:]), test.ShouldResemble, []bool{false, true})
	})

	t.Run("times out after exactly the poll budget", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		// The busy bit never clears.
		chip.SetInputDefault(misoPin, true)

		err := eng.WaitStatus(0x05, 0x01, 0x00, 3, false)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, errors.Is(err, spi.ErrWaitTimeout), test.ShouldBeTrue)
		test.That(t, chip.ReadCount(misoPin), test.ShouldEqual, 4*8)
		test.That(t, chip.Level(csPin), test.ShouldBeTrue)
	})

	t.Run("timeout zero still polls once", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		// Command window byte, then an immediately matching status.
		chip.QueueInputByte(misoPin, 0x00)
		chip.QueueInputByte(misoPin, 0x00)
		test.That(t, eng.WaitStatus(0x05, 0x01, 0x00, 0, false), test.ShouldBeNil)
		test.That(t, chip.ReadCount(misoPin), test.ShouldEqual, 2*8)
	})

	t.Run("timeout zero with no match fails after one poll", func(t *testing.T) {
		eng, chip := newTestEngine(t)
		defer func() {
			test.That(t, eng.Close(), test.ShouldBeNil)
		}()
		chip.SetInputDefault(misoPin, true)
		err := eng.WaitStatus(0x05, 0x01, 0x00, 0, false)
		test.That(t, errors.Is(err, spi.ErrWaitTimeout), test.ShouldBeTrue)
		test.That(t, chip.ReadCount(misoPin), test.ShouldEqual, 2*8)
	})
}

func TestReadFailureAbortsTransfer(t *testing.T) {
	eng, chip := newTestEngine(t)
	defer func() {
		test.That(t, eng.Close(), test.ShouldBeNil)
	}()
	chip.Loopback(misoPin, mosiPin)
	// Two full bytes read fine, then the line dies.
	chip.FailReadsAfter(misoPin, 16, errors.New("stuck line"))

	tx := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	rx := []byte{0xEE, 0xEE, 0xEE, 0xEE}
	err := eng.Transfer(tx, rx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unable to read miso")

	// Bytes before the failure are valid, bytes at and after it untouched.
	test.That(t, rx, test.ShouldResemble, []byte{0xDE, 0xAD, 0xEE, 0xEE})

	// The release obligation held: chip select went back to idle.
	test.That(t, chip.Level(csPin), test.ShouldBeTrue)
}
