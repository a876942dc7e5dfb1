// Package fake implements an in-memory GPIO chip for tests and bring-up. It
// records every level driven on every output line, in order, so a test can
// replay the electrical sequence a transfer produced the way a logic analyzer
// would. Input lines can be scripted bit by bit, wired to loop an output back,
// or armed to fail.
package fake

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/fpgakit/softspi/gpio"
)

// Write is one recorded level change request on an output line.
type Write struct {
	Offset uint32
	Level  bool
}

type readFailure struct {
	after int
	err   error
}

// Chip is an in-memory gpio.Chip. Use NewChip; the zero value is not usable.
type Chip struct {
	mu       sync.Mutex
	name     string
	numLines uint32
	closed   bool

	claimed      map[uint32]bool
	claimInitial map[uint32]bool
	released     []uint32

	levels      map[uint32]bool
	writeCounts map[uint32]int
	readCounts  map[uint32]int
	trace       []Write

	inputBits    map[uint32][]bool
	inputDefault map[uint32]bool
	loopback     map[uint32]uint32
	writeErrs    map[uint32]error
	readFails    map[uint32]*readFailure
}

// NewChip returns a chip with the given number of lines, all unclaimed and low.
func NewChip(name string, numLines uint32) *Chip {
	return &Chip{
		name:         name,
		numLines:     numLines,
		claimed:      map[uint32]bool{},
		claimInitial: map[uint32]bool{},
		levels:       map[uint32]bool{},
		writeCounts:  map[uint32]int{},
		readCounts:   map[uint32]int{},
		inputBits:    map[uint32][]bool{},
		inputDefault: map[uint32]bool{},
		loopback:     map[uint32]uint32{},
		writeErrs:    map[uint32]error{},
		readFails:    map[uint32]*readFailure{},
	}
}

func (c *Chip) Name() string {
	return c.name
}

func (c *Chip) NumLines() uint32 {
	return c.numLines
}

func (c *Chip) claim(offset uint32) error {
	if c.closed {
		return errors.Errorf("chip %q is closed", c.name)
	}
	if offset >= c.numLines {
		return errors.Errorf("line %d is outside the %d lines of %q", offset, c.numLines, c.name)
	}
	if c.claimed[offset] {
		return errors.Errorf("line %d on %q is already claimed", offset, c.name)
	}
	c.claimed[offset] = true
	return nil
}

// OpenOutputLine claims a line for output. The initial level is tracked as the
// line's level but not counted as a hardware write.
func (c *Chip) OpenOutputLine(offset uint32, initial bool, consumer string) (gpio.OutputLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.claim(offset); err != nil {
		return nil, err
	}
	c.claimInitial[offset] = initial
	c.levels[offset] = initial
	return &outputLine{chip: c, offset: offset}, nil
}

// OpenInputLine claims a line for input.
func (c *Chip) OpenInputLine(offset uint32, consumer string) (gpio.InputLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.claim(offset); err != nil {
		return nil, err
	}
	return &inputLine{chip: c, offset: offset}, nil
}

// Close marks the chip closed; further claims fail.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// QueueInputBits appends scripted levels an input line returns, one per read,
// before falling back to the line's default level.
func (c *Chip) QueueInputBits(offset uint32, bits ...bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputBits[offset] = append(c.inputBits[offset], bits...)
}

// QueueInputByte scripts the 8 bits of b, MSB first.
func (c *Chip) QueueInputByte(offset uint32, b byte) {
	bits := make([]bool, 8)
	for i := 0; i < 8; i++ {
		bits[i] = b&(0x80>>i) != 0
	}
	c.QueueInputBits(offset, bits...)
}

// SetInputDefault sets the level an input line reports once its script runs out.
func (c *Chip) SetInputDefault(offset uint32, level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputDefault[offset] = level
}

// Loopback wires the input line at in to reflect whatever is currently driven
// on the output line at out. Scripted bits still take precedence.
func (c *Chip) Loopback(in, out uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopback[in] = out
}

// FailWrites makes every Set on the line fail with err. The level stays where
// it was, as a stuck pin would.
func (c *Chip) FailWrites(offset uint32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErrs[offset] = err
}

// FailReadsAfter makes reads of the line fail with err once n reads have
// succeeded.
func (c *Chip) FailReadsAfter(offset uint32, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readFails[offset] = &readFailure{after: n, err: err}
}

// Writes returns a copy of every recorded output write, in order.
func (c *Chip) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Write, len(c.trace))
	copy(out, c.trace)
	return out
}

// WriteCount returns how many hardware writes hit the line.
func (c *Chip) WriteCount(offset uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCounts[offset]
}

// ReadCount returns how many successful reads the line served.
func (c *Chip) ReadCount(offset uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readCounts[offset]
}

// Level returns the last level driven on the line (or its claim initial).
func (c *Chip) Level(offset uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.levels[offset]
}

// Claimed reports whether the line is currently claimed.
func (c *Chip) Claimed(offset uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed[offset]
}

// Released returns the offsets released so far, in release order.
func (c *Chip) Released() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, len(c.released))
	copy(out, c.released)
	return out
}

// RisingEdges counts low-to-high transitions driven on the line, starting from
// its claim-time level.
func (c *Chip) RisingEdges(offset uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.claimInitial[offset]
	edges := 0
	for _, w := range c.trace {
		if w.Offset != offset {
			continue
		}
		if w.Level && !cur {
			edges++
		}
		cur = w.Level
	}
	return edges
}

// SampledBits replays the write trace and returns the level of the data line
// at each rising edge of the clock line, which is exactly what a mode 0
// peripheral latches.
func (c *Chip) SampledBits(clk, data uint32) []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	clkCur := c.claimInitial[clk]
	dataCur := c.claimInitial[data]
	var bits []bool
	for _, w := range c.trace {
		switch w.Offset {
		case clk:
			if w.Level && !clkCur {
				bits = append(bits, dataCur)
			}
			clkCur = w.Level
		case data:
			dataCur = w.Level
		}
	}
	return bits
}

func (c *Chip) setLevel(offset uint32, level bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeErrs[offset]; err != nil {
		return err
	}
	c.levels[offset] = level
	c.writeCounts[offset]++
	c.trace = append(c.trace, Write{Offset: offset, Level: level})
	return nil
}

func (c *Chip) getLevel(offset uint32) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rf := c.readFails[offset]; rf != nil && c.readCounts[offset] >= rf.after {
		return false, rf.err
	}
	var level bool
	if queued := c.inputBits[offset]; len(queued) > 0 {
		level = queued[0]
		c.inputBits[offset] = queued[1:]
	} else if out, ok := c.loopback[offset]; ok {
		level = c.levels[out]
	} else {
		level = c.inputDefault[offset]
	}
	c.readCounts[offset]++
	return level, nil
}

func (c *Chip) release(offset uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.claimed[offset] {
		return
	}
	c.claimed[offset] = false
	c.released = append(c.released, offset)
}

type outputLine struct {
	chip   *Chip
	offset uint32
}

func (l *outputLine) Set(level bool) error {
	return l.chip.setLevel(l.offset, level)
}

func (l *outputLine) Close() error {
	l.chip.release(l.offset)
	return nil
}

type inputLine struct {
	chip   *Chip
	offset uint32
}

func (l *inputLine) Get() (bool, error) {
	return l.chip.getLevel(l.offset)
}

func (l *inputLine) Close() error {
	l.chip.release(l.offset)
	return nil
}
