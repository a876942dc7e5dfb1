// Package periphgpio resolves GPIO lines through the periph.io host drivers.
// It serves boards whose pins are registered with gpioreg under their offset
// number, as an alternative to the GPIO character device when that device is
// unavailable or claimed by something else.
package periphgpio

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	spigpio "github.com/fpgakit/softspi/gpio"
)

var (
	hostInitOnce sync.Once
	hostInitErr  error
)

// Open initializes the periph host drivers once and returns a chip view over
// the pins they registered. name is informational only; lines are resolved by
// offset through the gpioreg registry.
func Open(name string) (spigpio.Chip, error) {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return nil, errors.Wrap(hostInitErr, "unable to initialize periph host drivers")
	}
	if name == "" {
		name = "periph"
	}
	return &chip{name: name}, nil
}

type chip struct {
	name string
}

func (c *chip) Name() string {
	return c.name
}

func (c *chip) NumLines() uint32 {
	return uint32(len(gpioreg.All()))
}

func (c *chip) resolve(offset uint32) (gpio.PinIO, error) {
	pin := gpioreg.ByName(strconv.FormatUint(uint64(offset), 10))
	if pin == nil {
		return nil, errors.Errorf("no gpio pin registered for offset %d", offset)
	}
	return pin, nil
}

// The consumer label has no equivalent in the periph registry, so it is
// accepted and dropped.
func (c *chip) OpenOutputLine(offset uint32, initial bool, consumer string) (spigpio.OutputLine, error) {
	pin, err := c.resolve(offset)
	if err != nil {
		return nil, err
	}
	if err := pin.Out(gpio.Level(initial)); err != nil {
		return nil, errors.Wrapf(err, "unable to claim pin %s for output", pin.Name())
	}
	return &outputLine{pin: pin}, nil
}

func (c *chip) OpenInputLine(offset uint32, consumer string) (spigpio.InputLine, error) {
	pin, err := c.resolve(offset)
	if err != nil {
		return nil, err
	}
	if err := pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "unable to claim pin %s for input", pin.Name())
	}
	return &inputLine{pin: pin}, nil
}

func (c *chip) Close() error {
	// Nothing to release; pins are halted individually.
	return nil
}

type outputLine struct {
	pin gpio.PinIO
}

func (l *outputLine) Set(level bool) error {
	return l.pin.Out(gpio.Level(level))
}

func (l *outputLine) Close() error {
	return l.pin.Halt()
}

type inputLine struct {
	pin gpio.PinIO
}

func (l *inputLine) Get() (bool, error) {
	// periph reads cannot fail; a dead pin reports low.
	return bool(l.pin.Read()), nil
}

func (l *inputLine) Close() error {
	return l.pin.Halt()
}
