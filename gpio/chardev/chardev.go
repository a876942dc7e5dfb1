//go:build linux

// Package chardev claims GPIO lines through the Linux GPIO character device
// (/dev/gpiochipN), indirectly by way of mkch's gpio package.
package chardev

import (
	"strings"

	mkchgpio "github.com/mkch/gpio"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/fpgakit/softspi/gpio"
)

// DefaultChipPath is used when no chip device is configured.
const DefaultChipPath = "/dev/gpiochip0"

const chipPathPrefix = "/dev/gpiochip"

type chip struct {
	path     string
	dev      *mkchgpio.Chip
	numLines uint32
}

// Open opens a GPIO character device. An empty path selects DefaultChipPath.
// Anything not shaped like /dev/gpiochipX is rejected before touching the
// filesystem.
func Open(path string) (gpio.Chip, error) {
	if path == "" {
		path = DefaultChipPath
	}
	if !strings.HasPrefix(path, chipPathPrefix) || len(path) == len(chipPathPrefix) {
		return nil, errors.Errorf("invalid gpio chip %q, should be /dev/gpiochipX", path)
	}

	dev, err := mkchgpio.OpenChip(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open gpio chip %q", path)
	}
	info, err := dev.Info()
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "unable to query gpio chip %q", path), dev.Close())
	}
	return &chip{path: path, dev: dev, numLines: info.NumLines}, nil
}

func (c *chip) Name() string {
	return c.path
}

func (c *chip) NumLines() uint32 {
	return c.numLines
}

func (c *chip) OpenOutputLine(offset uint32, initial bool, consumer string) (gpio.OutputLine, error) {
	line, err := c.dev.OpenLine(offset, levelByte(initial), mkchgpio.Output, consumer)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to claim output line %d on %q", offset, c.path)
	}
	return &outputLine{line: line}, nil
}

func (c *chip) OpenInputLine(offset uint32, consumer string) (gpio.InputLine, error) {
	line, err := c.dev.OpenLine(offset, 0, mkchgpio.Input, consumer)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to claim input line %d on %q", offset, c.path)
	}
	return &inputLine{line: line}, nil
}

func (c *chip) Close() error {
	return c.dev.Close()
}

type outputLine struct {
	line *mkchgpio.Line
}

func (l *outputLine) Set(level bool) error {
	return l.line.SetValue(levelByte(level))
}

func (l *outputLine) Close() error {
	return l.line.Close()
}

type inputLine struct {
	line *mkchgpio.Line
}

func (l *inputLine) Get() (bool, error) {
	value, err := l.line.Value()
	if err != nil {
		return false, err
	}
	// Anything non-zero counts as high.
	return value != 0, nil
}

func (l *inputLine) Close() error {
	return l.line.Close()
}

func levelByte(level bool) byte {
	if level {
		return 1
	}
	return 0
}
