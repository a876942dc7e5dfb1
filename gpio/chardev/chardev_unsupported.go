//go:build !linux

// Package chardev claims GPIO lines through the Linux GPIO character device.
// This file only exists to get things to compile on non-Linux environments.
package chardev

import (
	"github.com/pkg/errors"

	"github.com/fpgakit/softspi/gpio"
)

// DefaultChipPath is used when no chip device is configured.
const DefaultChipPath = "/dev/gpiochip0"

// Open always fails: the GPIO character device only exists on Linux.
func Open(path string) (gpio.Chip, error) {
	return nil, errors.New("gpio character device is only supported on linux")
}
