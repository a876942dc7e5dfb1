// Package spi defines the transactor contract shared by SPI backends, whether
// they sit on a hardware controller or bit-bang the lines in software. Device
// programmers above it only ever see this interface.
package spi

import "github.com/pkg/errors"

// ErrWaitTimeout is returned by WaitStatus when the polled byte never matched
// the expected value within the poll budget. Callers can match it with
// errors.Is to tell a slow peripheral from a broken line and decide whether to
// retry the higher-level protocol.
var ErrWaitTimeout = errors.New("status poll timed out")

// Transactor is a synchronous SPI master bound to a single chip select.
//
// All transfers are full duplex under the hood: one byte is clocked in for
// every byte clocked out. Write-only and read-only calls are expressed by
// passing nil for the side that does not matter; the missing write side is
// shifted out as zero fill and the missing read side is discarded.
type Transactor interface {
	// Transfer shifts bytes out of tx while shifting the same number of bytes
	// into rx. Either slice may be nil. When both are non-nil their lengths
	// must match. A standalone call is bracketed by one chip select
	// assert/deassert pair.
	Transfer(tx, rx []byte) error

	// Command shifts cmd followed by the bytes of tx, in one chip select
	// bracket. When rx is non-nil it receives the bytes clocked in opposite
	// tx; the byte clocked in opposite cmd itself is discarded, since the
	// peripheral has not decoded the command during that window.
	Command(cmd byte, tx, rx []byte) error

	// WriteThenRead shifts out all of tx and then reads len(rx) bytes, holding
	// chip select across both halves.
	WriteThenRead(tx, rx []byte) error

	// WaitStatus sends cmd once, then repeatedly reads single status bytes
	// over one held chip select until (status & mask) == want. It fails with
	// ErrWaitTimeout after timeout polls without a match. At least one poll
	// and one comparison happen even when timeout is 0. verbose logs every
	// polled byte.
	WaitStatus(cmd, mask, want byte, timeout uint32, verbose bool) error

	// Close releases the underlying lines. The transactor must not be used
	// afterwards.
	Close() error
}
