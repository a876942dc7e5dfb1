// Package gpio abstracts the platform interface used to claim and drive
// individual GPIO lines. Concrete providers live in the subpackages: chardev
// for the Linux GPIO character device, periphgpio for pins registered with the
// periph.io host drivers, and fake for tests. Code that consumes lines never
// branches on which provider is behind the interface.
package gpio

// Chip is one GPIO controller with a contiguous line-number space.
type Chip interface {
	// Name identifies the controller, for diagnostics.
	Name() string

	// NumLines is the number of lines on the controller. Valid offsets are
	// [0, NumLines).
	NumLines() uint32

	// OpenOutputLine claims a line for output, driven to the initial level.
	// consumer names the claimant to the rest of the system. The claim fails
	// if the line is out of range, already in use, or lacks the capability.
	OpenOutputLine(offset uint32, initial bool, consumer string) (OutputLine, error)

	// OpenInputLine claims a line for input.
	OpenInputLine(offset uint32, consumer string) (InputLine, error)

	// Close releases the controller handle. Lines already claimed stay valid
	// until they are closed themselves.
	Close() error
}

// OutputLine is an exclusively claimed line the caller drives.
type OutputLine interface {
	// Set drives the line high (true) or low (false).
	Set(level bool) error

	// Close releases the claim.
	Close() error
}

// InputLine is an exclusively claimed line the caller samples.
type InputLine interface {
	// Get samples the current level of the line.
	Get() (bool, error)

	// Close releases the claim.
	Close() error
}
