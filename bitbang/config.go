package bitbang

import "github.com/pkg/errors"

// Config describes the four lines of a bit-banged SPI master. All four offsets
// live in the line-number space of one GPIO chip.
type Config struct {
	// ChipPath selects the GPIO controller, e.g. /dev/gpiochip0. Empty picks
	// the chardev default.
	ChipPath string `json:"chip_path,omitempty"`

	CSPin   uint32 `json:"cs_pin"`
	SCKPin  uint32 `json:"sck_pin"`
	MOSIPin uint32 `json:"mosi_pin"`
	MISOPin uint32 `json:"miso_pin"`

	// Verbose logs every transfer and status poll.
	Verbose bool `json:"verbose,omitempty"`
}

// Validate ensures all parts of the config are valid. Duplicate pins are
// rejected here, before any hardware line is claimed; range checks against the
// chip's line count happen at claim time since they need the chip open.
func (conf *Config) Validate(path string) error {
	pins := []uint32{conf.CSPin, conf.SCKPin, conf.MOSIPin, conf.MISOPin}
	names := []string{"cs_pin", "sck_pin", "mosi_pin", "miso_pin"}
	for i := 0; i < len(pins); i++ {
		for j := i + 1; j < len(pins); j++ {
			if pins[i] == pins[j] {
				return errors.Errorf("%s: %s and %s are both assigned to pin %d",
					path, names[i], names[j], pins[i])
			}
		}
	}
	return nil
}
