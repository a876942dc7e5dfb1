// Package main contains a command to poke an SPI peripheral through
// bit-banged GPIO lines: one-shot transfers for bring-up, or a status-register
// poll for watching a busy bit clear.
package main

import (
	"context"
	"encoding/hex"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/fpgakit/softspi/bitbang"
)

var logger = golog.NewDevelopmentLogger("spibang")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Chip    string `flag:"chip,usage=gpio chip device (default /dev/gpiochip0)"`
	CS      int    `flag:"cs,required,usage=chip select line offset"`
	SCK     int    `flag:"sck,required,usage=clock line offset"`
	MOSI    int    `flag:"mosi,required,usage=data out line offset"`
	MISO    int    `flag:"miso,required,usage=data in line offset"`
	Write   string `flag:"write,usage=hex bytes to shift out"`
	Read    int    `flag:"read,usage=number of bytes to read back"`
	Status  bool   `flag:"status,usage=poll a status register instead of transferring"`
	Cmd     int    `flag:"cmd,default=5,usage=status command byte"`
	Mask    int    `flag:"mask,default=1,usage=status bit mask"`
	Want    int    `flag:"want,default=0,usage=expected masked value"`
	Timeout int    `flag:"timeout,default=1000,usage=maximum status polls"`
	Verbose bool   `flag:"verbose,usage=log every status poll"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	for _, pin := range []int{argsParsed.CS, argsParsed.SCK, argsParsed.MOSI, argsParsed.MISO} {
		if pin < 0 {
			return errors.Errorf("line offsets must be non-negative, got %d", pin)
		}
	}

	conf := bitbang.Config{
		ChipPath: argsParsed.Chip,
		CSPin:    uint32(argsParsed.CS),
		SCKPin:   uint32(argsParsed.SCK),
		MOSIPin:  uint32(argsParsed.MOSI),
		MISOPin:  uint32(argsParsed.MISO),
		Verbose:  argsParsed.Verbose,
	}
	return runTransaction(conf, argsParsed, logger)
}

func runTransaction(conf bitbang.Config, args Arguments, logger golog.Logger) (err error) {
	eng, err := bitbang.New(conf, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, eng.Close())
	}()

	if args.Status {
		if err := eng.WaitStatus(byte(args.Cmd), byte(args.Mask), byte(args.Want),
			uint32(args.Timeout), args.Verbose); err != nil {
			return err
		}
		logger.Infof("status matched %02x under mask %02x", args.Want, args.Mask)
		return nil
	}

	tx, err := hex.DecodeString(args.Write)
	if err != nil {
		return errors.Wrap(err, "-write must be hex bytes")
	}
	var rx []byte
	if args.Read > 0 {
		rx = make([]byte, args.Read)
	}

	switch {
	case len(tx) > 0 && rx != nil:
		err = eng.WriteThenRead(tx, rx)
	case len(tx) > 0:
		err = eng.Transfer(tx, nil)
	case rx != nil:
		err = eng.Transfer(nil, rx)
	default:
		return errors.New("nothing to do; pass -write and/or -read, or -status")
	}
	if err != nil {
		return err
	}

	if rx != nil {
		logger.Infof("read %s", hex.EncodeToString(rx))
	}
	return nil
}
