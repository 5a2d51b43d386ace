package main

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synthread/cc2538-flash/flash"
	"github.com/synthread/cc2538-flash/probe"
	"github.com/synthread/cc2538-flash/sim"
	"github.com/synthread/cc2538-flash/target"
)

var rootCmd = &cobra.Command{
	Use:   "cc2538-flash",
	Short: "Program CC2538 internal flash through a RAM loader",
	Long: `Program CC2538 internal flash through a RAM loader.

The loader is copied into target RAM over a serial SWD bridge and fed erase
and program commands through two parameter blocks in turn.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetCount("verbose")
		switch {
		case verbose >= 2:
			logrus.SetLevel(logrus.TraceLevel)
		case verbose == 1:
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("port", "p", probe.DefaultTTY, "Bridge serial port, or tcp:HOST:PORT")
	pf.IntP("baud", "b", probe.DefaultBaud, "Bridge baud rate")
	pf.Int("reset-gpio", 0, "GPIO wired to the target reset line, 0 for none")
	pf.StringP("loader", "l", "", "Loader binary linked to run at 0x20000000")
	pf.Duration("timeout", flash.DefaultTimeout, "Timeout for each loader operation")
	pf.Bool("simulate", false, "Run against an in-process simulated device")
	pf.CountP("verbose", "v", "Log more, repeat for wire traces")
}

// connect opens the debug connection and builds a bank on it. The returned
// func closes the connection.
func connect(cmd *cobra.Command) (*flash.Bank, func(), error) {
	flags := cmd.Flags()
	simulate, _ := flags.GetBool("simulate")
	loaderPath, _ := flags.GetString("loader")
	timeout, _ := flags.GetDuration("timeout")

	var tgt target.Target
	closeFn := func() {}

	if simulate {
		tgt = sim.New(nil)
	} else {
		p, err := openProbe(cmd)
		if err != nil {
			return nil, nil, err
		}
		tgt = p
		closeFn = func() { p.Close() }
	}

	var image []byte
	switch {
	case loaderPath != "":
		var err error
		if image, err = flash.LoadLoader(loaderPath); err != nil {
			closeFn()
			return nil, nil, err
		}
	case simulate:
		image = sim.LoaderImage
	}

	bank, err := flash.NewBank(tgt, &flash.Config{
		Loader:  image,
		Timeout: timeout,
	})
	if err != nil {
		closeFn()
		return nil, nil, errors.Wrap(err, "use --loader to name the loader binary")
	}
	return bank, closeFn, nil
}

func openProbe(cmd *cobra.Command) (*probe.Probe, error) {
	flags := cmd.Flags()
	port, _ := flags.GetString("port")
	baud, _ := flags.GetInt("baud")
	resetGPIO, _ := flags.GetInt("reset-gpio")

	c := &probe.Config{
		TTY:       port,
		Baud:      baud,
		ResetGPIO: resetGPIO,
	}

	if addr, ok := strings.CutPrefix(port, "tcp:"); ok {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			return nil, errors.Wrapf(err, "could not dial %s", addr)
		}
		logrus.Debugf("opened connection to %s", addr)
		return probe.New(conn, c)
	}
	return probe.Open(c)
}

// parseUint accepts decimal, 0x hex and 0 octal
func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "bad number %q", s)
	}
	return uint32(v), nil
}
