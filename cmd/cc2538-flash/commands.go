package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cheggaaa/pb"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/synthread/cc2538-flash/flash"
)

// withBank runs fn on a connected bank and closes the connection afterwards.
// An interrupt cancels the operation; teardown still halts the target.
func withBank(cmd *cobra.Command, fn func(ctx context.Context, b *flash.Bank) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, closeFn, err := connect(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := b.Probe(ctx); err != nil {
		return err
	}
	return fn(ctx, b)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show chip ID and flash geometry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBank(cmd, func(ctx context.Context, b *flash.Bank) error {
			fmt.Fprint(cmd.OutOrStdout(), b.Info())
			return nil
		})
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase FIRST LAST",
	Short: "Erase sectors FIRST through LAST",
	Long: `Erase sectors FIRST through LAST inclusive. Covering every sector
performs a mass erase, which also clears the lock bits.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		first, err := parseUint(args[0])
		if err != nil {
			return err
		}
		last, err := parseUint(args[1])
		if err != nil {
			return err
		}
		return withBank(cmd, func(ctx context.Context, b *flash.Bank) error {
			return b.Erase(ctx, int(first), int(last))
		})
	},
}

var massEraseCmd = &cobra.Command{
	Use:   "mass-erase",
	Short: "Erase the whole flash bank",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBank(cmd, func(ctx context.Context, b *flash.Bank) error {
			return b.MassErase(ctx)
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write FILE OFFSET",
	Short: "Program a raw binary at OFFSET from the start of flash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := parseUint(args[1])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Wrap(err, "could not read image")
		}
		erase, _ := cmd.Flags().GetBool("erase")

		return withBank(cmd, func(ctx context.Context, b *flash.Bank) error {
			if erase && len(data) > 0 {
				first := int(offset / b.SectorSize())
				last := int((offset + uint32(len(data)) - 1) / b.SectorSize())
				if err := b.Erase(ctx, first, last); err != nil {
					return errors.Wrap(err, "could not erase")
				}
			}

			bar := pb.New(len(data)).SetUnits(pb.U_BYTES)
			bar.Output = cmd.ErrOrStderr()
			bar.Start()
			b.SetProgress(func(done, total int) { bar.Set(done) })

			err := b.Write(ctx, data, offset)
			bar.Finish()
			return err
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read OFFSET LENGTH FILE",
	Short: "Read LENGTH bytes of flash at OFFSET into FILE",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := parseUint(args[0])
		if err != nil {
			return err
		}
		length, err := parseUint(args[1])
		if err != nil {
			return err
		}
		return withBank(cmd, func(ctx context.Context, b *flash.Bank) error {
			bs, err := b.Read(ctx, offset, length)
			if err != nil {
				return err
			}
			return os.WriteFile(args[2], bs, 0o644)
		})
	},
}

var blankCheckCmd = &cobra.Command{
	Use:   "blank-check",
	Short: "Report which sectors are erased",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBank(cmd, func(ctx context.Context, b *flash.Bank) error {
			if err := b.BlankCheck(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, s := range b.Sectors() {
				state := "data"
				if s.IsErased == 1 {
					state = "blank"
				}
				fmt.Fprintf(out, "%3d 0x%08x %s\n", i, b.Base()+s.Offset, state)
			}
			return nil
		})
	},
}

func init() {
	writeCmd.Flags().BoolP("erase", "e", false, "Erase the touched sectors first")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(massEraseCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(blankCheckCmd)
}
