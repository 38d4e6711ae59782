package cmd

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceCAN/pkg/gsusb"
)

var (
	dumpBitrate     uint32
	dumpDataBitrate uint32
	dumpFD          bool
	dumpListenOnly  bool
	dumpTimestamp   bool
	dumpState       bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Monitor bus traffic, candump style",
	Long: `Dump configures the channel, starts it and prints every received
frame until interrupted. Transmissions from other nodes show up as they
arrive; error frames are flagged in the output.

Examples:
  otcan dump --bitrate 500000
  otcan dump --bitrate 500000 --listen-only --timestamp
  otcan dump --fd --bitrate 500000 --data-bitrate 2000000`,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	f := dumpCmd.Flags()
	f.Uint32Var(&dumpBitrate, "bitrate", 0, "nominal bitrate in bit/s (default from config)")
	f.Uint32Var(&dumpDataBitrate, "data-bitrate", 0, "FD data-phase bitrate in bit/s (default from config)")
	f.BoolVar(&dumpFD, "fd", false, "enable CAN FD reception")
	f.BoolVar(&dumpListenOnly, "listen-only", false, "do not acknowledge frames on the bus")
	f.BoolVarP(&dumpTimestamp, "timestamp", "t", false, "prefix frames with the hardware timestamp")
	f.BoolVar(&dumpState, "state", false, "report controller state changes while dumping")
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bitrate := cfg.Adapter.Bitrate
	if dumpBitrate != 0 {
		bitrate = dumpBitrate
	}
	if err := s.SetBitrate(bitrate); err != nil {
		return err
	}

	mode := gsusb.ModeNormal
	if dumpListenOnly {
		mode |= gsusb.ModeListenOnly
	}
	if dumpFD {
		dataRate := cfg.Adapter.DataBitrate
		if dumpDataBitrate != 0 {
			dataRate = dumpDataBitrate
		}
		if err := s.SetDataBitrate(dataRate); err != nil {
			return err
		}
		mode |= gsusb.ModeFD
	}
	if dumpTimestamp {
		mode |= gsusb.ModeHWTimestamp
	}
	if err := s.Start(mode); err != nil {
		return err
	}
	fmt.Printf("Listening on channel %d at %d bit/s, Ctrl-C to stop.\n",
		cfg.Adapter.Channel, bitrate)

	var frames atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			f, err := s.Read(500 * time.Millisecond)
			if gctx.Err() != nil {
				return nil
			}
			if err != nil {
				if errors.Is(err, gsusb.ErrReadTimeout) {
					continue
				}
				return err
			}
			frames.Add(1)
			if dumpTimestamp {
				fmt.Printf("(%4d.%06d)  ch%d  %s\n",
					f.Timestamp/1000000, f.Timestamp%1000000, f.Channel, f.ColorString())
			} else {
				fmt.Printf("  ch%d  %s\n", f.Channel, f.ColorString())
			}
		}
	})

	poll, noState := statePolling(dumpState, s.Capability())
	if noState {
		logger.Warn("adapter does not report controller state, --state has no effect")
	}
	if poll {
		g.Go(func() error {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			var last gsusb.BusState
			var haveLast bool
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					st, err := s.GetState(uint8(cfg.Adapter.Channel))
					if err != nil {
						if gctx.Err() != nil {
							return nil
						}
						return err
					}
					if !haveLast || st.State != last {
						fmt.Printf("  controller %s  rx-errors %d  tx-errors %d\n",
							st.State, st.RxErrors, st.TxErrors)
						last, haveLast = st.State, true
					}
				}
			}
		})
	}

	err = g.Wait()
	fmt.Printf("\n%d frame(s), %d dropped\n", frames.Load(), s.DroppedFrames())
	return err
}

// statePolling reports whether the state poller should run, and whether an
// explicit request had to be dropped because the adapter cannot serve it.
func statePolling(requested bool, caps gsusb.DeviceCapability) (poll, unsupported bool) {
	if !requested {
		return false, false
	}
	if !caps.Feature.Has(gsusb.FeatureGetState) {
		return false, true
	}
	return true, false
}
