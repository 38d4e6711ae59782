package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCAN/pkg/gsusb"
)

var (
	sendBitrate     uint32
	sendDataBitrate uint32
	sendFD          bool
	sendBRS         bool
	sendExtended    bool
	sendRemote      bool
	sendLoopback    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <id> [data]...",
	Short: "Transmit one frame and wait for the transmit confirmation",
	Long: `Send transmits a single frame. The identifier and the data bytes are
hexadecimal; data may be one string or separate bytes. Identifiers above
7FF use extended addressing automatically, --extended forces it for
small values.

Examples:
  otcan send 123 DEADBEEF
  otcan send 123 de ad be ef
  otcan send 1ABCDEF0 0102
  otcan send --fd --brs 321 00112233445566778899AABBCCDDEEFF
  otcan send --rtr 456`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	f := sendCmd.Flags()
	f.Uint32Var(&sendBitrate, "bitrate", 0, "nominal bitrate in bit/s (default from config)")
	f.Uint32Var(&sendDataBitrate, "data-bitrate", 0, "FD data-phase bitrate in bit/s (default from config)")
	f.BoolVar(&sendFD, "fd", false, "send a CAN FD frame")
	f.BoolVar(&sendBRS, "brs", false, "switch bitrate for the FD data phase")
	f.BoolVar(&sendExtended, "extended", false, "use a 29-bit identifier")
	f.BoolVar(&sendRemote, "rtr", false, "send a remote transmission request")
	f.BoolVar(&sendLoopback, "loopback", false, "start in loopback mode and print the received copy")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	id64, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("identifier %q: %w", args[0], err)
	}
	id := uint32(id64)
	if id > gsusb.CANEFFMask {
		return fmt.Errorf("identifier %X exceeds 29 bits", id)
	}

	data, err := hex.DecodeString(strings.Join(args[1:], ""))
	if err != nil {
		return fmt.Errorf("data bytes: %w", err)
	}

	var f gsusb.Frame
	if sendFD {
		f = gsusb.NewFDFrame(id, data, sendBRS)
	} else {
		f = gsusb.NewFrame(id, data)
	}
	if sendExtended || id > gsusb.CANSFFMask {
		f.ID |= gsusb.CANEFFFlag
	}
	if sendRemote {
		f.ID |= gsusb.CANRTRFlag
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bitrate := cfg.Adapter.Bitrate
	if sendBitrate != 0 {
		bitrate = sendBitrate
	}
	if err := s.SetBitrate(bitrate); err != nil {
		return err
	}

	mode := gsusb.ModeNormal
	if sendFD {
		dataRate := cfg.Adapter.DataBitrate
		if sendDataBitrate != 0 {
			dataRate = sendDataBitrate
		}
		if err := s.SetDataBitrate(dataRate); err != nil {
			return err
		}
		mode |= gsusb.ModeFD
	}
	if sendLoopback {
		mode |= gsusb.ModeLoopBack
	}
	if err := s.Start(mode); err != nil {
		return err
	}

	if err := s.Send(f, cfg.Adapter.SendTimeout); err != nil {
		return err
	}
	fmt.Printf("sent  %s\n", f.ColorString())

	if sendLoopback {
		rx, err := s.Read(cfg.Adapter.ReadTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("rx    %s\n", rx.ColorString())
	}
	return nil
}
