package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCAN/pkg/gsusb"
)

var bitratesFD bool

var bitratesCmd = &cobra.Command{
	Use:   "bitrates",
	Short: "Show the timing solutions this device can realize",
	Long: `Bitrates computes the bit-timing registers for the standard CAN rates
against the attached device's core clock and register limits, the same
way SetBitrate does. Rates the hardware cannot hit exactly are marked.`,
	RunE: runBitrates,
}

func init() {
	rootCmd.AddCommand(bitratesCmd)
	bitratesCmd.Flags().BoolVar(&bitratesFD, "fd", false, "show FD data-phase rates too")
}

var (
	nominalRates = []uint32{10000, 20000, 50000, 100000, 125000, 250000, 500000, 800000, 1000000}
	dataRates    = []uint32{1000000, 2000000, 4000000, 5000000, 8000000}
)

func runBitrates(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	caps := s.Capability()
	fmt.Printf("Core clock %d Hz\n", caps.ClockHz)

	fmt.Println("\nNominal rates:")
	printRates(nominalRates, caps.ClockHz, gsusb.SamplePointClassic, caps.Limits)

	if bitratesFD {
		if !caps.Feature.Has(gsusb.FeatureFD) {
			return fmt.Errorf("device has no FD support")
		}
		limits := caps.Limits
		if caps.HasDataLimits {
			limits = caps.DataLimits
		}
		fmt.Println("\nData-phase rates:")
		printRates(dataRates, caps.ClockHz, gsusb.SamplePointFD, limits)
	}
	return nil
}

func printRates(rates []uint32, clockHz, samplePoint uint32, limits gsusb.TimingLimits) {
	for _, rate := range rates {
		bt, err := gsusb.ComputeBitTiming(rate, clockHz, samplePoint, limits)
		if err != nil {
			fmt.Printf("  %8d bit/s  not achievable\n", rate)
			continue
		}
		sp := bt.SamplePoint()
		fmt.Printf("  %8d bit/s  prescaler %-4d  %2d quanta  sample point %d.%d%%  sjw %d\n",
			rate, bt.BRP, bt.Quanta(), sp/10, sp%10, bt.SJW)
	}
}
