package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCAN/pkg/gsusb"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device identity, capabilities and timing limits",
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

var featureNames = []struct {
	bit  gsusb.Feature
	name string
}{
	{gsusb.FeatureListenOnly, "listen-only"},
	{gsusb.FeatureLoopBack, "loopback"},
	{gsusb.FeatureTripleSample, "triple-sample"},
	{gsusb.FeatureOneShot, "one-shot"},
	{gsusb.FeatureHWTimestamp, "hw-timestamp"},
	{gsusb.FeatureIdentify, "identify"},
	{gsusb.FeatureUserID, "user-id"},
	{gsusb.FeaturePadPackets, "pad-packets"},
	{gsusb.FeatureFD, "fd"},
	{gsusb.FeatureQuirkLPC546xx, "quirk-lpc546xx"},
	{gsusb.FeatureBTConstExt, "bt-const-ext"},
	{gsusb.FeatureTermination, "termination"},
	{gsusb.FeatureBerrReporting, "berr-reporting"},
	{gsusb.FeatureGetState, "get-state"},
}

func featureList(f gsusb.Feature) string {
	var names []string
	for _, fn := range featureNames {
		if f.Has(fn.bit) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	info := s.Info()
	caps := s.Capability()

	fmt.Println("Device:")
	fmt.Printf("  Channels:    %d\n", info.ChannelCount)
	fmt.Printf("  Firmware:    %d\n", info.FirmwareVersion)
	fmt.Printf("  Hardware:    %d\n", info.HardwareVersion)
	if info.Serial != "" {
		fmt.Printf("  Serial:      %s\n", info.Serial)
	}

	fmt.Println("\nCapabilities:")
	fmt.Printf("  Core clock:  %d Hz\n", caps.ClockHz)
	fmt.Printf("  Features:    %s\n", featureList(caps.Feature))

	fmt.Println("\nNominal timing limits:")
	printLimits(caps.Limits)
	if caps.HasDataLimits {
		fmt.Println("\nData-phase timing limits:")
		printLimits(caps.DataLimits)
	}
	return nil
}

func printLimits(l gsusb.TimingLimits) {
	fmt.Printf("  tseg1 %d..%d  tseg2 %d..%d  sjw max %d  prescaler %d..%d step %d\n",
		l.TSeg1Min, l.TSeg1Max, l.TSeg2Min, l.TSeg2Max,
		l.SJWMax, l.BRPMin, l.BRPMax, l.BRPInc)
}
