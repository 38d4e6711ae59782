package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/OpenTraceCAN/pkg/gsusb"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List attached GS-USB adapters",
	Long: `Scan enumerates the USB bus and lists every known GS-USB adapter
with its bus/address pair, which --bus and --address accept to pick one
of several attached adapters.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	adapters, err := gsusb.Scan()
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		fmt.Println("No GS-USB adapters found.")
		return nil
	}

	fmt.Printf("Found %d adapter(s):\n", len(adapters))
	for i, a := range adapters {
		fmt.Printf("%3d: bus %03d addr %03d  %04x:%04x  %s",
			i, a.Bus, a.Address, a.VendorID, a.ProductID, a.Description)
		if a.Serial != "" {
			fmt.Printf("  serial %s", a.Serial)
		}
		fmt.Println()
	}
	return nil
}
