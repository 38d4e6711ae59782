package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var identifyDuration time.Duration

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Blink the adapter LED to tell devices apart",
	RunE:  runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().DurationVarP(&identifyDuration, "duration", "d", 5*time.Second, "how long to blink")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SetIdentify(true); err != nil {
		return err
	}
	fmt.Printf("Blinking for %v...\n", identifyDuration)

	select {
	case <-ctx.Done():
	case <-time.After(identifyDuration):
	}
	return s.SetIdentify(false)
}
