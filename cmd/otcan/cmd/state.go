package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	stateWatch    bool
	stateInterval time.Duration
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Report the CAN controller bus state and error counters",
	Long: `State reads the controller bus state (error-active, error-warning,
error-passive, bus-off) together with the receive and transmit error
counters. With --watch it keeps polling until interrupted.`,
	RunE: runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.Flags().BoolVarP(&stateWatch, "watch", "w", false, "keep polling until interrupted")
	stateCmd.Flags().DurationVar(&stateInterval, "interval", time.Second, "polling interval with --watch")
}

func runState(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	printState := func() error {
		st, err := s.GetState(uint8(cfg.Adapter.Channel))
		if err != nil {
			return err
		}
		fmt.Printf("%s  rx-errors %d  tx-errors %d\n", st.State, st.RxErrors, st.TxErrors)
		return nil
	}

	if err := printState(); err != nil {
		return err
	}
	if !stateWatch {
		return nil
	}

	ticker := time.NewTicker(stateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printState(); err != nil {
				return err
			}
		}
	}
}
