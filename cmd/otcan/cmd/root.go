package cmd

import (
	"context"
	"fmt"
	"os"

	retry "github.com/avast/retry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceCAN/internal/config"
	"github.com/OpenTraceLab/OpenTraceCAN/internal/logging"
	"github.com/OpenTraceLab/OpenTraceCAN/pkg/gsusb"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string

	busFlag     int
	addressFlag int
	channelFlag int

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "otcan",
	Short: "OpenTraceCAN - tools for GS-USB CAN and CAN FD adapters",
	Long: `OpenTraceCAN talks to candleLight-class USB CAN adapters.

Examples:
  otcan scan                        List attached adapters
  otcan info                        Device identity and capabilities
  otcan dump --bitrate 500000       Monitor bus traffic, candump style
  otcan send 123 DEADBEEF           Transmit one frame
  otcan send --fd --brs 321 0102    Transmit a CAN FD frame
  otcan state --watch               Poll the controller state
  otcan identify                    Blink the adapter LED
  otcan bitrates --fd               Timing solutions for this device`,
	Version:      "0.9.0",
	SilenceUsage: true,
}

// Execute runs the root command with the given context and exits non-zero
// on error. Cobra already printed the error by the time we get it.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = setup
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default otcan.yaml in . or ~/.config/otcan)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "log format: console or json")
	pf.StringVar(&logFile, "log-file", "", "log to a rotated file instead of stderr")
	pf.IntVar(&busFlag, "bus", -1, "USB bus number of the adapter (see otcan scan)")
	pf.IntVar(&addressFlag, "address", -1, "USB device address of the adapter")
	pf.IntVarP(&channelFlag, "channel", "c", 0, "CAN channel index on the adapter")
}

// setup loads the configuration, lets command-line flags override it and
// builds the logger. Logs go to stderr by default so stdout stays clean
// for frame output.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	pf := rootCmd.PersistentFlags()
	if pf.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if pf.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if pf.Changed("log-file") {
		cfg.Logging.Output = logFile
	}
	if pf.Changed("bus") {
		cfg.Adapter.Bus = busFlag
	}
	if pf.Changed("address") {
		cfg.Adapter.Address = addressFlag
	}
	if pf.Changed("channel") {
		cfg.Adapter.Channel = channelFlag
	}

	logger, err = logging.New(cfg.Logging)
	return err
}

// openTransport claims the configured adapter, retrying a few times:
// enumeration right after plug-in races udev permission setup.
func openTransport(ctx context.Context) (*gsusb.USBTransport, error) {
	var tr *gsusb.USBTransport
	err := retry.Do(func() error {
		var err error
		if cfg.Adapter.Bus >= 0 && cfg.Adapter.Address >= 0 {
			tr, err = gsusb.OpenAdapterAt(cfg.Adapter.Bus, cfg.Adapter.Address)
		} else {
			tr, err = gsusb.OpenAdapter()
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.Adapter.OpenAttempts)),
		retry.Delay(cfg.Adapter.OpenDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("open adapter failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("adapter claimed", zap.String("serial", tr.Serial()))
	return tr, nil
}

// openSession claims the adapter and opens the configured channel on it.
// Closing the returned session also releases the transport.
func openSession(ctx context.Context) (*gsusb.Session, error) {
	if cfg.Adapter.Channel < 0 || cfg.Adapter.Channel > 255 {
		return nil, fmt.Errorf("channel %d out of range 0..255", cfg.Adapter.Channel)
	}
	tr, err := openTransport(ctx)
	if err != nil {
		return nil, err
	}
	s, err := gsusb.Open(tr,
		gsusb.WithChannel(uint8(cfg.Adapter.Channel)),
		gsusb.WithLogger(logger),
	)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return s, nil
}
