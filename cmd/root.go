package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pvsim/pvsim/config"
	"github.com/pvsim/pvsim/infra/logger"
)

var (
	cfgPath    string
	amqpURL    string
	exchange   string
	verbosity  int
	realtime   bool
	noRealtime bool
	freeRun    bool
)

var rootCmd = &cobra.Command{
	Use:   "pvsim",
	Short: "Simulated smart meter and PV plant exchanging readings over a message broker",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is fine; explicit environment always wins.
		_ = godotenv.Load()
		logger.SetVerbosity(verbosity)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
	pf.StringVar(&amqpURL, "amqp-url", "", "AMQP broker URL (overrides config and AMQP_URL)")
	pf.StringVar(&exchange, "exchange", "", "fanout exchange name (overrides config)")
	pf.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	pf.BoolVar(&realtime, "realtime", true, "pace ticks to the wall clock")
	pf.BoolVar(&noRealtime, "no-realtime", false, "tick as fast as possible (same as --realtime=false)")
	pf.BoolVar(&freeRun, "free-run", false, "tick as fast as possible instead of realtime")
	_ = pf.MarkHidden("free-run")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig loads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if amqpURL != "" {
		cfg.Broker.AMQP.URL = amqpURL
	}
	if exchange != "" {
		cfg.Broker.AMQP.Exchange = exchange
	}
	if !realtime || noRealtime || freeRun {
		cfg.Clock.FreeRun = true
	}
	return cfg, nil
}
