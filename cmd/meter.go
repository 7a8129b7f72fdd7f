package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pvsim/pvsim/app"
	"github.com/pvsim/pvsim/infra/logger"
)

var meterCmd = &cobra.Command{
	Use:   "meter",
	Short: "Publish simulated household demand readings",
	Long: "Publishes one random demand reading per tick to the broker's fanout " +
		"exchange. Keeps publishing through broker outages; readings that fall " +
		"into an outage are dropped.",
	RunE: runMeter,
}

func init() {
	rootCmd.AddCommand(meterCmd)
}

func runMeter(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.NewMeter(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
