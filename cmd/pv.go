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

var pvCmd = &cobra.Command{
	Use:   "pv FILE",
	Short: "Consume demand readings and append residual load rows to FILE",
	Long: "Subscribes to the meter readings, simulates PV generation for the " +
		"configured site and appends one CSV row per tick to FILE. Rows keep " +
		"flowing through broker outages, with NaN in the meter columns.",
	Args: cobra.ExactArgs(1),
	RunE: runPV,
}

func init() {
	rootCmd.AddCommand(pvCmd)
}

func runPV(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.NewPV(cfg, args[0])
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
