package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"netmon/internal/app"
	"netmon/internal/metrics"
)

var (
	settingsPath string
	envFile      string
	reportHours  int

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "netmon",
	Short: "Network performance monitor",
	Long: `netmon measures the internet connection on a schedule, stores the
samples and mails six-hour and daily summary reports.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			return godotenv.Load(envFile)
		}
		// An ./.env next to the binary is optional.
		_ = godotenv.Load()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netmon %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor loop (service mode)",
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics.SetBuildInfo(version, commit, date)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, settingsPath)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.Stop(stopCtx)
			return err
		}

		<-a.Done()
		// A second signal now kills the process the default way.
		stop()

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Stop(stopCtx); err != nil {
			return err
		}
		return a.Err()
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build and mail a report for the trailing hours, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, settingsPath)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return a.ReportNow(ctx, reportHours)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "path to the optional settings YAML")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file first")

	reportCmd.Flags().IntVar(&reportHours, "hours", 6, "trailing hours the report covers")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}
