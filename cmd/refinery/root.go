package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"refinery/internal/logging"
)

var (
	flagConfig      string
	flagVerbose     bool
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "Iterative code refinement loop",
	Long: `refinery runs an autonomous generate-evaluate-refine loop over code
modification tasks, applying changesets transactionally and stopping when the
work is good enough rather than perfect.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to refinery.yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "echo debug logs to stderr")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(runCmd)
}

// setupLogger configures the shared file logger per the global flags.
func setupLogger(component string) *logging.FileLogger {
	logger := logging.NewComponentLogger(component)
	if flagVerbose {
		logger.SetLevel(logging.DEBUG)
		logger.EchoStderr(true)
	} else {
		logger.SetLevel(logging.INFO)
	}
	return logger
}

// startMetrics serves /metrics when --metrics-addr is set.
func startMetrics(logger logging.Logger) {
	if flagMetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
			logger.Error("metrics server: %v", err)
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	logger.Info("serving metrics on %s", flagMetricsAddr)
}
