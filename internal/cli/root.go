// Package cli provides the command-line interface for csvup.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/logging"
	"github.com/rescale/csvup/internal/version"
)

var (
	// Global flags
	cfgFile              string
	accessKey            string
	uploadURL            string
	existsURL            string
	logFile              string
	verbose              bool
	noNotifications      bool
	desktopNotifications bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "csvup",
		Short: "Parse, preview and upload CSV files with resumable transfers",
		Long: `csvup ` + version.Version + `
Parses a CSV file incrementally, previews it as a paginated table, checks
whether a file with the same name already exists remotely and uploads it
over the tus resumable upload protocol.

Uploads can be paused, resumed and aborted while they run. An interrupted
upload continues from the server's offset the next time the same file is
uploaded.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := ""
			file := logFile
			if cfg, err := loadConfig(); err == nil {
				level = cfg.LogLevel
				file = cfg.LogFile
			}
			if verbose {
				level = "debug"
			}
			logger = logging.NewLogger(logging.Options{Level: level, File: file})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path (default "+config.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&accessKey, "access-key", "", "Access key sent with existence checks and uploads")
	rootCmd.PersistentFlags().StringVar(&uploadURL, "upload-url", "", "tus upload endpoint (overrides config)")
	rootCmd.PersistentFlags().StringVar(&existsURL, "exists-url", "", "File existence endpoint (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&noNotifications, "no-notifications", false, "Do not show success and error notifications")
	rootCmd.PersistentFlags().BoolVar(&desktopNotifications, "desktop-notifications", false, "Also send notifications to the desktop")

	rootCmd.Version = version.Version

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\n\nReceived signal %v, cancelling operations...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.ExecuteContext(rootContext)

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newPreviewCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}
