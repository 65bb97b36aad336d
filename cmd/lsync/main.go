// Command lsync keeps per-class orientation schedules in sync with the
// remote task tracker.
package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/orientation-ops/lessonsync/internal/config"
	"github.com/orientation-ops/lessonsync/internal/ui"
)

var (
	configPath string
	dbPath     string
	verbose    bool
	noColor    bool

	cfg       *config.Config
	logOutput io.Writer = io.Discard
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "lsync",
	Short: "Sync orientation lesson schedules to the remote task tracker",
	Long: `lsync keeps a local store of lesson schedules, one per class, cloned from a
shared template, and reconciles each class into its remote task list.

Configuration is read from lsync.yaml (current directory or ~/.lsync) and
LSYNC_* environment variables, e.g. LSYNC_REMOTE_TOKEN.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			loaded.Database.Path = dbPath
		}
		if verbose {
			loaded.Log.Verbose = true
		}
		cfg = loaded
		setupLogging()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// setupLogging routes component loggers to the rotating log file when one is
// configured, and to stderr with --verbose.
func setupLogging() {
	var writers []io.Writer
	if cfg.Log.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		writers = append(writers, lj)
		logCloser = lj
	}
	if cfg.Log.Verbose {
		writers = append(writers, os.Stderr)
	}
	switch len(writers) {
	case 0:
		logOutput = io.Discard
	case 1:
		logOutput = writers[0]
	default:
		logOutput = io.MultiWriter(writers...)
	}
}

// newLogger returns a component logger with the given bracketed prefix.
func newLogger(component string) *log.Logger {
	return log.New(logOutput, "["+component+"] ", log.LstdFlags)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Local data:"},
		&cobra.Group{ID: "sync", Title: "Remote sync:"},
		&cobra.Group{ID: "advanced", Title: "Services:"},
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./lsync.yaml or ~/.lsync/lsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Lesson database path (overrides database.path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log component activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ui.Errorf("%v", err)
		os.Exit(1)
	}
}
