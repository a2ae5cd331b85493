package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cbegin/scoresync-go/internal/config"
	"github.com/cbegin/scoresync-go/internal/errs"
)

var (
	configPath string
	backendArg string
	logLevel   string

	cfg config.Config
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:           "scoresync",
	Short:         "Practice a MusicXML score with synchronized playback",
	Long:          `scoresync loads a MusicXML score, lays it out, plays it back and keeps the highlighted measure in step with the audio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, !cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		if backendArg != "" {
			cfg.Backend = strings.ToLower(strings.TrimSpace(backendArg))
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log.SetLevel(cfg.Level())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "scoresync.yaml", "settings file")
	rootCmd.PersistentFlags().StringVar(&backendArg, "backend", "", "renderer backend: tab|notation")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// signalContext is cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Debug("command failed")
		fmt.Fprintln(os.Stderr, errs.Message(err))
		os.Exit(1)
	}
}
