package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wakemic/internal/audio"
	"wakemic/internal/bootstrap"
	"wakemic/internal/config"
	"wakemic/internal/domain"
	"wakemic/internal/logging"
	"wakemic/internal/metrics"
	"wakemic/internal/usecase"
)

var (
	cfgFile     string
	logLevel    string
	outDir      string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "wakemic",
	Short: "Wake word listener that captures spoken commands",
	Long: `wakemic listens for a wake phrase through a streaming recognizer and
records the command spoken after it.

Configuration:
  1. --config flag (explicit path)
  2. $WAKEMIC_CONFIG
  3. $HOME/.config/wakemic/config.yaml

Environment variables use the WAKEMIC_ prefix with dots replaced by
underscores, e.g. WAKEMIC_TIMEOUTS_HARD_CAP=15000. DEEPGRAM_API_KEY is
also honored.`,
	SilenceUsage: true,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for the wake phrase and save each command recording",
	RunE:  runListen,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report the container format command captures will use",
	RunE:  runProbe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/wakemic/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	listenCmd.Flags().StringVar(&outDir, "out", "", "directory for command recordings (overrides config)")
	listenCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logging.New(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console}, nil), nil
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	writer, err := newCommandWriter(cfg.Output.Dir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	services, err := bootstrap.Build(cfg, log, reg)
	if err != nil {
		return err
	}
	controller := services.Controller

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.ListenAndServe(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	err = controller.Initialize(ctx, usecase.Callbacks{
		OnStateChange: func(state domain.State) {
			log.Debug().Str("state", string(state)).Msg("state")
		},
		OnCommandAudio: func(recording domain.EncodedAudio) {
			path, err := writer.Write(recording)
			if err != nil {
				log.Error().Err(err).Msg("failed to save command")
			} else {
				log.Info().Str("path", path).Int("bytes", len(recording.Data)).Msg("command saved")
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			controller.NotifySpeakingDone()
		},
		OnError: func(code domain.ErrorCode, message string) {
			log.Error().Str("code", string(code)).Msg(message)
		},
	})
	if err != nil {
		_ = controller.Close()
		return fmt.Errorf("wake word listening unavailable: %w", err)
	}

	log.Info().Strs("variants", cfg.Wake.Variants).Str("out", cfg.Output.Dir).Msg("waiting for wake phrase")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	return controller.Close()
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Capture.Format != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (configured)\n", cfg.Capture.Format)
		return nil
	}

	format, err := audio.ProbeFormat(context.Background(), cfg.Audio.FFMPEGCommand)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), format)
	return nil
}
