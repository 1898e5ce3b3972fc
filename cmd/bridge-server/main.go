package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hl7bridge/hl7bridge/internal/api"
	"github.com/hl7bridge/hl7bridge/internal/bridge"
	"github.com/hl7bridge/hl7bridge/internal/config"
	"github.com/hl7bridge/hl7bridge/internal/mllp"
	"github.com/hl7bridge/hl7bridge/internal/platform/telemetry"
	"github.com/hl7bridge/hl7bridge/internal/validate"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge-server",
		Short: "HL7v2 to FHIR interoperability bridge",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MLLP listener and HTTP admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send an HL7v2 message file over MLLP and print the acknowledgment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return runSend(addr, args[0], timeout)
		},
	}
	cmd.Flags().String("addr", "localhost:2575", "target host:port")
	cmd.Flags().Duration("timeout", 30*time.Second, "acknowledgment timeout")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate Brazilian patient identifiers",
	}

	cpfCmd := &cobra.Command{
		Use:   "cpf [number]",
		Short: "Validate a CPF number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.CPF(args[0]); err != nil {
				return err
			}
			fmt.Println(validate.FormatCPF(args[0]), "valid")
			return nil
		},
	}

	cnsCmd := &cobra.Command{
		Use:   "cns [number]",
		Short: "Validate a CNS number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validate.CNS(args[0]); err != nil {
				return err
			}
			fmt.Println(validate.FormatCNS(args[0]), "valid")
			return nil
		},
	}

	cmd.AddCommand(cpfCmd)
	cmd.AddCommand(cnsCmd)
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	metrics := telemetry.New()

	// Outbound connector, when a downstream target is configured.
	var connector *mllp.Connector
	if cfg.ForwardingEnabled() {
		connector, err = mllp.NewConnector(mllp.ConnectorConfig{
			Addr:           cfg.TargetAddr,
			PoolSize:       cfg.PoolSize,
			Framing:        cfg.Framing(),
			Encoding:       mllp.Encoding(cfg.Encoding),
			DialTimeout:    cfg.DialTimeout,
			AckTimeout:     cfg.AckTimeout,
			AcquireTimeout: cfg.AcquireTimeout,
			HealthInterval: cfg.HealthInterval,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			Logger:         logger.With().Str("component", "connector").Logger(),
			Metrics:        metrics,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create connector")
		}
		if err := connector.Connect(); err != nil {
			// The connector reconnects in the background; start anyway.
			logger.Warn().Err(err).Str("target", cfg.TargetAddr).Msg("downstream target unavailable")
		}
		defer connector.Close()
	}

	// MLLP listener feeding the pipeline.
	pipeline := bridge.NewPipeline(
		logger.With().Str("component", "pipeline").Logger(),
		bridge.LogSink{Logger: logger.With().Str("component", "sink").Logger()},
		connector,
	)
	server, err := mllp.NewServer(mllp.ServerConfig{
		Addr:        cfg.MLLPAddr,
		Framing:     cfg.Framing(),
		Encoding:    mllp.Encoding(cfg.Encoding),
		MaxBuffer:   cfg.MaxMessageBytes,
		IdleTimeout: cfg.IdleTimeout,
		AutoAck:     cfg.AutoAck,
		Logger:      logger.With().Str("component", "mllp").Logger(),
		Metrics:     metrics,
	}, pipeline)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create mllp server")
	}
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start mllp server")
	}

	// HTTP admin surface
	e := api.NewRouter(&api.Handler{
		Logger:    logger.With().Str("component", "http").Logger(),
		Metrics:   metrics,
		Connector: connector,
	})

	go func() {
		addr := ":" + cfg.HTTPPort
		logger.Info().Str("addr", addr).Msg("starting http server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := server.Stop(); err != nil {
		logger.Error().Err(err).Msg("mllp shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runSend(addr, file string, timeout time.Duration) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	conn, err := mllp.Dial(addr, mllp.ClientConfig{AckTimeout: timeout})
	if err != nil {
		return err
	}
	defer conn.Close()

	ack, err := conn.Send(mllp.RawPayload(string(raw)))
	if err != nil {
		return err
	}

	msa := ack.GetSegment("MSA")
	if msa == nil {
		return fmt.Errorf("acknowledgment has no MSA segment")
	}
	fmt.Printf("ack: %s (control id %s)\n", msa.GetField(1), msa.GetField(2))
	return nil
}
