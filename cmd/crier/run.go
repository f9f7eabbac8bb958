package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zulandar/crier/internal/config"
	"github.com/zulandar/crier/internal/contacts"
	"github.com/zulandar/crier/internal/crier"
	"github.com/zulandar/crier/internal/crier/discord"
	"github.com/zulandar/crier/internal/crier/slack"
	"github.com/zulandar/crier/internal/deliveries"
	"github.com/zulandar/crier/internal/logging"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Crier daemon",
		Long: "Connects to the configured chat platform and serves .todo, .notify and .help until interrupted. " +
			"SIGHUP restarts the chat session without stopping the process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, configPath, envFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Crier config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the config")
	return cmd
}

func runDaemon(cmd *cobra.Command, configPath, envFile string) error {
	if err := loadEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Opts{Level: cfg.Log.Level, Format: cfg.Log.Format, Dir: cfg.Log.Dir})
	if err != nil {
		return err
	}
	defer logger.Sync()

	gormDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	book, err := contacts.NewBook(contacts.BookOpts{DB: gormDB, Normalizer: crier.Normalizer(cfg)})
	if err != nil {
		return err
	}
	deliveryLog, err := deliveries.NewLog(gormDB)
	if err != nil {
		return err
	}
	sink, err := crier.NewFileSink(crier.FileSinkOpts{Path: cfg.Recovery.Path, Out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	connector, err := newConnector(cfg, logger)
	if err != nil {
		return err
	}

	daemon, err := crier.NewDaemon(crier.DaemonOpts{
		Config:    cfg,
		Connector: connector,
		Book:      book,
		Recorder:  deliveryLog,
		Sink:      sink,
		Logger:    logger,
		Out:       cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT and SIGTERM stop the daemon; SIGHUP restarts the session.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					if !daemon.Restart() {
						logger.Info("restart already pending")
					}
					continue
				}
				logger.Info("shutdown signal received", zap.Stringer("signal", sig))
				cancel()
				return
			}
		}
	}()

	return daemon.Run(ctx)
}

// loadEnv loads a dotenv file. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// newConnector builds the platform connector from the config.
func newConnector(cfg *config.Config, logger *zap.Logger) (crier.Connector, error) {
	switch cfg.Platform.Name {
	case "discord":
		return discord.Connector(discord.ConnectionOpts{
			BotToken: cfg.Platform.Discord.BotToken,
			Logger:   logger.Named("discord"),
		}), nil
	case "slack":
		return slack.Connector(slack.ConnectionOpts{
			AppToken: cfg.Platform.Slack.AppToken,
			BotToken: cfg.Platform.Slack.BotToken,
			Logger:   logger.Named("slack"),
		}), nil
	default:
		return nil, fmt.Errorf("crier: unsupported platform %q", cfg.Platform.Name)
	}
}
