package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/austinmroczek/neovolta/config"
	"github.com/austinmroczek/neovolta/internal/api"
	"github.com/austinmroczek/neovolta/internal/collector"
	"github.com/austinmroczek/neovolta/internal/inverter"
	"github.com/austinmroczek/neovolta/internal/logging"
	"github.com/austinmroczek/neovolta/internal/modbus"
	"github.com/austinmroczek/neovolta/internal/mqtt"
	"github.com/austinmroczek/neovolta/internal/retry"
	"github.com/austinmroczek/neovolta/internal/setup"
	"github.com/austinmroczek/neovolta/internal/stats"
	"github.com/austinmroczek/neovolta/internal/storage"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "neovolta-monitor",
		Short:        "NeoVolta inverter monitor",
		Long:         "A tool to monitor NeoVolta battery inverters via Modbus TCP",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the configuration and installs the process logger.
func load(validate bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, logger, nil
}

func newClient(cfg *config.Config, st *stats.Stats, logger *zap.Logger) (*modbus.Session, *inverter.Client, error) {
	session, err := modbus.NewSession(modbus.Config{
		Host:    cfg.Inverter.Host,
		Port:    cfg.Inverter.Port,
		Timeout: cfg.Inverter.Timeout,
		Driver:  cfg.Inverter.Driver,
	}, modbus.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	ctrl := retry.NewController(session, setup.Policy(cfg), retry.WithStats(st), retry.WithLogger(logger))
	client := inverter.NewClient(ctrl, inverter.WithUnit(cfg.Inverter.UnitID), inverter.WithLogger(logger))

	return session, client, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring service",
		Long:  "Start the collector, API server, and MQTT publisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(true)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			st := stats.New()
			session, client, err := newClient(cfg, st, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			var store collector.Store
			if cfg.Database.Enabled {
				db, err := storage.NewDatabase(cfg.Database.Path)
				if err != nil {
					return err
				}
				defer db.Close()
				store = db
				logger.Info("database opened", zap.String("path", cfg.Database.Path))
			}

			var pub collector.Publisher
			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:          cfg.MQTT.Broker,
				ClientID:        cfg.MQTT.ClientID,
				Username:        cfg.MQTT.Username,
				Password:        cfg.MQTT.Password,
				TopicPrefix:     cfg.MQTT.TopicPrefix,
				DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
				Enabled:         cfg.MQTT.Enabled,
				Logger:          logger,
			})
			if err != nil {
				logger.Warn("mqtt unavailable, publishing disabled", zap.Error(err))
			} else {
				defer publisher.Close()
				if cfg.MQTT.Enabled {
					pub = publisher
				}
			}

			coll := collector.NewCollector(collector.CollectorConfig{
				Client:        client,
				Store:         store,
				Publisher:     pub,
				Stats:         st,
				Interval:      cfg.Collector.Interval,
				StatsSchedule: cfg.Collector.StatsSchedule,
				Enabled:       cfg.Collector.Enabled,
				Logger:        logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return coll.Start(ctx)
			})

			if cfg.API.Enabled {
				server := api.NewServer(api.ServerConfig{
					Port:   cfg.API.Port,
					Source: coll,
					Stats:  st,
					Config: cfg,
					Validator: func(ctx context.Context, c *config.Config) (*setup.Result, error) {
						return setup.Validate(ctx, c, logger)
					},
					Logger: logger,
				})

				eg.Go(func() error {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				eg.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return server.Stop(shutdownCtx)
				})
			}

			logger.Info("neovolta monitor started", zap.String("inverter", cfg.Inverter.Host))
			err = eg.Wait()
			logger.Info("shutting down", zap.Object("stats", st.Counters()))
			return err
		},
	}
}

func readCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read data once from the inverter",
		Long:  "Connect to the inverter and read all data once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(true)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			session, client, err := newClient(cfg, stats.New(), logger)
			if err != nil {
				return err
			}
			defer session.Close()

			snap, err := client.FetchSnapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read data: %w", err)
			}

			switch output {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(snap)
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json|yaml)")
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test connection to the inverter",
		Long:  "Validate the inverter address and read its serial number",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(false)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Testing connection to %s:%d...\n", cfg.Inverter.Host, cfg.Inverter.Port)

			res, err := setup.Validate(cmd.Context(), cfg, logger)
			if err != nil {
				fmt.Fprintf(out, "Connection FAILED: %s\n", setup.Message(err))
				return err
			}

			fmt.Fprintln(out, "Connection SUCCESS!")
			fmt.Fprintf(out, "  Serial Number: %s\n", res.SerialNumber)
			return nil
		},
	}
}
