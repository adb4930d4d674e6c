package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/yourorg/promptcap/internal/capture"
	"github.com/yourorg/promptcap/internal/config"
	"github.com/yourorg/promptcap/internal/har"
	"github.com/yourorg/promptcap/internal/report"
	"github.com/yourorg/promptcap/internal/server"
	"github.com/yourorg/promptcap/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	cfgPath string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "promptcap",
		Short:         "Capture provider API requests made by a developer tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.cfgPath, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newInitCmd(flags))
	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newReplayCmd(flags))
	root.AddCommand(newHistoryCmd(flags))

	return root
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := flags.cfgPath
			if cfgFile == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				cfgFile = p
			}
			if err := os.MkdirAll(filepath.Dir(cfgFile), 0o755); err != nil {
				return err
			}

			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(config.DefaultContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}
			return nil
		},
	}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen, upstream string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Proxy.Listen = listen
			}
			if upstream != "" {
				cfg.Proxy.Upstream = upstream
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			st := store.NewFileStore(cfg.Output)
			icpt := capture.New(cfg.Capture, st, cmd.OutOrStdout(),
				capture.WithLogger(logger),
				capture.WithMetrics(capture.NewMetrics(reg)),
			)
			srv, err := server.New(cfg.Proxy, icpt, st, reg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides proxy.listen)")
	cmd.Flags().StringVar(&upstream, "upstream", "", "upstream base URL (overrides proxy.upstream)")
	return cmd
}

func newReplayCmd(flags *rootFlags) *cobra.Command {
	var harPath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed the requests of a HAR recording through the interceptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			reqs, err := har.Parse(harPath)
			if err != nil {
				return err
			}

			st := store.NewFileStore(cfg.Output)
			icpt := capture.New(cfg.Capture, st, cmd.OutOrStdout(), capture.WithLogger(logger))
			for _, req := range reqs {
				if err := icpt.Observe(req); err != nil {
					return err
				}
			}
			logger.Info("replay finished", "har", harPath, "requests", len(reqs))
			return nil
		},
	}
	cmd.Flags().StringVar(&harPath, "har", "", "HAR file path")
	_ = cmd.MarkFlagRequired("har")
	return cmd
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List logged captures",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return report.New(store.NewFileStore(cfg.Output), cfg.Output.Dir, cmd.OutOrStdout()).History()
		},
	}
}

func loadConfig(flags *rootFlags, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.cfgPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.SlogLevel()
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
