package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cochaviz/cask/internal/build"
	"github.com/cochaviz/cask/internal/config"
	"github.com/cochaviz/cask/internal/logging"
	"github.com/cochaviz/cask/internal/setup"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.New(logging.ModeCLI, os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&app{logger: logger, levelVar: &levelVar})
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, build.ErrCancelled) {
			slog.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// app carries state resolved by the root command to its subcommands.
type app struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar
	cfg      config.Config
}

func newRootCommand(a *app) *cobra.Command {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	root := &cobra.Command{
		Use:           "cask",
		Short:         "Build capability-specific container images for autonomous agents",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file (default "+setup.DefaultConfigFile()+" if present)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log output format (cli, json)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err := config.Load(path, ".env")
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if logFormat != "" {
			cfg.LogFormat = logFormat
		}
		a.cfg = cfg
		return a.configureLogging()
	}

	root.AddCommand(
		newBuildCommand(a),
		newTemplatesCommand(a),
		newHistoryCommand(a),
		newSetupCommand(a),
	)
	return root
}

func (a *app) configureLogging() error {
	level, err := logging.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	mode, err := logging.ParseMode(a.cfg.LogFormat)
	if err != nil {
		return err
	}
	a.levelVar.Set(level)
	if mode == logging.ModeJSON {
		a.logger = logging.New(logging.ModeJSON, os.Stderr, a.levelVar)
		slog.SetDefault(a.logger)
	}
	setup.SetLogger(a.logger)
	return nil
}

func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if value := os.Getenv(config.EnvPrefix + "CONFIG"); value != "" {
		return value, nil
	}
	if _, err := os.Stat(setup.DefaultConfigFile()); err == nil {
		return setup.DefaultConfigFile(), nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", setup.DefaultConfigFile(), err)
	}
	return "", nil
}

func newBuildCommand(a *app) *cobra.Command {
	var (
		profile     string
		platform    string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "build <agent-id>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Build agent-<id>:latest for each agent id",
		Long: "Build one image per agent id. Builds of distinct ids run concurrently up to\n" +
			"max_concurrent_builds; repeating an id in one invocation is rejected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := uniqueIDs(args)
			if err != nil {
				return err
			}

			cmdLogger := a.logger.With("command", "build")
			pipeline, err := config.NewPipeline(cmd.Context(), a.cfg, cmdLogger)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			if metricsFile == "" {
				metricsFile = a.cfg.MetricsFile
			}
			if metricsFile != "" {
				defer func() {
					if err := pipeline.Metrics.WriteTextfile(metricsFile); err != nil {
						cmdLogger.Warn("failed to write metrics", "path", metricsFile, "error", err)
					}
				}()
			}

			tags := make([]string, len(ids))
			errs := make([]error, len(ids))
			var group errgroup.Group
			for i, id := range ids {
				group.Go(func() error {
					tags[i], errs[i] = pipeline.Builder.BuildAgentImage(cmd.Context(), build.AgentDescriptor{
						ID:                id,
						CapabilityProfile: profile,
						Platform:          platform,
					})
					return nil
				})
			}
			group.Wait()

			out := cmd.OutOrStdout()
			for i := range ids {
				if errs[i] == nil {
					fmt.Fprintln(out, tags[i])
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "default", "Capability profile to build from")
	cmd.Flags().StringVar(&platform, "platform", "", "Target architecture (e.g. amd64, arm64, linux/arm/v7)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write build metrics to this Prometheus textfile")

	return cmd
}

func uniqueIDs(args []string) ([]string, error) {
	seen := make(map[string]struct{}, len(args))
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id := strings.TrimSpace(arg)
		if id == "" {
			return nil, errors.New("agent id is required")
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("agent id %q given more than once", id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func newTemplatesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the registered capability profiles",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered profiles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				registry, err := config.NewRegistry(a.cfg)
				if err != nil {
					return err
				}
				for _, name := range registry.Profiles() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <profile>",
			Short: "Print the rendered manifest for a profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				registry, err := config.NewRegistry(a.cfg)
				if err != nil {
					return err
				}
				if !registry.Has(args[0]) {
					a.logger.Warn("unknown profile, showing default", "profile", args[0])
				}
				fmt.Fprint(cmd.OutOrStdout(), registry.GetTemplate(args[0]))
				return nil
			},
		},
	)
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [agent-id]",
		Short: "Show recorded builds, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, closeRecords, err := config.NewRecordRepository(a.cfg.Records)
			if err != nil {
				return err
			}
			defer closeRecords()
			if records == nil {
				return errors.New("build history is disabled (records.driver is none)")
			}

			var list []build.BuildRecord
			if len(args) == 1 {
				list, err = records.ListByAgent(cmd.Context(), args[0])
				if limit > 0 && len(list) > limit {
					list = list[:limit]
				}
			} else {
				list, err = records.List(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "no builds")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BUILD\tAGENT\tPROFILE\tSTATUS\tEXIT\tSTARTED\tDURATION")
			for _, record := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					record.ID,
					record.AgentID,
					record.Profile,
					record.Status,
					record.ExitCode,
					record.StartedAt.Local().Format(time.DateTime),
					record.Duration().Round(time.Second),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of builds to show (0 for all)")
	return cmd
}

func newSetupCommand(a *app) *cobra.Command {
	var clearScratch bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create working directories and check the build tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := a.logger.With("command", "setup")

			dirs := []string{a.cfg.ScratchRoot}
			switch a.cfg.Records.Driver {
			case config.RecordsJSON:
				dirs = append(dirs, a.cfg.Records.Path)
			case config.RecordsSQLite:
				dirs = append(dirs, filepath.Dir(a.cfg.Records.Path))
			}

			if err := setup.EnsureDirs(dirs...); err != nil {
				return err
			}
			if clearScratch {
				if err := setup.ClearScratch(a.cfg.ScratchRoot); err != nil {
					return fmt.Errorf("clear scratch root: %w", err)
				}
			}

			tool := ""
			if a.cfg.Driver == config.DriverCLI {
				tool = a.cfg.Tool
			}
			if err := setup.Verify(tool, dirs...); err != nil {
				cmdLogger.Error("setup verification failed", "error", err)
				return err
			}
			cmdLogger.Info("setup verification succeeded", "scratch_root", a.cfg.ScratchRoot, "records", a.cfg.Records.Driver)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&clearScratch, "clear-scratch", "C", false, "Remove leftover build contexts from interrupted runs")
	return cmd
}
