package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/instaflow/internal/app"
	"github.com/ibeckermayer/instaflow/internal/config"
	"github.com/ibeckermayer/instaflow/internal/logger"
	"github.com/ibeckermayer/instaflow/internal/notifier"
	"github.com/ibeckermayer/instaflow/internal/store"
	"github.com/ibeckermayer/instaflow/internal/types"
)

var (
	flagConfig   string
	flagHeadless bool
	flagDriver   string
	flagSearch   string
	flagPosts    int
	flagLimit    int
	flagNow      bool
)

var rootCmd = &cobra.Command{
	Use:   "instaflow",
	Short: "instaflow - scripted Instagram login, search and comment run",
	Long: `instaflow drives a real browser through Instagram: it logs in, searches
for a term, opens the first matching result and comments on a number of posts.

Credentials come from INSTAGRAM_USERNAME and INSTAGRAM_PASSWORD, either in the
environment or in a .env file in the working directory.

Quick start:
  instaflow run                          # One run with the configured settings
  instaflow run --search hoodie --posts 5
  instaflow run --headless=false         # Watch the browser
  instaflow schedule                     # Run on the configured cron schedule
  instaflow schedule --now               # Same, starting with one run right away
  instaflow history                      # Show recent runs`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sequence once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, log, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := a.RunOnce(ctx)
		if report != nil {
			printReport(report)
		}
		if err != nil {
			log.Error("Run failed", zap.Error(err))
			return err
		}
		log.Info("Run completed", zap.String("run", report.ID))
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the sequence on the configured cron schedule",
	Long: `Run the sequence on the cron schedule from the [schedule] section of the
config file until interrupted. Send SIGHUP to reload the config file; the new
settings apply from the next run and command line flags stay in effect.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, log, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if err := a.ReloadConfig(flagConfig); err != nil {
						log.Error("Failed to reload config", zap.Error(err))
					}
				}
			}
		}()

		return a.Schedule(ctx, flagNow)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := a.History(flagLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tSEARCH\tPOSTS\tOK\tSKIPPED\tRESULT")
		for i := range runs {
			r := &runs[i]
			result := "ok"
			if !r.Succeeded() {
				result = r.Err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				r.ID, r.StartedAt.Local().Format(time.DateTime), r.Search, r.PostCount,
				r.Count(types.StatusOK), r.Count(types.StatusSkipped), result)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default is the user config dir)")

	for _, cmd := range []*cobra.Command{runCmd, scheduleCmd} {
		cmd.Flags().BoolVar(&flagHeadless, "headless", true, "Run the browser without a window")
		cmd.Flags().StringVar(&flagDriver, "driver", "", "Browser driver: chromedp or rod")
		cmd.Flags().StringVarP(&flagSearch, "search", "s", "", "Search text")
		cmd.Flags().IntVarP(&flagPosts, "posts", "n", 0, "Number of posts to comment on after the first")
	}
	scheduleCmd.Flags().BoolVar(&flagNow, "now", false, "Also run once right away")
	historyCmd.Flags().IntVarP(&flagLimit, "limit", "l", 20, "Number of runs to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(historyCmd)
}

// setup loads the configuration, applies command line overrides and builds
// the app. cleanup flushes the logger and closes the history store.
func setup(cmd *cobra.Command) (*app.App, *zap.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	override := flagOverride(cmd)
	override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, nil, nil, err
	}

	var notify app.Notifier
	if cfg.Notify.Enabled {
		n, err := notifier.NewFromConfig(cfg.Notify)
		if err != nil {
			return nil, nil, nil, err
		}
		notify = n
	}

	var history *store.Store
	if cfg.History.Enabled {
		path, err := cfg.HistoryPath()
		if err != nil {
			return nil, nil, nil, err
		}
		history, err = store.New(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open history %s: %w", path, err)
		}
	}

	cleanup := func() {
		if history != nil {
			if err := history.Close(); err != nil {
				log.Warn("Failed to close history", zap.Error(err))
			}
		}
		_ = log.Sync()
	}

	a := app.New(cfg, nil, history, notify, log)
	a.SetOverride(override)
	return a, log, cleanup, nil
}

// flagOverride returns an override applying the command line flags the user
// set explicitly.
func flagOverride(cmd *cobra.Command) app.Override {
	flags := cmd.Flags()
	return func(cfg *config.Config) {
		if flags.Changed("headless") {
			cfg.Browser.Headless = flagHeadless
		}
		if flags.Changed("driver") {
			cfg.Browser.Driver = flagDriver
		}
		if flags.Changed("search") {
			cfg.Search.Text = flagSearch
		}
		if flags.Changed("posts") {
			cfg.Search.PostCount = flagPosts
		}
	}
}

// loadConfig loads the configuration. On first run, with no explicit path,
// the defaults are written to the user config dir for later editing.
func loadConfig() (*config.Config, error) {
	if flagConfig == "" {
		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := config.Default().Save(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not save default config: %v\n", err)
				} else {
					fmt.Fprintf(os.Stderr, "Created default config at: %s\n", path)
				}
			}
		}
	}
	return config.Load(flagConfig)
}

func printReport(r *types.RunReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run %s (%s)\n", r.ID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, st := range r.Steps {
		fmt.Fprintf(w, "%2d\t%s\t%s\t%s\t%s\n", st.Index, st.Name, st.Status, st.Duration.Round(time.Millisecond), st.Error)
	}
	w.Flush()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
