// Command ifdev is a dev CLI for instaflow maintenance and debugging tasks.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	browseropts "github.com/ibeckermayer/instaflow/internal/browser"
	"github.com/ibeckermayer/instaflow/internal/config"
	"github.com/ibeckermayer/instaflow/internal/logger"
)

const botTestURL = "https://bot.sannysoft.com"

var flagDriver string

var rootCmd = &cobra.Command{
	Use:           "ifdev",
	Short:         "Maintenance and debugging tasks for instaflow",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var botTestCmd = &cobra.Command{
	Use:   "bot-test",
	Short: "Open bot.sannysoft.com to audit the browser fingerprint",
	Long: `Open bot.sannysoft.com in a visible browser launched with the same
stealth options as a sequence run, so the fingerprint can be inspected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New("info", "")
		if err != nil {
			return err
		}
		defer log.Sync()

		opts := browseropts.DefaultOptions()
		opts.Headless = false // visible so you can see it
		opts.Driver = flagDriver

		log.Info("Opening bot test page with stealth browser options", zap.String("driver", opts.Driver))

		ctx := cmd.Context()
		page, err := browseropts.Open(ctx, opts)
		if err != nil {
			return err
		}
		defer page.Close()

		if err := page.Navigate(ctx, botTestURL); err != nil {
			return fmt.Errorf("failed to navigate: %w", err)
		}

		fmt.Println("Press Enter to close the browser...")
		bufio.NewReader(os.Stdin).ReadString('\n')

		log.Info("Done")
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:       "open <config|cache>",
	Short:     "Open the config file or the cache directory",
	Long:      "Open the config file in the default editor, or the cache directory holding run history in the file explorer.",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"config", "cache"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		var err error

		switch args[0] {
		case "config":
			path, err = config.ConfigPath()
		case "cache":
			path, err = config.CacheDir()
		}
		if err != nil {
			return fmt.Errorf("failed to get path: %w", err)
		}

		if err := browser.OpenFile(path); err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		return nil
	},
}

func init() {
	botTestCmd.Flags().StringVar(&flagDriver, "driver", browseropts.DriverChromedp, "Browser driver: chromedp or rod")

	rootCmd.AddCommand(botTestCmd)
	rootCmd.AddCommand(openCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
