package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"newsharvest/internal/config"
	"newsharvest/internal/crawler"
	"newsharvest/internal/extract"
)

var (
	configPath string
	siteKeys   []string
	pageCount  int
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "newsharvest",
	Short:         "Incrementally harvest news articles from configured publishers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover and store articles published since the last run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		engine, err := crawler.NewEngine(ctx, *cfg)
		if err != nil {
			return fmt.Errorf("initialise engine: %w", err)
		}
		defer engine.Close()

		outcomes, runErr := engine.Run(ctx, siteKeys...)
		if len(outcomes) > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
			if err := crawler.PrintReport(cmd.OutOrStdout(), outcomes); err != nil {
				return err
			}
		}
		return runErr
	},
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List configured sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		printSites(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and every site's extractor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		for _, key := range cfg.SiteKeys() {
			if _, err := extract.ForSite(cfg.Sites[key]); err != nil {
				return fmt.Errorf("sites.%s: %w", key, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d site(s) OK\n", configPath, len(cfg.Sites))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")
	runCmd.Flags().StringSliceVarP(&siteKeys, "site", "s", nil, "harvest only these site keys (repeatable)")
	runCmd.Flags().IntVarP(&pageCount, "n", "n", 0, "override the listing page cap")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, sitesCmd, validateCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("n") {
		if pageCount <= 0 {
			return nil, fmt.Errorf("--n must be > 0 (got %d)", pageCount)
		}
		cfg.N = pageCount
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	return cfg, nil
}

func printSites(w io.Writer, cfg *config.Config) {
	for _, key := range cfg.SiteKeys() {
		site := cfg.Sites[key]
		fmt.Fprintf(w, "%-16s %-9s %-12s %s -> %s\n", key, site.Strategy, site.Extractor, site.BaseURL, site.OutputPath)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "newsharvest: %v\n", err)
		os.Exit(1)
	}
}
