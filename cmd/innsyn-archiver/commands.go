package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/fetch"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/orchestrate"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/upload"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/watch"
)

func (a *app) crawlCommand() *cobra.Command {
	var force bool
	var workers int

	cmd := &cobra.Command{
		Use:   "crawl <portal[,portal...]|all> <start YYYY-MM-DD> <stop YYYY-MM-DD>",
		Short: "Archive every case journaled between two dates, inclusive",
		Example: `  innsyn-archiver crawl vagan 2024-01-01 2024-01-31
  innsyn-archiver crawl vagan,flakstad 2024-01-01 2024-01-07 --workers 2
  innsyn-archiver crawl all 2024-03-01 2024-03-01 --force`,
		Args: exactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, log, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			portals, err := appCfg.ResolvePortals(args[0])
			if err != nil {
				return err
			}
			start, stop, err := config.ParseDateRange(args[1], args[2])
			if err != nil {
				return err
			}
			if err := validatePortals(portals, log); err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				if workers < 1 {
					return usageError{fmt.Errorf("--workers must be at least 1, got %d", workers)}
				}
				appCfg.DateWorkers = workers
			}

			ctx, stopSignals := signalContext(cmd.Context(), log)
			defer stopSignals()

			res, err := orchestrate.NewResources(appCfg, log.WithField("component", "crawl"))
			if err != nil {
				return err
			}
			defer res.Close()
			res.RunMaintenance(ctx)

			orch := orchestrate.NewOrchestrator(appCfg, portals, res, log.WithField("component", "crawl"))
			results := orch.Crawl(ctx, start, stop, force)
			if ctx.Err() != nil {
				log.Warn("Crawl cancelled gracefully.")
			} else if !orchestrate.AllSucceeded(results) {
				log.Warnf("Some dates failed; run 'innsyn-archiver retry <portal>' to re-run them.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-fetch and overwrite cases that are already complete")
	cmd.Flags().IntVar(&workers, "workers", 0, "Dates crawled concurrently per portal (default from config)")
	return cmd
}

func (a *app) retryCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "retry <portal>",
		Short: "Re-run the dates and cases recorded as failed for a portal",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, log, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			portal, err := appCfg.Portal(args[0])
			if err != nil {
				return err
			}
			if err := validatePortals([]config.PortalConfig{portal}, log); err != nil {
				return err
			}

			ctx, stopSignals := signalContext(cmd.Context(), log)
			defer stopSignals()

			res, err := orchestrate.NewResources(appCfg, log.WithField("component", "retry"))
			if err != nil {
				return err
			}
			defer res.Close()
			res.RunMaintenance(ctx)

			c, err := res.NewCrawler(portal, "")
			if err != nil {
				return err
			}
			if _, err := c.Retry(ctx, force); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite cases that are already complete")
	return cmd
}

func (a *app) failedCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "failed <portal>",
		Short: "List the failed dates and cases recorded for a portal",
		Long: `Lists the failed units recorded in the crawl state store, one per line:
date, journal post id ("-" for a whole date), error type and URL, separated by tabs.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, log, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			portal, err := appCfg.Portal(args[0])
			if err != nil {
				return err
			}
			if !appCfg.StateRecordingEnabled() {
				return fmt.Errorf("%w: record_state is off, nothing is recorded", utils.ErrConfigValidation)
			}

			res, err := orchestrate.NewResources(appCfg, log.WithField("component", "failed"))
			if err != nil {
				return err
			}
			defer res.Close()

			var w io.Writer = a.stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("%w: create %s: %w", utils.ErrFilesystem, output, err)
				}
				defer f.Close()
				w = f
			}
			n, err := res.Store.WriteFailedReport(cmd.Context(), portal.Key, w)
			if err != nil {
				return err
			}
			log.Infof("%d failed units recorded for %s", n, portal.Key)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the list to a file instead of stdout")
	return cmd
}

func (a *app) followCommand() *cobra.Command {
	var intervalStr string
	var lookback int

	cmd := &cobra.Command{
		Use:   "follow <portal[,portal...]|all>",
		Short: "Keep the most recent days archived, re-crawling on an interval",
		Example: `  innsyn-archiver follow vagan --interval 24h --lookback 3
  innsyn-archiver follow all --interval 12h`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, err := watch.ParseInterval(intervalStr)
			if err != nil {
				return usageError{err}
			}
			if lookback < 1 {
				return usageError{fmt.Errorf("--lookback must be at least 1, got %d", lookback)}
			}
			appCfg, log, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			portals, err := appCfg.ResolvePortals(args[0])
			if err != nil {
				return err
			}
			if err := validatePortals(portals, log); err != nil {
				return err
			}

			ctx, stopSignals := signalContext(cmd.Context(), log)
			defer stopSignals()

			entry := log.WithField("component", "follow")
			res, err := orchestrate.NewResources(appCfg, entry)
			if err != nil {
				return err
			}
			defer res.Close()
			res.RunMaintenance(ctx)

			scheduler := watch.NewScheduler(appCfg.StateDir, portals, interval, lookback,
				watch.OrchestratorCrawl(appCfg, res, entry), entry)
			if err := scheduler.Run(ctx); err != nil {
				return err
			}
			log.Info("Follow mode stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&intervalStr, "interval", "24h", "Time between runs (e.g. 30m, 12h, 1d)")
	cmd.Flags().IntVar(&lookback, "lookback", watch.DefaultLookback, "Days re-crawled per run, today included")
	return cmd
}

func (a *app) uploadCommand() *cobra.Command {
	var roots []string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload archived cases to the document index",
		Long: `Walks the archive roots for complete cases and uploads each one, attachments first, to the
configured document index. Uploaded case directories are appended to the processed log, so an
interrupted upload resumes where it stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, log, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				for _, key := range appCfg.PortalKeys() {
					roots = append(roots, appCfg.Portals[key].OutputDir)
				}
			}

			entry := log.WithField("component", "upload")
			httpCfg := appCfg.HTTPClientSettings
			httpCfg.Timeout = appCfg.Upload.Timeout
			client, err := upload.NewClient(appCfg.Upload, fetch.NewClient(httpCfg, entry), entry)
			if err != nil {
				return err
			}
			processed, err := upload.OpenProcessedLog(appCfg.Upload.ProcessedLog)
			if err != nil {
				return err
			}
			defer processed.Close()
			entry.Infof("Processed log %s holds %d cases", processed.Path(), processed.Len())

			ctx, stopSignals := signalContext(cmd.Context(), log)
			defer stopSignals()

			uploader := upload.NewUploader(client, processed, appCfg.Upload.AttachmentExtensions, entry)
			if _, err := uploader.Run(ctx, roots); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&roots, "root", nil, "Archive root to upload (repeatable; default: every portal's output_dir)")
	return cmd
}

func (a *app) portalsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "portals",
		Short: "List the supported portals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, _, err := a.prepare(cmd)
			if err != nil {
				return err
			}
			doListPortals(appCfg, a.stdout)
			return nil
		},
	}
}

// doListPortals writes the configured portals in key order.
func doListPortals(appCfg *config.AppConfig, w io.Writer) {
	fmt.Fprintln(w, "Supported portals:")
	fmt.Fprintln(w)
	for _, key := range appCfg.PortalKeys() {
		p := appCfg.Portals[key]
		fmt.Fprintf(w, "  %s\n", key)
		if p.Name != "" {
			fmt.Fprintf(w, "    Name: %s\n", p.Name)
		}
		fmt.Fprintf(w, "    URL: %s (MId1=%s)\n", p.BaseURL, p.PortalID)
		fmt.Fprintf(w, "    Output: %s\n", p.OutputDir)
		fmt.Fprintln(w)
	}
}

func (a *app) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(a.configFile, cmd.Flags().Changed("config"))
			if err != nil {
				return fmt.Errorf("%w: %w", utils.ErrConfigValidation, err)
			}
			a.appCfg = appCfg
			if doValidate(appCfg, a.stdout, a.stderr) != exitOK {
				return fmt.Errorf("%w: configuration has errors", utils.ErrConfigValidation)
			}
			return nil
		},
	}
}

// doValidate validates appCfg and every portal, writing results to the provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(appCfg *config.AppConfig, stdout, stderr io.Writer) int {
	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return exitError
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	hasError := false
	for _, key := range appCfg.PortalKeys() {
		p := appCfg.Portals[key]
		portalWarnings, err := p.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range portalWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}

	if appCfg.Upload.BaseURL == "" {
		fmt.Fprintln(stdout, "INFO: upload.base_url is not set, the upload command is unavailable")
	} else if err := appCfg.Upload.ValidateUploadTarget(); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		hasError = true
	} else {
		fmt.Fprintf(stdout, "OK: upload target %s (project %s)\n", appCfg.Upload.BaseURL, appCfg.Upload.Project)
	}

	if hasError {
		return exitError
	}
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return exitOK
}
