package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"land-collector/client"
	"land-collector/config"
	"land-collector/metrics"
	"land-collector/models"
	"land-collector/scraper/land"
	"land-collector/services"
	"land-collector/storage"
	"land-collector/utils"
)

var (
	idsFile    string
	sinkFlag   string
	reportPath string
)

var rootCmd = &cobra.Command{
	Use:   "land-collector [listing-id[:complex-id] ...]",
	Short: "Collects real-estate listings, normalizes them and persists the valid ones.",
	Args:  cobra.ArbitraryArgs,
	RunE:  run,
	// Batch failures are reported by the run itself.
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&idsFile, "ids-file", "", "read listing ids from a file, one per line (- for stdin)")
	rootCmd.Flags().StringVar(&sinkFlag, "sink", "", "override SINK (postgres or csv)")
	rootCmd.Flags().StringVar(&reportPath, "report", "", "override REPORT_OUTPUT_PATH")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()
	if sinkFlag != "" {
		cfg.Sink = sinkFlag
	}
	if reportPath != "" {
		cfg.ReportOutputPath = reportPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := utils.NewLoggerWithOptions(utils.LogOptions{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		return err
	}

	refs, err := collectRefs(args, idsFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("no listing ids given")
	}

	logger.Info("=== Listing collector starting ===")
	logger.Info("Config — listings: %d | workers: %d | concurrency: %d | backoff: %dms-%dms | sink: %s",
		len(refs), cfg.ListingWorkers, cfg.MaxConcurrentRequests,
		cfg.RateLimitBaseDelayMs, cfg.RateLimitMaxDelayMs, cfg.Sink)

	if cfg.MetricsAddr != "" {
		metrics.Serve(ctx, cfg.MetricsAddr, logger)
	}

	rules, err := services.LoadRuleSet(cfg.ExtractionRulesPath)
	if err != nil {
		return fmt.Errorf("load extraction rules: %w", err)
	}

	gateway, err := openGateway(ctx, cfg, rules, logger)
	if err != nil {
		logger.Error("Failed to open %s sink: %v", cfg.Sink, err)
		if hint := sinkHint(cfg); hint != "" {
			logger.Error("%s", hint)
		}
		return err
	}
	defer gateway.Close()

	tokens := client.NewTokenManager(tokenSource(cfg, logger), cfg.TokenRefreshSafetyMargin(), logger)
	api := client.New(client.Options{
		BaseURL:           cfg.APIBaseURL,
		UserAgent:         cfg.APIUserAgent,
		Referer:           cfg.APIReferer,
		Timeout:           cfg.RequestTimeout(),
		MaxConcurrent:     cfg.MaxConcurrentRequests,
		BaseDelay:         cfg.RateLimitBaseDelay(),
		MaxDelay:          cfg.RateLimitMaxDelay(),
		MaxRetries:        cfg.RateLimitMaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, tokens, logger)

	collector := services.NewCollector(
		land.NewFetcher(api, logger),
		services.NewNormalizer(rules),
		services.NewValidator(rules),
		gateway,
		services.CollectorOptions{Workers: cfg.ListingWorkers, ShutdownGrace: cfg.ShutdownGrace()},
		logger,
	)
	report := collector.Run(ctx, refs)

	reportSvc := services.NewReportService(logger)
	reportSvc.Print(cmd.OutOrStdout(), report, reportSvc.Generate(report))

	if err := storage.WriteReportCSV(cfg.ReportOutputPath, report); err != nil {
		logger.Error("Report write failed: %v", err)
	} else {
		logger.Info("Batch report saved to %s", cfg.ReportOutputPath)
	}

	if report.Aborted {
		return fmt.Errorf("batch %s aborted: %s", report.ID, report.AbortCause)
	}
	return nil
}

func openGateway(ctx context.Context, cfg *config.Config, rules *services.RuleSet, logger *utils.Logger) (storage.Gateway, error) {
	if cfg.Sink == "csv" {
		names := make([]string, 0, len(rules.Facilities))
		for _, f := range rules.Facilities {
			names = append(names, f.Name)
		}
		return storage.NewCSVWriter(cfg.CSVOutputPath, names)
	}
	return storage.NewPostgresWriter(ctx, cfg.DSN(), logger)
}

// sinkHint names the settings to check when the sink cannot be opened.
func sinkHint(cfg *config.Config) string {
	switch cfg.Sink {
	case "postgres":
		return fmt.Sprintf("Check POSTGRES_HOST/POSTGRES_PORT/POSTGRES_USER/POSTGRES_DB (now %s:%s user=%s db=%s), or run with --sink csv",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresDB)
	case "csv":
		return fmt.Sprintf("Check that CSV_OUTPUT_PATH (%s) is writable", cfg.CSVOutputPath)
	}
	return ""
}

func tokenSource(cfg *config.Config, logger *utils.Logger) client.TokenSource {
	switch cfg.TokenSource {
	case "static":
		return client.StaticTokenSource{Value: cfg.APIToken}
	case "browser":
		return land.NewBrowserTokenSource(land.BrowserOptions{
			StartURL:  cfg.BrowserStartURL,
			ChromeBin: cfg.ChromeBin,
			UserAgent: cfg.APIUserAgent,
		}, logger)
	default:
		return client.NewHTTPTokenSource(client.HTTPTokenSourceOptions{
			AuthURL:      cfg.APIAuthURL,
			ClientID:     cfg.APIClientID,
			ClientSecret: cfg.APIClientSecret,
			UserAgent:    cfg.APIUserAgent,
			Referer:      cfg.APIReferer,
			Timeout:      cfg.RequestTimeout(),
		})
	}
}

// collectRefs merges positional ids with ids read from path ("-" is stdin).
// Blank lines and lines starting with # are skipped.
func collectRefs(args []string, path string, stdin io.Reader) ([]models.ListingRef, error) {
	var raw []string
	raw = append(raw, args...)

	if path != "" {
		r := stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open ids file: %w", err)
			}
			defer f.Close()
			r = f
		}
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			raw = append(raw, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read ids: %w", err)
		}
	}

	refs := make([]models.ListingRef, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, models.ParseListingRef(line))
	}
	return refs, nil
}
