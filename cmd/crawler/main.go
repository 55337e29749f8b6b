package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/PentesterFlow/PoliteCrawler/internal/frontier"
	"github.com/PentesterFlow/PoliteCrawler/internal/logger"
	"github.com/PentesterFlow/PoliteCrawler/internal/output"
	"github.com/PentesterFlow/PoliteCrawler/internal/shutdown"
	"github.com/PentesterFlow/PoliteCrawler/internal/stats"
	"github.com/PentesterFlow/PoliteCrawler/pkg/crawler"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool

	// Crawl flags
	seeds          []string
	domains        []string
	workers        int
	delay          time.Duration
	maxRPS         float64
	restart        bool
	minTokens      int
	threshold      float64
	noSimHash      bool
	frontierPath   string
	metricsAddr    string
	reportDir      string
	reportFormat   string
	noWaitInFlight bool

	// Report flags
	statsDir   string
	topWords   int
	reportFile string

	// Display flags
	showProgress bool
	noProgress   bool
)

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "politecrawler",
		Short: "PoliteCrawler - Resumable Domain Crawler",
		Long: `PoliteCrawler - A polite, resumable, multi-threaded crawler for a fixed set of domains.

Follows links within the allowed domains, skips thin and near-duplicate pages,
and reports page counts, word frequencies, the longest page and a subdomain census.
Interrupted crawls resume from the persistent frontier.`,
		Version: version,
	}

	// Crawl command
	crawlCmd := &cobra.Command{
		Use:   "crawl [seed...]",
		Short: "Crawl from seed URLs",
		Long:  "Crawl from seed URLs, resuming the existing frontier unless --restart is given.",
		RunE:  runCrawl,
	}

	// Report command
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Merge stats shards into a report",
		Long:  "Merge the stats shards of a finished or interrupted crawl and print the report.",
		RunE:  runReport,
	}

	// Status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show frontier status",
		Long:  "Show how many URLs are pending, in progress and done in the frontier store.",
		RunE:  runStatus,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")

	// Crawl flags
	crawlCmd.Flags().StringArrayVarP(&seeds, "seed", "s", nil, "Seed URL (repeatable)")
	crawlCmd.Flags().StringArrayVarP(&domains, "domain", "d", nil, "Allowed domain, subdomains included (repeatable)")
	crawlCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of concurrent workers")
	crawlCmd.Flags().DurationVar(&delay, "delay", 500*time.Millisecond, "Politeness delay after each URL, per worker")
	crawlCmd.Flags().Float64Var(&maxRPS, "max-rps", 0, "Crawl-wide request ceiling (0 disables)")
	crawlCmd.Flags().BoolVar(&restart, "restart", false, "Discard the frontier, signatures and stats before crawling")
	crawlCmd.Flags().IntVar(&minTokens, "min-tokens", 130, "Discard pages with fewer tokens")
	crawlCmd.Flags().Float64Var(&threshold, "threshold", 0.9, "Near-duplicate similarity threshold")
	crawlCmd.Flags().BoolVar(&noSimHash, "no-simhash", false, "Disable near-duplicate detection")
	crawlCmd.Flags().StringVar(&frontierPath, "frontier", "", "Frontier store path")
	crawlCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	crawlCmd.Flags().StringVar(&reportDir, "report-dir", "", "Directory for report files")
	crawlCmd.Flags().StringVar(&reportFormat, "format", "", "Report format (text, json)")
	crawlCmd.Flags().BoolVar(&noWaitInFlight, "no-wait", false, "Stop a worker at the first empty frontier answer")

	// Display flags
	crawlCmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress bar during crawling")
	crawlCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (use verbose logging instead)")

	// Report flags
	reportCmd.Flags().StringVar(&statsDir, "stats-dir", "", "Stats shard directory")
	reportCmd.Flags().StringVar(&reportFormat, "format", "", "Report format (text, json)")
	reportCmd.Flags().IntVar(&topWords, "top", 0, "Number of top words to list")
	reportCmd.Flags().StringVarP(&reportFile, "output", "o", "", "Output file (default: stdout)")

	// Status flags
	statusCmd.Flags().StringVar(&frontierPath, "frontier", "", "Frontier store path")

	// Add commands
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file and the environment.
func loadConfig() (*crawler.Config, error) {
	config := crawler.DefaultConfig()
	if configFile != "" {
		fileConfig, err := crawler.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return config, nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	// Command-line flags take precedence
	flags := cmd.Flags()
	if len(args) > 0 || len(seeds) > 0 {
		config.Seeds = append(append([]string(nil), args...), seeds...)
	}
	if len(domains) > 0 {
		config.Scope.AllowedDomains = domains
	}
	if flags.Changed("workers") {
		config.Workers = workers
	}
	if flags.Changed("delay") {
		config.Politeness.Delay = crawler.Duration(delay)
	}
	if flags.Changed("max-rps") {
		config.Politeness.MaxRequestsPerSecond = maxRPS
	}
	if flags.Changed("restart") {
		config.Restart = restart
	}
	if flags.Changed("min-tokens") {
		config.MinTokens = minTokens
	}
	if flags.Changed("threshold") {
		config.SimHash.Threshold = threshold
	}
	if noSimHash {
		config.SimHash.Enabled = false
	}
	if frontierPath != "" {
		config.Frontier.Path = frontierPath
	}
	if noWaitInFlight {
		config.Frontier.WaitInFlight = false
	}
	if metricsAddr != "" {
		config.Metrics.Addr = metricsAddr
	}
	if reportDir != "" {
		config.Report.Dir = reportDir
	}
	if reportFormat != "" {
		config.Report.Format = reportFormat
	}

	// Determine if progress bar should be shown
	enableProgress := showProgress && !noProgress && !verbose && !debug

	switch {
	case debug:
		config.Log.Level = "debug"
	case verbose:
		config.Log.Level = "info"
	case enableProgress:
		config.Log.Level = "warn"
	}

	level, err := logger.ParseLevel(config.Log.Level)
	if err != nil {
		level = logger.InfoLevel
	}
	log := logger.New(logger.Config{
		Level:     level,
		Pretty:    config.Log.Pretty,
		Component: "crawler",
	})

	c, err := crawler.New(
		crawler.WithConfig(config),
		crawler.WithLogger(log),
		crawler.WithProgress(enableProgress),
	)
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}

	// Setup signal handling: the first signal drains in-flight URLs, a second
	// one exits immediately.
	handler := shutdown.New(shutdown.Config{
		Timeout: 2*config.HTTP.Timeout.Std() + 5*time.Second,
		Logger:  log,
		Force: func() {
			fmt.Fprintf(os.Stderr, "\nForced exit, in-flight URLs will be requeued on resume\n")
			os.Exit(130)
		},
	})
	defer handler.Stop()
	c.RegisterShutdown(handler)

	printBanner(config)

	result, err := c.Run(handler.Context())
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	if enableProgress && c.Progress() != nil {
		c.Progress().PrintSummary(os.Stdout)
	}
	printSummary(result)

	if handler.IsShuttingDown() {
		<-handler.Done()
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	dir := config.Stats.Dir
	if statsDir != "" {
		dir = statsDir
	}
	k := config.Report.TopWords
	if topWords > 0 {
		k = topWords
	}
	if reportFormat != "" {
		config.Report.Format = reportFormat
	}
	format, err := output.ParseFormat(config.Report.Format)
	if err != nil {
		return err
	}

	store, err := stats.NewFileStore(dir, config.Stats.Compress)
	if err != nil {
		return fmt.Errorf("failed to open stats store: %w", err)
	}
	defer store.Close()

	shards, err := stats.LoadAll(store)
	if err != nil {
		return fmt.Errorf("failed to load stats shards: %w", err)
	}
	if len(shards) == 0 {
		return fmt.Errorf("no stats shards found in %s", dir)
	}

	report := stats.BuildReport(stats.Merge(shards...), stats.DefaultStopwords, k)
	writerConfig := output.Config{Format: format, Pretty: true}

	if reportFile != "" {
		if err := output.WriteFile(reportFile, writerConfig, report); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Merged %d shards into %s\n", len(shards), reportFile)
		return nil
	}

	// Not closed: closing would close stdout.
	return output.NewWriter(os.Stdout, writerConfig).WriteReport(report)
}

func runStatus(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	path := config.Frontier.Path
	if frontierPath != "" {
		path = frontierPath
	}

	counts, err := frontier.Inspect(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Frontier: %s\n", path)
			fmt.Println("Status:   no crawl state yet")
			return nil
		}
		return fmt.Errorf("failed to read frontier: %w", err)
	}

	fmt.Printf("Frontier:     %s\n", path)
	fmt.Printf("Pending:      %d\n", counts.Discovered)
	fmt.Printf("In Progress:  %d\n", counts.InProgress)
	fmt.Printf("Done:         %d\n", counts.Done)
	fmt.Printf("Total:        %d\n", counts.Total())
	if counts.Discovered+counts.InProgress == 0 && counts.Done > 0 {
		fmt.Println("Status:       drained")
	} else if counts.Total() > 0 {
		fmt.Println("Status:       resumable")
	}

	return nil
}

func printBanner(config *crawler.Config) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     PoliteCrawler v1.0                       ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	for _, s := range config.Seeds {
		fmt.Printf("Seed:       %s\n", s)
	}
	fmt.Printf("Workers:    %d\n", config.Workers)
	fmt.Printf("Delay:      %s\n", config.Politeness.Delay)
	if config.Restart {
		fmt.Println("Mode:       restart")
	} else {
		fmt.Println("Mode:       resume")
	}
	fmt.Println()
}

func printSummary(result *crawler.Result) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       Crawl Summary                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Duration:           %s\n", result.Duration)
	fmt.Printf("URLs Done:          %d\n", result.Frontier.Done)
	fmt.Printf("URLs Pending:       %d\n", result.Frontier.Discovered+result.Frontier.InProgress)
	fmt.Printf("Unique Pages:       %d\n", result.Report.UniquePages)
	if result.Report.Longest.URL != "" {
		fmt.Printf("Longest Page:       %s (%d words)\n", result.Report.Longest.URL, result.Report.Longest.Words)
	}
	fmt.Printf("Subdomains:         %d\n", len(result.Report.Subdomains))
	if result.Metrics != nil {
		fmt.Printf("Near-Duplicates:    %d\n", result.Metrics.Duplicates)
		fmt.Printf("Thin Pages:         %d\n", result.Metrics.ThinPages)
		fmt.Printf("Errors:             %d\n", result.Metrics.ErrorsTotal)
	}
	if result.ReportPath != "" {
		fmt.Printf("Report:             %s\n", result.ReportPath)
	}
	if result.Interrupted {
		fmt.Println()
		fmt.Println("Crawl interrupted; run crawl again without --restart to resume.")
	}

	if len(result.Report.TopWords) > 0 {
		fmt.Println()
		fmt.Println("Top Words:")
		count := 10
		if len(result.Report.TopWords) < count {
			count = len(result.Report.TopWords)
		}
		for i := 0; i < count; i++ {
			w := result.Report.TopWords[i]
			fmt.Printf("  %-20s %d\n", w.Word, w.Count)
		}
		if len(result.Report.TopWords) > 10 {
			fmt.Printf("  ... and %d more\n", len(result.Report.TopWords)-10)
		}
	}
	fmt.Println()
}
