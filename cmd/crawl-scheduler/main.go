package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-scheduler/pkg/config"
	"github.com/Sriram-PR/crawl-scheduler/pkg/metrics"
	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "schedule":
		runSchedule(os.Args[2:], false)
	case "resume":
		runSchedule(os.Args[2:], true)
	case "validate":
		runValidate(os.Args[2:])
	case "extract":
		runExtract(os.Args[2:])
	case "version":
		fmt.Printf("crawl-scheduler %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `crawl-scheduler - Politeness-aware URL scheduling

Usage:
  crawl-scheduler <command> [options]

Commands:
  schedule    Classify a batch of URLs against each domain's robots.txt
  resume      Like schedule, but keep results stored by an earlier run
  validate    Validate configuration file
  extract     Print the outlinks of an HTML document as input records
  version     Show version info

Run 'crawl-scheduler <command> -h' for command-specific help.`)
}

// runSchedule handles both schedule and resume subcommands
func runSchedule(args []string, isResume bool) {
	cmdName := "schedule"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	inputPath := fs.String("input", "-", "URL list or JSON lines ('-' for stdin)")
	htmlPath := fs.String("html", "", "Read input URLs from the links of this HTML file instead")
	baseURL := fs.String("base", "", "Document URL used to resolve links with -html")
	outputPath := fs.String("output", "-", "Where to write one JSON result per line ('-' for stdout)")
	frontierPath := fs.String("frontier", "", "Write accepted URLs in fetch order to this file")
	resultsLogPath := fs.String("results-log", "", "Dump the result store to this file when done")
	runName := fs.String("run", "", "Run name for the result store (required for resume)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-scheduler %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(executeSchedule(scheduleFlags{
		configFile:     *configFile,
		inputPath:      *inputPath,
		htmlPath:       *htmlPath,
		baseURL:        *baseURL,
		outputPath:     *outputPath,
		frontierPath:   *frontierPath,
		resultsLogPath: *resultsLogPath,
		runName:        *runName,
		logLevel:       *logLevel,
		metricsAddr:    *metricsAddr,
	}, isResume))
}

type scheduleFlags struct {
	configFile     string
	inputPath      string
	htmlPath       string
	baseURL        string
	outputPath     string
	frontierPath   string
	resultsLogPath string
	runName        string
	logLevel       string
	metricsAddr    string
}

// executeSchedule runs one scheduling pass and returns the process exit code
func executeSchedule(flags scheduleFlags, isResume bool) int {
	log := setupLogger(flags.logLevel)
	appCfg := loadAndValidateConfig(flags.configFile, log)
	logAppConfig(appCfg, log)

	if isResume && flags.runName == "" {
		log.Error("Error: -run is required for resume")
		return 1
	}
	runName := flags.runName
	if runName == "" {
		runName = uuid.NewString()
		log.Infof("Run name: %s", runName)
	}

	records, err := loadRecords(flags.inputPath, flags.htmlPath, flags.baseURL, logrus.NewEntry(log))
	if err != nil {
		log.Errorf("Input error: %v", err)
		return 1
	}
	log.Infof("Loaded %d input records", len(records))

	out, closeOut, err := openOutput(flags.outputPath)
	if err != nil {
		log.Errorf("Output error: %v", err)
		return 1
	}
	defer closeOut()

	ctx, cancel := setupContext(appCfg.GlobalTimeout, log)
	defer cancel()

	mem := metrics.NewMemoryCounters()
	counters := metrics.Counters(mem)
	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		promCounters, err := metrics.NewPrometheusCounters(reg)
		if err != nil {
			log.Errorf("Metrics setup error: %v", err)
			return 1
		}
		counters = metrics.Multi(counters, promCounters)
		startMetricsServer(flags.metricsAddr, reg, log)
	}

	summary, err := runPipeline(ctx, appCfg, records, pipelineOptions{
		RunName:        runName,
		Resume:         isResume,
		Output:         out,
		FrontierPath:   flags.frontierPath,
		ResultsLogPath: flags.resultsLogPath,
		Counters:       counters,
	}, logrus.NewEntry(log))

	log.WithField("counters", mem.Snapshot()).Info("Final counters")

	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Warn("Scheduling cancelled.")
			return 0
		case errors.Is(err, context.DeadlineExceeded):
			log.Errorf("Scheduling timed out (global timeout). %d URLs classified.", summary.Total())
		default:
			log.WithField("error_category", utils.CategorizeError(err)).Errorf("Scheduling failed: %v", err)
		}
		return 1
	}

	if summary.EmitErrors > 0 {
		log.Errorf("Scheduling finished with %d emit errors.", summary.EmitErrors)
		return 1
	}
	log.Infof("Scheduling completed: %d URLs across %d domains (%d accepted).",
		summary.Total(), summary.Domains, summary.Count(models.DispositionAccepted))
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-scheduler validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runExtract handles the extract subcommand
func runExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	htmlPath := fs.String("html", "-", "HTML file ('-' for stdin)")
	baseURL := fs.String("base", "", "Document URL used to resolve relative links (required)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-scheduler extract [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(*logLevel)
	os.Exit(doExtract(*htmlPath, *baseURL, os.Stdout, os.Stderr, logrus.NewEntry(log)))
}

// doExtract writes the document's outlinks as JSON input records
func doExtract(htmlPath, baseURL string, stdout, stderr io.Writer, log *logrus.Entry) int {
	records, err := loadRecords("", htmlPath, baseURL, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeRecords(stdout, records); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	return appCfg
}

// setupContext applies the global timeout and cancels on SIGINT/SIGTERM.
// A second signal forces exit.
func setupContext(globalTimeout time.Duration, log *logrus.Logger) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if globalTimeout > 0 {
		log.Infof("Setting global timeout: %v", globalTimeout)
		ctx, cancel = context.WithTimeout(context.Background(), globalTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// startMetricsServer serves reg on addr/metrics in the background
func startMetricsServer(addr string, reg *prometheus.Registry, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	go func() {
		log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server error: %v", err)
		}
	}()
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: UserAgent:%q, RespectRobots:%t, RobotsScheme:%s",
		appCfg.UserAgent, appCfg.EffectiveRespectRobots(), appCfg.RobotsScheme)
	log.Infof("Config Resolver: PoolSize:%d, FetchTimeout:%v, FetchRate:%v/s (burst %d), MaxOutstandingDomains:%d",
		appCfg.ResolverPoolSize, appCfg.RobotsFetchTimeout, appCfg.RobotsFetchRate, appCfg.RobotsFetchBurst, appCfg.MaxOutstandingDomains)
	log.Infof("Config Scoring: Scorer:%s, FixedScore:%v, MaxURLsPerServer:%d",
		appCfg.Scorer, appCfg.FixedScore, appCfg.MaxURLsPerServer)
	log.Infof("Config Queue: Capacity:%d, RefillRatio:%v, SpillDir:%q",
		appCfg.QueueCapacity, appCfg.QueueRefillRatio, appCfg.SpillDir)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
	log.Infof("Config Result Store: Enabled:%t, StateDir:%s", appCfg.EnableResultStore, appCfg.StateDir)
}
