package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"busalert/pkg/alert"
	"busalert/pkg/catalog"
	"busalert/pkg/geocode"
	"busalert/pkg/logging"
	"busalert/pkg/lta"
	"busalert/pkg/metrics"
	"busalert/pkg/profiling"
	"busalert/pkg/telegram"
	"busalert/pkg/tracing"
	"busalert/pkg/watchlist"

	"github.com/joho/godotenv"
)

func main() {
	// Optional .env file; real environment variables win
	_ = godotenv.Load()

	// Command line flags
	var (
		dryRun          = flag.Bool("dry-run", false, "Log notifications to stdout instead of sending them to Telegram")
		telegramToken   = flag.String("telegram-token", getEnv("TELEGRAM_TOKEN", ""), "Telegram bot token (required unless --dry-run)")
		accountKey      = flag.String("account-key", getEnv("LTA_ACCOUNT_KEY", ""), "LTA DataMall account key (required)")
		interval        = flag.String("interval", getEnv("POLL_INTERVAL", "30s"), "Polling interval")
		warnThreshold   = flag.String("warn-threshold", getEnv("WARN_THRESHOLD", "5m"), "ETA at which the approach warning is sent")
		httpTimeout     = flag.String("http-timeout", getEnv("HTTP_TIMEOUT", "10s"), "Timeout for upstream HTTP requests")
		nearbyRadius    = flag.Float64("nearby-radius", getEnvFloat("NEARBY_RADIUS_METERS", 1000), "Nearby stop search radius in meters")
		nearbyLimit     = flag.Int("nearby-limit", getEnvInt("NEARBY_LIMIT", 8), "Maximum stops returned by a nearby search")
		catalogRefresh  = flag.String("catalog-refresh", getEnv("CATALOG_REFRESH_INTERVAL", "0"), "Stop directory refresh interval (0 loads once at startup)")
		maxMissedCycles = flag.Int("max-missed-cycles", getEnvInt("MAX_MISSED_CYCLES", 0), "Retire a subscription after this many cycles without its service on the board (0 keeps forever)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Bus Arrival Alert Bot\n\n")
		fmt.Fprintf(os.Stderr, "Polls the LTA DataMall BusArrival feed for subscribed stops and\n")
		fmt.Fprintf(os.Stderr, "notifies Telegram chats when their bus is approaching or arriving.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TELEGRAM_TOKEN           - Telegram bot token (required unless --dry-run)\n")
		fmt.Fprintf(os.Stderr, "  LTA_ACCOUNT_KEY          - LTA DataMall account key (required)\n")
		fmt.Fprintf(os.Stderr, "  POLL_INTERVAL            - Polling interval (default: 30s)\n")
		fmt.Fprintf(os.Stderr, "  WARN_THRESHOLD           - Approach warning threshold (default: 5m)\n")
		fmt.Fprintf(os.Stderr, "  HTTP_TIMEOUT             - Upstream HTTP timeout (default: 10s)\n")
		fmt.Fprintf(os.Stderr, "  NEARBY_RADIUS_METERS     - Nearby search radius (default: 1000)\n")
		fmt.Fprintf(os.Stderr, "  NEARBY_LIMIT             - Nearby search result cap (default: 8)\n")
		fmt.Fprintf(os.Stderr, "  CATALOG_REFRESH_INTERVAL - Stop directory refresh interval (default: 0, load once)\n")
		fmt.Fprintf(os.Stderr, "  MAX_MISSED_CYCLES        - Miss-eviction threshold (default: 0, disabled)\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL / LOG_FORMAT   - Logging configuration\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Dry run mode (no Telegram sends)\n")
		fmt.Fprintf(os.Stderr, "  %s --dry-run --account-key=YOUR_KEY\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Production mode\n")
		fmt.Fprintf(os.Stderr, "  %s --telegram-token=YOUR_TOKEN --account-key=YOUR_KEY --interval=30s\n\n", os.Args[0])
	}

	flag.Parse()

	logging.InitLogging()

	// Validate required parameters
	if *accountKey == "" {
		fmt.Fprintf(os.Stderr, "Error: account key is required. Use --account-key or set LTA_ACCOUNT_KEY environment variable.\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *telegramToken == "" && !*dryRun {
		fmt.Fprintf(os.Stderr, "Error: Telegram token is required. Use --telegram-token or set TELEGRAM_TOKEN environment variable.\n\n")
		flag.Usage()
		os.Exit(1)
	}

	intervalDuration := mustParseDuration("interval", *interval)
	warnDuration := mustParseDuration("warn-threshold", *warnThreshold)
	timeoutDuration := mustParseDuration("http-timeout", *httpTimeout)
	refreshDuration := parseRefreshInterval(*catalogRefresh)

	// Initialize tracing
	shutdownTracing, err := tracing.InitTracing()
	if err != nil {
		slog.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	// Initialize metrics
	shutdownMetrics, err := metrics.InitMetrics()
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer shutdownMetrics()

	// Initialize profiling
	shutdownProfiling, err := profiling.InitProfiling()
	if err != nil {
		slog.Error("Failed to initialize profiling", "error", err)
		os.Exit(1)
	}
	defer shutdownProfiling()

	client := lta.NewClient(*accountKey, timeoutDuration)
	cat := catalog.New(client)
	store := watchlist.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The bot degrades to raw stop codes until the first refresh lands, so
	// a failed initial load is not fatal.
	loadCtx, loadCancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := cat.Refresh(loadCtx); err != nil {
		slog.Warn("Initial stop directory load failed", "error", err)
	} else {
		slog.Info("Stop directory loaded", "stops", cat.Len())
	}
	loadCancel()

	if refreshDuration > 0 {
		go cat.RunRefresh(ctx, refreshDuration)
	}

	var notifier alert.Notifier
	var bot *telegram.Bot
	if *dryRun {
		slog.Info("Starting in DRY RUN mode, notifications go to stdout")
		notifier = logNotifier{}
	} else {
		bot, err = telegram.New(*telegramToken, telegram.Config{
			NearbyRadiusMeters: *nearbyRadius,
			NearbyLimit:        *nearbyLimit,
		}, cat, store, client, geocode.NewClient(timeoutDuration), nil)
		if err != nil {
			slog.Error("Failed to create Telegram bot", "error", err)
			os.Exit(1)
		}
		notifier = bot
	}

	engine, err := alert.New(alert.Config{
		Interval:        intervalDuration,
		WarnThreshold:   warnDuration,
		MaxMissedCycles: *maxMissedCycles,
	}, client, store, notifier, cat)
	if err != nil {
		slog.Error("Failed to create alert engine", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting bus alert bot",
		"interval", intervalDuration,
		"warn_threshold", warnDuration,
		"dry_run", *dryRun,
	)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		errChan <- engine.Run(ctx)
	}()
	if bot != nil {
		go func() {
			errChan <- bot.Run(ctx)
		}()
	}

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down gracefully", "signal", sig.String())
		cancel()
		select {
		case <-time.After(5 * time.Second):
			slog.Warn("Shutdown timeout, forcing exit")
		case <-errChan:
		}
	case err := <-errChan:
		cancel()
		if err != nil && err != context.Canceled {
			slog.Error("Fatal error", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Bus alert bot shutdown complete")
}

// logNotifier prints notifications instead of delivering them.
type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, chatID int64, text string) error {
	slog.Info("DRY RUN notification", "chat_id", chatID, "text", text)
	return nil
}

func mustParseDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --%s value %q: %v\n", name, value, err)
		os.Exit(1)
	}
	return d
}

// parseRefreshInterval accepts "0" for load-once alongside durations.
func parseRefreshInterval(value string) time.Duration {
	if value == "" || value == "0" {
		return 0
	}
	return mustParseDuration("catalog-refresh", value)
}

// getEnv returns the value of an environment variable or a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%g", &f); err == nil {
			return f
		}
	}
	return defaultValue
}
