package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jirwin/casetracker/pkg/collector"
	"github.com/jirwin/casetracker/pkg/steam"
)

func initLogging(ctx context.Context, level string) (context.Context, *zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return ctx, nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	l := zap.Must(cfg.Build())
	zap.ReplaceGlobals(l)

	return ctxzap.ToContext(ctx, l), l, nil
}

// readCredentials loads the raw browser cookie string from a file and parses
// the Steam session cookies out of it.
func readCredentials(path string) (steam.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return steam.Credentials{}, err
	}

	return steam.ParseCredentials(strings.TrimSpace(string(data)))
}

func main() {
	var (
		interval      = flag.Duration("interval", time.Minute, "how often to poll the inventory history")
		collectionURL = flag.String("collection-url", "", "aggregator upload endpoint")
		credsPath     = flag.String("credentials", "credentials.txt", "path to a file holding the steam cookie string")
		configPath    = flag.String("config", "config.yaml", "path to the collector config file")
		startTimeStr  = flag.String("start-time", "", "only report unlocks after this RFC3339 timestamp")
		logLevel      = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, l, err := initLogging(ctx, *logLevel)
	if err != nil {
		os.Stderr.WriteString("invalid log level: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer l.Sync()

	if *collectionURL == "" {
		l.Error("no collection url given; set -collection-url")
		os.Exit(1)
	}

	var startTime time.Time
	if *startTimeStr != "" {
		startTime, err = time.Parse(time.RFC3339, *startTimeStr)
		if err != nil {
			l.Error("invalid start time", zap.Error(err))
			os.Exit(1)
		}
	}

	cfg, err := collector.LoadConfig(*configPath)
	if err != nil {
		l.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	creds, err := readCredentials(*credsPath)
	if err != nil {
		l.Error("failed to load credentials", zap.Error(err))
		os.Exit(1)
	}

	id, err := steam.ResolveSteamID(ctx, &http.Client{Timeout: 30 * time.Second}, cfg.SteamProfileURL, l)
	if err != nil {
		l.Error("failed to resolve steam profile", zap.Error(err))
		os.Exit(1)
	}

	client := steam.NewClient(id, creds, l)

	authed, err := client.IsAuthenticated(ctx)
	if err != nil {
		l.Error("failed to check login state", zap.Error(err))
		os.Exit(1)
	}
	if !authed {
		l.Error("steam session is not authenticated; refresh your cookies")
		os.Exit(1)
	}

	coll, err := collector.New(*collectionURL, client, cfg.PreSharedKey, *interval, startTime, l)
	if err != nil {
		l.Error("failed to create collector", zap.Error(err))
		os.Exit(1)
	}

	if err := coll.Run(ctx); err != nil {
		l.Error("collector run failed", zap.Error(err))
		os.Exit(1)
	}
}
