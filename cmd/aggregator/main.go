package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jirwin/casetracker/pkg/aggregator"
	"github.com/jirwin/casetracker/pkg/csgofloat"
	"github.com/jirwin/casetracker/pkg/market"
	"github.com/jirwin/casetracker/pkg/store"
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

func getEnvString(name, defaultVal string) string {
	val := os.Getenv(name)
	if val == "" {
		return defaultVal
	}
	return val
}

func main() {
	var (
		redisURL     = flag.String("redis-url", getEnvString("REDIS_URL", "redis://localhost:6379"), "URL of the shared redis backend")
		floatKey     = flag.String("csgofloat-key", os.Getenv("CSGOFLOAT_KEY"), "CSGOFloat API key")
		bindAddr     = flag.String("bind", ":7000", "address to serve on")
		keystorePath = flag.String("keystore", "keystore.yaml", "path to the pre-shared key file")
		adminName    = flag.String("admin", "", "display name allowed to start countdowns")
		logLevel     = flag.String("log-level", "info", "log level")
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

	if *floatKey == "" {
		l.Error("no CSGOFloat key given; set -csgofloat-key or CSGOFLOAT_KEY")
		os.Exit(1)
	}

	opt, err := redis.ParseURL(*redisURL)
	if err != nil {
		l.Error("invalid redis url", zap.Error(err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	// The backend is usually coming up alongside us; retry the first ping
	// instead of crash-looping.
	ping := func() error { return rdb.Ping(ctx).Err() }
	if err := backoff.Retry(ping, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		l.Error("could not reach redis", zap.Error(err))
		os.Exit(1)
	}

	keys, err := aggregator.LoadKeyStore(*keystorePath)
	if err != nil {
		l.Error("failed to load keystore", zap.Error(err))
		os.Exit(1)
	}

	st := store.New(rdb, l)
	floatClient := csgofloat.New(rdb, *floatKey, l)
	priceClient := market.New(rdb, l)

	handler := aggregator.NewHandler(st, keys, floatClient, priceClient, *adminName, l)
	server := aggregator.NewServer(handler, l)

	if err := server.Start(ctx, *bindAddr); err != nil {
		l.Error("failed to start server", zap.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	l.Info("shutting down")

	if err := server.Stop(context.Background()); err != nil {
		l.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
}
