package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/dashboards/report/pkg/config"
	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/report"
	"github.com/malbeclabs/dashboards/report/pkg/server"
	"github.com/malbeclabs/dashboards/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.Config
	cfg.RegisterFlags(flag.CommandLine)

	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address (or set LISTEN_ADDR env var)")
	metricsAddrFlag := flag.String("metrics-addr", "0.0.0.0:2112", "address to listen on for prometheus metrics")
	publicURLFlag := flag.String("public-url", "/", "base URL of share links (or set PUBLIC_URL env var)")
	allowedOriginsFlag := flag.String("allowed-origins", "*", "comma separated CORS origins (or set ALLOWED_ORIGINS env var)")
	clientRateFlag := flag.Float64("client-rate-limit", 2, "report requests per second per client, 0 for unlimited")
	clientBurstFlag := flag.Int("client-burst", 10, "report request burst per client")
	flag.Parse()

	log := logger.New(cfg.Verbose)

	if err := cfg.LoadEnv(); err != nil {
		return err
	}
	if env := os.Getenv("LISTEN_ADDR"); env != "" {
		*listenAddrFlag = env
	}
	if env := os.Getenv("PUBLIC_URL"); env != "" {
		*publicURLFlag = env
	}
	if env := os.Getenv("ALLOWED_ORIGINS"); env != "" {
		*allowedOriginsFlag = env
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		env := os.Getenv("SENTRY_ENVIRONMENT")
		if env == "" {
			env = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      env,
			Release:          version,
			EnableTracing:    true,
			TracesSampleRate: 0.1,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", env)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	if *metricsAddrFlag != "" {
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	engineSettings, err := cfg.Settings()
	if err != nil {
		return err
	}
	cat, closeCatalog, err := cfg.Catalog(ctx, log)
	if err != nil {
		return err
	}
	defer closeCatalog()
	log.Info("catalog loaded", "reports", len(cat.List()))

	b, closeBackend, err := cfg.QueryBackend(ctx, log, engineSettings.PlaceholderPrefix)
	if err != nil {
		return err
	}
	defer closeBackend()

	sess, err := report.NewSession(report.SessionConfig{
		Logger:   log,
		Settings: engineSettings,
		Backend:  b,
		Catalog:  cat,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	srv, err := server.New(server.Config{
		Logger:         log,
		Session:        sess,
		Catalog:        cat,
		Addr:           *listenAddrFlag,
		PublicURL:      *publicURLFlag,
		AllowedOrigins: strings.Split(*allowedOriginsFlag, ","),
		RateLimit:      rate.Limit(*clientRateFlag),
		Burst:          *clientBurstFlag,
	})
	if err != nil {
		return err
	}

	log.Info("report server starting", "version", version, "commit", commit, "addr", *listenAddrFlag)
	return srv.Start(ctx)
}
