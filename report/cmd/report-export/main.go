package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/dashboards/report/pkg/config"
	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/postprocess"
	"github.com/malbeclabs/dashboards/report/pkg/report"
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

	metricsAddrFlag := flag.String("metrics-addr", "", "address to serve prometheus metrics on while exporting")
	queryIDFlag := flag.Int("query-id", 0, "query id of the report to export")
	visualizationIDFlag := flag.Int("visualization-id", 0, "visualization to select, overrides --query-id")
	paramFlag := flag.StringArray("param", nil, "filter value as placeholder=value; comma separated for multi-select filters (repeatable)")
	postProcessorFlag := flag.String("post-processor", "", "post-processor as kind=value, e.g. collapse-to=week")
	formatFlag := flag.String("format", string(report.ExportCSV), "export format: json, csv or filtered-csv")
	outputFlag := flag.String("output", "-", "output file, '-' for stdout")
	timeoutFlag := flag.Duration("timeout", 5*time.Minute, "overall export timeout")
	flag.Parse()

	log := logger.New(cfg.Verbose)

	if err := cfg.LoadEnv(); err != nil {
		return err
	}
	if *queryIDFlag == 0 && *visualizationIDFlag == 0 {
		return fmt.Errorf("--query-id or --visualization-id is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeoutFlag)
	defer cancelTimeout()

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
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

	var r *report.Report
	if *visualizationIDFlag != 0 {
		r, err = sess.OpenVisualization(*visualizationIDFlag)
	} else {
		r, err = sess.Open(*queryIDFlag)
	}
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}

	if err := applyParams(r, *paramFlag); err != nil {
		return err
	}
	if *postProcessorFlag != "" {
		kind, val, _ := strings.Cut(*postProcessorFlag, "=")
		if err := r.SetPostProcessor(postprocess.Selection{Kind: postprocess.Kind(kind), Value: val}); err != nil {
			return err
		}
	}

	mode := report.ExportMode(*formatFlag)
	if mode == report.ExportFilteredCSV {
		if err := r.Fetch(ctx, nil); err != nil {
			return err
		}
	}

	var w io.Writer = os.Stdout
	if *outputFlag != "-" {
		f, err := os.Create(*outputFlag)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	start := time.Now()
	if err := r.Export(ctx, mode, w); err != nil {
		return fmt.Errorf("failed to export report %d: %w", r.QueryID(), err)
	}
	log.Info("report exported", "query_id", r.QueryID(), "format", mode, "duration", time.Since(start))
	return nil
}

func applyParams(r *report.Report, params []string) error {
	for _, p := range params {
		placeholder, val, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("invalid --param %q, expected placeholder=value", p)
		}
		f, ok := r.Filters().Get(placeholder)
		if !ok {
			return fmt.Errorf("report %d has no filter %s", r.QueryID(), placeholder)
		}
		if f.MultiSelect() {
			f.Select(strings.Split(val, ",")...)
		} else {
			f.SetValue(val)
		}
	}
	return nil
}
