// Command chroniclecore is a minimal process entrypoint: it wires up
// Core, serves the prometheus metrics endpoint, and blocks until
// signalled. Parsing a full operator-facing configuration file and the
// CLI surface proper are named external collaborators in spec.md §1, so
// this stays a thin demonstration harness rather than a complete tool —
// the same division the teacher draws between cmd/frigg (process
// bootstrap) and the query/search-facing cmd/frigg-cli.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	chronicle "github.com/chronicleproject/chronicle-core"
	"github.com/chronicleproject/chronicle-core/packer"
	"github.com/chronicleproject/chronicle-core/ring"
	"github.com/chronicleproject/chronicle-core/storage"
)

func main() {
	root := flag.String("storage-root", "./chronicle-data", "root of the dated artifact tree")
	ringCapacity := flag.Int("ring-capacity", 8<<20, "ring buffer capacity in bytes")
	tickSchedule := flag.String("tick-schedule", packer.DefaultTickSchedule, "cron expression for scheduled ticks")
	retentionDays := flag.Int("retention-days", 30, "artifact retention window in days")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	core, err := chronicle.NewCore(chronicle.Config{
		RingCapacity:   *ringCapacity,
		OverflowPolicy: ring.DropOldest,
		Storage: storage.Config{
			Root:          *root,
			RetentionDays: *retentionDays,
		},
		Packer: packer.Config{
			TickSchedule:         *tickSchedule,
			RetentionEveryNTicks: 7,
		},
		Logger: logger,
	})
	if err != nil {
		level.Error(logger).Log("msg", "failed to construct chronicle core", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.Start(ctx, nil); err != nil {
		level.Error(logger).Log("msg", "failed to start chronicle core", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "metrics server failed", "err", err)
		}
	}()

	level.Info(logger).Log("msg", "chronicle core started", "storage_root", *root, "metrics_addr", *metricsAddr)

	<-ctx.Done()
	level.Info(logger).Log("msg", "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	core.Stop()
}
