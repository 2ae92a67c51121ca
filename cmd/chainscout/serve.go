package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgnsrekt/chainscout/internal/api"
	"github.com/dgnsrekt/chainscout/internal/archive"
	"github.com/dgnsrekt/chainscout/internal/controller"
	"github.com/dgnsrekt/chainscout/internal/market"
	"github.com/dgnsrekt/chainscout/internal/monitor"
	"github.com/dgnsrekt/chainscout/internal/netutil"
	"github.com/dgnsrekt/chainscout/internal/relay"
	"github.com/dgnsrekt/chainscout/internal/scheduler"
	"github.com/dgnsrekt/chainscout/internal/storage"
	"github.com/spf13/cobra"
)

const jobTimeout = 2 * time.Minute

func serveCmd() *cobra.Command {
	var sides []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Log in, monitor the chain and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("sides") {
				picked, err := pickSides(cfg.Sides)
				if err != nil {
					return err
				}
				sides = picked
			}
			return serve(sides)
		},
	}
	cmd.Flags().StringSliceVar(&sides, "sides", nil, "sides to monitor: call, put, calls, puts or both")
	return cmd
}

func serve(sides []string) error {
	sides, err := monitor.NormalizeSides(sides)
	if err != nil {
		return err
	}

	slog.Info("chainscout config loaded",
		"bind_addr", cfg.BindAddr,
		"underlying", cfg.Underlying,
		"cent_range", fmt.Sprintf("%d..%d", cfg.CentLow, cfg.CentHigh),
		"sides", sides,
		"scan_interval_ms", cfg.ScanIntervalMS,
		"history_cap", cfg.HistoryCap,
		"recorder", cfg.RecorderDriver,
		"tab_url_filter", cfg.TabURLFilter,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address near %s: %w", cfg.BindAddr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	writers := storage.NewWriterRegistry(cfg.StreamDir, cfg.StreamBuffer, cfg.StreamMaxMB)
	a.onClose(func() {
		written, dropped := writers.Stats()
		if err := writers.Close(); err != nil {
			slog.Warn("stream writers close failed", "error", err)
		}
		slog.Info("stream writers closed", "written", written, "dropped", dropped)
	})

	if err := a.connectBrowser(ctx); err != nil {
		return err
	}
	if cfg.CaptureTraffic {
		a.startObserver(ctx, writers)
	}
	if _, err := a.stepper.Ensure(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	snaps, err := openSnapshots(cfg.SnapshotDir)
	if err != nil {
		return err
	}

	broker := relay.NewBroker()
	sink, flush := a.sinks(broker, writers.GetWriter("datapoints", "datapoints"))
	mon, err := a.newMonitor(sink, snaps)
	if err != nil {
		return err
	}
	mon.OnRound(func(r monitor.RoundResult) {
		if err := broker.PublishJSON(relay.FeedStatus, r); err != nil {
			slog.Debug("relay status publish failed", "error", err)
		}
		if len(r.NewKeys) > 0 {
			go func(keys []string) {
				nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.notifier.Notify(nctx, "new contracts in range: "+strings.Join(keys, ", "))
			}(r.NewKeys)
		}
	})
	a.market.OnUpdate(func(r market.Reading) {
		if err := broker.PublishJSON(relay.FeedBias, r); err != nil {
			slog.Debug("relay bias publish failed", "error", err)
		}
	})

	svc := controller.NewService(ctx, controller.Deps{
		Tracker:   a.tracker,
		Monitor:   mon,
		Auth:      a.stepper,
		Market:    a.market,
		Recorder:  a.recorder,
		Snapshots: snaps,
		JSON:      a.json,
		Page:      a.page,
	})
	if n, err := svc.Restore(); err != nil {
		slog.Warn("history restore failed", "error", err)
	} else if n > 0 {
		slog.Info("history restored", "contracts", n)
	}

	sched, err := newScheduler(ctx, svc, a, flush)
	if err != nil {
		return err
	}
	sched.Start()

	if _, err := svc.StartMonitor(sides); err != nil {
		sched.Stop()
		return err
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker)}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("chainscout listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err = <-errCh:
		slog.Error("chainscout server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("chainscout shutdown failed", "error", err)
	}
	if _, stopErr := svc.StopMonitor(); stopErr != nil {
		slog.Warn("monitor stop failed", "error", stopErr)
	}
	sched.Stop()
	if path, perr := svc.Persist(); perr != nil {
		slog.Warn("final persist failed", "error", perr)
	} else {
		slog.Info("final snapshot saved", "path", path)
	}
	if tErr := svc.TouchSession(shutdownCtx); tErr != nil {
		slog.Debug("final session save failed", "error", tErr)
	}
	flush(shutdownCtx)
	slog.Info("chainscout stopped", "relay_dropped", broker.Dropped())
	return err
}

func newScheduler(ctx context.Context, svc *controller.Service, a *app, flush func(context.Context)) (*scheduler.Scheduler, error) {
	sched := scheduler.New(ctx, jobTimeout)

	if err := sched.Add(scheduler.JobPersist, cfg.PersistCron, func(jobCtx context.Context) error {
		_, err := svc.Persist()
		if err == nil {
			flush(jobCtx)
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.Add(scheduler.JobBias, cfg.BiasCron, func(jobCtx context.Context) error {
		_, err := a.market.Refresh(jobCtx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.Add(scheduler.JobSession, cfg.SessionCron, svc.TouchSession); err != nil {
		return nil, err
	}

	if cfg.S3Bucket != "" {
		s3, err := archive.NewS3(cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		if err := sched.Add(scheduler.JobArchive, cfg.ArchiveCron, func(jobCtx context.Context) error {
			return runArchive(jobCtx, s3, a)
		}); err != nil {
			return nil, err
		}
	}
	slog.Info("scheduler jobs registered", "jobs", sched.Names())
	return sched, nil
}

// runArchive uploads the latest snapshot plus the last hour of recorded
// points.
func runArchive(ctx context.Context, s3 *archive.S3, a *app) error {
	points, err := a.recorder.Points(ctx, "", time.Now().Add(-time.Hour), 0)
	if err != nil {
		return err
	}
	snapPath := a.json.LatestPath()
	if _, err := os.Stat(snapPath); err != nil {
		snapPath = ""
	}
	keys, err := s3.Run(ctx, snapPath, points)
	if err != nil {
		return err
	}
	slog.Debug("scheduler archive done", "objects", keys, "points", len(points))
	return nil
}
