package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/chainscout/internal/auth"
	"github.com/dgnsrekt/chainscout/internal/browser"
	"github.com/dgnsrekt/chainscout/internal/cache"
	"github.com/dgnsrekt/chainscout/internal/capture"
	"github.com/dgnsrekt/chainscout/internal/cdp"
	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/dgnsrekt/chainscout/internal/config"
	"github.com/dgnsrekt/chainscout/internal/expansion"
	"github.com/dgnsrekt/chainscout/internal/extract"
	"github.com/dgnsrekt/chainscout/internal/influx"
	"github.com/dgnsrekt/chainscout/internal/locator"
	"github.com/dgnsrekt/chainscout/internal/market"
	"github.com/dgnsrekt/chainscout/internal/monitor"
	"github.com/dgnsrekt/chainscout/internal/natsbus"
	"github.com/dgnsrekt/chainscout/internal/notify"
	"github.com/dgnsrekt/chainscout/internal/relay"
	"github.com/dgnsrekt/chainscout/internal/snapshot"
	"github.com/dgnsrekt/chainscout/internal/storage"
	"github.com/dgnsrekt/chainscout/internal/store"
	"github.com/dgnsrekt/chainscout/internal/tracker"
)

// snapshotKeep bounds the timestamped contract snapshots on disk.
const snapshotKeep = 48

// app holds everything a command may need. Fields stay nil when the
// command did not ask for them.
type app struct {
	cfg *config.Config

	launcher *browser.Launcher
	page     *cdpcontrol.Client
	observer *cdp.Observer
	stepper  *auth.Stepper
	notifier *notify.Notifier

	tracker  *tracker.Tracker
	recorder store.Recorder
	json     *store.JSONStore
	market   *market.Service

	closers []func()
}

func newApp(c *config.Config) (*app, error) {
	a := &app{
		cfg:      c,
		notifier: notify.New(c.NTFYEndpoint),
		tracker:  tracker.New(c.HistoryCap),
		json:     store.NewJSONStore(c.DataDir, snapshotKeep),
		market:   market.NewService(market.NewYahooFetcher(), c.BiasSymbol, c.RSIPeriod),
	}
	rec, err := store.Open(c.RecorderDriver, c.RecorderDSN)
	if err != nil {
		return nil, err
	}
	a.recorder = rec
	a.onClose(func() {
		if err := rec.Close(); err != nil {
			slog.Warn("store recorder close failed", "error", err)
		}
	})
	return a, nil
}

// onClose registers cleanup run in reverse order by Close.
func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// connectBrowser launches (or attaches to) Chrome, connects the page
// driver and prepares the login stepper.
func (a *app) connectBrowser(ctx context.Context) error {
	c := a.cfg
	if c.LaunchBrowser {
		a.launcher = browser.NewLauncher(browser.Config{
			CDPAddress: c.CDPAddress,
			CDPPort:    c.CDPPort,
			StartURL:   c.Profile.LoginURL,
			ProfileDir: c.BrowserProfileDir,
			Binary:     c.BrowserBinary,
		})
		mode, err := a.launcher.Launch(ctx)
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		// An attached browser belongs to the operator and is left alone.
		if mode == browser.ModeSpawned && c.CloseBrowserOnExit {
			a.onClose(a.launcher.Stop)
		}
	}

	client := cdpcontrol.NewClient(c.CDPURL(), c.TabURLFilter, time.Duration(c.EvalTimeoutMS)*time.Millisecond)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect CDP controller at %s: %w", c.CDPURL(), err)
	}
	a.page = client
	a.onClose(func() {
		if err := client.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	})
	if _, err := client.EnsurePage(ctx, c.Profile.LoginURL); err != nil {
		return fmt.Errorf("open broker tab: %w", err)
	}

	a.stepper = auth.NewStepper(client, auth.Options{
		LoginURL:     c.Profile.LoginURL,
		ChainURL:     c.ChainURL(),
		AuthURLHints: c.Profile.AuthURLHints,
		Selectors: auth.Selectors{
			Username:   c.Profile.Login.Username,
			Password:   c.Profile.Login.Password,
			Submit:     c.Profile.Login.Submit,
			RememberMe: c.Profile.Login.RememberMe,
			Error:      c.Profile.Login.Error,
			MFAInputs:  c.Profile.MFAInputs,
			Landmarks:  c.Profile.Landmarks,
		},
		Username:       c.Username,
		Password:       c.Password,
		SessionFile:    c.SessionFile,
		SessionTimeout: time.Duration(c.SessionTimeoutSec) * time.Second,
		PollTimeout:    time.Duration(c.AuthPollTimeoutSec) * time.Second,
		ManualWait:     time.Duration(c.ManualWaitSec) * time.Second,
		MaxAttempts:    c.MaxLoginAttempts,
	}, auth.NewTerminalPrompter(stdin, stderr), a.notifier)
	return nil
}

// startObserver records matching quote traffic from the broker tab into
// the JSONL stream. It is best effort; the scraper works without it.
func (a *app) startObserver(ctx context.Context, writers *storage.WriterRegistry) {
	c := a.cfg
	tabs := cdp.NewTabRegistry()
	httpCapture := capture.NewHTTPCapture(writers, tabs, c.Profile.CaptureURLHints, c.CaptureMaxBody)
	wsCapture := capture.NewWebSocketCapture(writers, tabs, c.Profile.CaptureURLHints, c.CaptureMaxBody)
	obs := cdp.NewObserver(c.CDPURL(), c.TabURLFilter, httpCapture, wsCapture, tabs)
	if err := obs.Start(ctx); err != nil {
		_ = obs.Close()
		httpCapture.Close()
		slog.Warn("capture observer unavailable", "error", err)
		return
	}
	a.observer = obs
	a.onClose(func() {
		if err := obs.Close(); err != nil {
			slog.Debug("capture observer close failed", "error", err)
		}
		httpCapture.Close()
	})
	slog.Info("capture observer started", "tabs", obs.TabCount(), "patterns", c.Profile.CaptureURLHints)
}

// sinks builds the fan-out for accepted points. Optional sinks that fail
// to connect are logged and left out.
func (a *app) sinks(broker *relay.Broker, points *storage.JSONLWriter) (*tracker.MultiSink, func(context.Context)) {
	c := a.cfg
	multi := tracker.NewMultiSink()
	multi.Add("recorder", store.AsSink(a.recorder))
	if broker != nil {
		multi.Add("relay", relay.NewSink(broker))
	}
	if points != nil {
		multi.Add("jsonl", tracker.SinkFunc(func(_ context.Context, dp tracker.DataPoint) error {
			return points.Write(dp)
		}))
	}

	var flushers []func(context.Context)
	if c.NATSURL != "" {
		pub, err := natsbus.Connect(c.NATSURL, c.NATSSubject)
		if err != nil {
			slog.Warn("nats sink disabled", "url", c.NATSURL, "error", err)
		} else {
			multi.Add("nats", pub)
			a.onClose(func() {
				if err := pub.Close(); err != nil {
					slog.Debug("nats close failed", "error", err)
				}
			})
		}
	}
	if c.RedisAddr != "" {
		r := cache.NewRedis(c.RedisAddr, c.RedisDB, c.HistoryCap)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := r.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Warn("redis sink disabled", "addr", c.RedisAddr, "error", err)
			_ = r.Close()
		} else {
			multi.Add("redis", r)
			a.onClose(func() { _ = r.Close() })
		}
	}
	if c.InfluxURL != "" {
		w, err := influx.NewWriter(c.InfluxURL, c.InfluxDatabase, c.InfluxUser, c.InfluxPassword)
		if err != nil {
			slog.Warn("influx sink disabled", "url", c.InfluxURL, "error", err)
		} else {
			multi.Add("influx", w)
			flushers = append(flushers, func(ctx context.Context) {
				if err := w.Flush(ctx); err != nil {
					slog.Warn("influx flush failed", "error", err)
				}
			})
			a.onClose(func() { _ = w.Close() })
		}
	}
	slog.Info("sinks ready", "sinks", multi.Names())
	return multi, func(ctx context.Context) {
		for _, f := range flushers {
			f(ctx)
		}
	}
}

// newMonitor builds the scanner and monitor over the connected page.
func (a *app) newMonitor(sink tracker.Sink, shots monitor.Shots) (*monitor.Monitor, error) {
	c := a.cfg
	ex, err := extract.New(extract.Options{
		Patterns:   c.Profile.Patterns,
		Labels:     c.Profile.FieldLabels,
		MinFields:  c.MinFields,
		MaxPremium: c.MaxPremium,
	})
	if err != nil {
		return nil, err
	}
	strategies := make([]locator.Strategy, 0, len(c.Profile.ClickStrategies))
	for _, s := range c.Profile.ClickStrategies {
		strategies = append(strategies, locator.Strategy{Fraction: s.Fraction, OffsetPX: s.OffsetPX})
	}
	scanner := monitor.NewScanner(a.page, monitor.Options{
		CentLow:           c.CentLow,
		CentHigh:          c.CentHigh,
		MaxContracts:      c.MaxContracts,
		SideTabs:          c.Profile.SideTabs,
		Families:          c.Profile.SelectorFamilies,
		Strategies:        strategies,
		MinBoxWidth:       c.Profile.MinBoxWidth,
		MinBoxHeight:      c.Profile.MinBoxHeight,
		Settle:            time.Duration(c.SettleMS) * time.Millisecond,
		ScreenshotOnClick: c.ScreenshotOnClick,
	},
		expansion.New(c.Profile.Keywords, c.Profile.ExpansionMinCount),
		ex, a.tracker, sink,
		monitor.NewBreaker(c.BreakerThreshold, time.Duration(c.BreakerCooldownS)*time.Second),
	)
	if shots != nil {
		scanner.WithShots(shots)
	}
	return monitor.New(scanner, time.Duration(c.ScanIntervalMS)*time.Millisecond), nil
}

func openSnapshots(dir string) (*snapshot.Store, error) {
	s, err := snapshot.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store %s: %w", dir, err)
	}
	return s, nil
}
