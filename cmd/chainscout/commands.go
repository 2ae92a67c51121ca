package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/chainscout/internal/monitor"
	"github.com/dgnsrekt/chainscout/internal/store"
	"github.com/spf13/cobra"
)

var stdout io.Writer = os.Stdout

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in to the broker and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.connectBrowser(ctx); err != nil {
				return err
			}
			st, err := a.stepper.Ensure(ctx)
			if err != nil {
				return err
			}
			slog.Info("login complete", "session_file", cfg.SessionFile, "cookies", len(st.Cookies))
			return printJSON(map[string]any{
				"authenticated": st.Authenticated,
				"last_activity": st.LastActivity,
				"session_file":  cfg.SessionFile,
			})
		},
	}
}

func scanCmd() *cobra.Command {
	var sides []string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan round per side and print the results as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			want, err := monitor.NormalizeSides(sides)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.connectBrowser(ctx); err != nil {
				return err
			}
			if _, err := a.stepper.Ensure(ctx); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			sink, flush := a.sinks(nil, nil)
			mon, err := a.newMonitor(sink, nil)
			if err != nil {
				return err
			}
			results := make([]monitor.RoundResult, 0, len(want))
			for _, side := range want {
				res, err := mon.TriggerOnce(ctx, side)
				if err != nil {
					return fmt.Errorf("scan %s: %w", side, err)
				}
				results = append(results, res)
			}
			flush(ctx)
			if _, err := a.json.Save(store.Snapshot{
				RunID:     results[0].RunID,
				Contracts: a.tracker.Contracts(),
				History:   a.tracker.All(),
			}); err != nil {
				slog.Warn("scan snapshot save failed", "error", err)
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringSliceVar(&sides, "sides", []string{"both"}, "sides to scan: call, put, calls, puts or both")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		key   string
		since time.Duration
		limit int
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write recorded data points as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.RecorderDriver == "none" {
				return fmt.Errorf("export needs a recorder; RECORDER_DRIVER is none")
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			points, err := a.recorder.Points(cmd.Context(), key, from, limit)
			if err != nil {
				return err
			}

			w := stdout
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := store.ExportCSV(w, points); err != nil {
				return err
			}
			slog.Info("export complete", "points", len(points), "key", key, "out", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "contract key such as call_08 (empty exports every contract)")
	cmd.Flags().DurationVar(&since, "since", 0, "only points newer than this age, e.g. 2h")
	cmd.Flags().IntVar(&limit, "limit", 0, "keep only the newest N points (0 = all)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func biasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bias",
		Short: "Compute the current market bias from 1m and 5m RSI",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			r, err := a.market.Refresh(ctx)
			if err != nil {
				return err
			}
			return printJSON(r)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
