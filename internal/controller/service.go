// Package controller validates requests and delegates to the monitor,
// tracker, stores and market service.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/chainscout/internal/auth"
	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
	"github.com/dgnsrekt/chainscout/internal/market"
	"github.com/dgnsrekt/chainscout/internal/monitor"
	"github.com/dgnsrekt/chainscout/internal/snapshot"
	"github.com/dgnsrekt/chainscout/internal/store"
	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/google/uuid"
)

// Page is the slice of the browser the service needs for manual
// screenshots.
type Page interface {
	Screenshot(ctx context.Context, format string, quality int) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Deps are the collaborators. Monitor, Auth, Market, Recorder, Snapshots,
// JSON and Page may be nil; the matching operations then fail with
// VALIDATION or return empty results.
type Deps struct {
	Tracker   *tracker.Tracker
	Monitor   *monitor.Monitor
	Auth      *auth.Stepper
	Market    *market.Service
	Recorder  store.Recorder
	Snapshots *snapshot.Store
	JSON      *store.JSONStore
	Page      Page
}

// Service is the one entry point used by the API and CLI.
type Service struct {
	base      context.Context
	d         Deps
	startedAt time.Time
}

// NewService binds long-running work (monitor loops) to base rather than
// to the request that started it.
func NewService(base context.Context, d Deps) *Service {
	if d.Tracker == nil {
		d.Tracker = tracker.New(0)
	}
	if d.Recorder == nil {
		d.Recorder = store.Noop{}
	}
	return &Service{base: base, d: d, startedAt: time.Now().UTC()}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func unavailable(what string) error {
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: what + " is not configured"}
}

func (s *Service) parseKey(key string) (string, error) {
	if err := s.requireNonEmpty(key, "key"); err != nil {
		return "", err
	}
	k, err := tracker.ParseContractKey(strings.TrimSpace(key))
	if err != nil {
		return "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error()}
	}
	return k.String(), nil
}

// Health summarizes the daemon.
type Health struct {
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	Monitoring    bool      `json:"monitoring"`
	Authenticated bool      `json:"authenticated"`
	Contracts     int       `json:"contracts"`
}

func (s *Service) Health() Health {
	h := Health{Status: "ok", StartedAt: s.startedAt, Contracts: len(s.d.Tracker.Keys())}
	if s.d.Monitor != nil {
		h.Monitoring = s.d.Monitor.Running()
	}
	if s.d.Auth != nil {
		h.Authenticated = s.d.Auth.State().Authenticated
	}
	return h
}

func (s *Service) Contracts() []tracker.Contract {
	return s.d.Tracker.Contracts()
}

func (s *Service) Contract(key string) (tracker.Contract, error) {
	k, err := s.parseKey(key)
	if err != nil {
		return tracker.Contract{}, err
	}
	c, ok := s.d.Tracker.Contract(k)
	if !ok {
		return tracker.Contract{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeContractNotFound, Message: "no data for " + k}
	}
	return c, nil
}

// History returns the newest limit points, oldest first. limit 0 means the
// whole retained history.
func (s *Service) History(key string, limit int) ([]tracker.DataPoint, error) {
	if limit < 0 || limit > s.d.Tracker.Cap() {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fmt.Sprintf("limit must be between 0 and %d", s.d.Tracker.Cap())}
	}
	c, err := s.Contract(key)
	if err != nil {
		return nil, err
	}
	return s.d.Tracker.History(c.Key, limit), nil
}

func (s *Service) Summary(key string) (tracker.Summary, error) {
	k, err := s.parseKey(key)
	if err != nil {
		return tracker.Summary{}, err
	}
	sum, ok := s.d.Tracker.Summary(k)
	if !ok {
		return tracker.Summary{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeContractNotFound, Message: "no data for " + k}
	}
	return sum, nil
}

// Points reads recorded points from the recorder, newest limit, oldest
// first.
func (s *Service) Points(ctx context.Context, key string, since time.Time, limit int) ([]tracker.DataPoint, error) {
	k := ""
	if strings.TrimSpace(key) != "" {
		var err error
		if k, err = s.parseKey(key); err != nil {
			return nil, err
		}
	}
	if limit < 0 {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "limit must not be negative"}
	}
	return s.d.Recorder.Points(ctx, k, since, limit)
}

func (s *Service) RecordedContracts(ctx context.Context) ([]store.ContractRow, error) {
	return s.d.Recorder.Contracts(ctx)
}

func (s *Service) MonitorStatus() (monitor.Status, error) {
	if s.d.Monitor == nil {
		return monitor.Status{}, unavailable("monitor")
	}
	return s.d.Monitor.Status(), nil
}

// StartMonitor starts the loops for sides (empty means both).
func (s *Service) StartMonitor(sides []string) (monitor.Status, error) {
	if s.d.Monitor == nil {
		return monitor.Status{}, unavailable("monitor")
	}
	if err := s.d.Monitor.Start(s.base, sides); err != nil {
		return monitor.Status{}, err
	}
	return s.d.Monitor.Status(), nil
}

func (s *Service) StopMonitor() (monitor.Status, error) {
	if s.d.Monitor == nil {
		return monitor.Status{}, unavailable("monitor")
	}
	s.d.Monitor.Stop()
	return s.d.Monitor.Status(), nil
}

// Scan runs one round for side now.
func (s *Service) Scan(ctx context.Context, side string) (monitor.RoundResult, error) {
	if err := s.requireNonEmpty(side, "side"); err != nil {
		return monitor.RoundResult{}, err
	}
	if s.d.Monitor == nil {
		return monitor.RoundResult{}, unavailable("monitor")
	}
	sides, err := monitor.NormalizeSides([]string{strings.ToLower(strings.TrimSpace(side))})
	if err != nil {
		return monitor.RoundResult{}, err
	}
	if len(sides) != 1 {
		return monitor.RoundResult{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "scan takes a single side"}
	}
	return s.d.Monitor.TriggerOnce(ctx, sides[0])
}

// Bias returns the latest reading, refreshing when none exists or refresh
// is set.
func (s *Service) Bias(ctx context.Context, refresh bool) (market.Reading, error) {
	if s.d.Market == nil {
		return market.Reading{}, unavailable("market data")
	}
	if !refresh {
		if r, ok := s.d.Market.Latest(); ok {
			return r, nil
		}
	}
	return s.d.Market.Refresh(ctx)
}

// SessionInfo is the session without its cookies.
type SessionInfo struct {
	Authenticated bool      `json:"authenticated"`
	LastActivity  time.Time `json:"last_activity"`
	Cookies       int       `json:"cookies"`
}

func (s *Service) Session() (SessionInfo, error) {
	if s.d.Auth == nil {
		return SessionInfo{}, unavailable("login")
	}
	st := s.d.Auth.State()
	return SessionInfo{Authenticated: st.Authenticated, LastActivity: st.LastActivity, Cookies: len(st.Cookies)}, nil
}

// TouchSession refreshes and saves the session file.
func (s *Service) TouchSession(ctx context.Context) error {
	if s.d.Auth == nil {
		return nil
	}
	return s.d.Auth.Touch(ctx)
}

// Screenshot captures the page and stores it.
func (s *Service) Screenshot(ctx context.Context, notes string) (snapshot.SnapshotMeta, error) {
	if s.d.Page == nil || s.d.Snapshots == nil {
		return snapshot.SnapshotMeta{}, unavailable("screenshots")
	}
	img, err := s.d.Page.Screenshot(ctx, "png", 0)
	if err != nil {
		return snapshot.SnapshotMeta{}, err
	}
	meta := snapshot.SnapshotMeta{Reason: "manual", Notes: strings.TrimSpace(notes), Format: "png"}
	if url, err := s.d.Page.CurrentURL(ctx); err == nil {
		meta.URL = url
	}
	return s.d.Snapshots.Save(meta, img)
}

func (s *Service) ListSnapshots() ([]snapshot.SnapshotMeta, error) {
	if s.d.Snapshots == nil {
		return nil, nil
	}
	return s.d.Snapshots.List()
}

func (s *Service) GetSnapshot(id string) (snapshot.SnapshotMeta, error) {
	if err := s.requireNonEmpty(id, "id"); err != nil {
		return snapshot.SnapshotMeta{}, err
	}
	if s.d.Snapshots == nil {
		return snapshot.SnapshotMeta{}, unavailable("screenshots")
	}
	return s.d.Snapshots.Get(strings.TrimSpace(id))
}

func (s *Service) SnapshotImage(id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "id"); err != nil {
		return nil, "", err
	}
	if s.d.Snapshots == nil {
		return nil, "", unavailable("screenshots")
	}
	return s.d.Snapshots.ReadImage(strings.TrimSpace(id))
}

func (s *Service) DeleteSnapshot(id string) error {
	if err := s.requireNonEmpty(id, "id"); err != nil {
		return err
	}
	if s.d.Snapshots == nil {
		return unavailable("screenshots")
	}
	return s.d.Snapshots.Delete(strings.TrimSpace(id))
}

// Persist writes the tracker state and latest bias to the JSON store and
// returns the timestamped path.
func (s *Service) Persist() (string, error) {
	if s.d.JSON == nil {
		return "", unavailable("snapshot directory")
	}
	snap := store.Snapshot{
		RunID:     uuid.NewString(),
		Contracts: s.d.Tracker.Contracts(),
		History:   s.d.Tracker.All(),
	}
	if s.d.Market != nil {
		if r, ok := s.d.Market.Latest(); ok {
			snap.Bias = &r
		}
	}
	path, err := s.d.JSON.Save(snap)
	if err != nil {
		return "", err
	}
	slog.Debug("controller persisted", "path", path, "contracts", len(snap.Contracts))
	return path, nil
}

// Restore loads latest.json into the tracker. A missing snapshot is not an
// error.
func (s *Service) Restore() (int, error) {
	if s.d.JSON == nil {
		return 0, nil
	}
	snap, err := s.d.JSON.LoadLatest()
	if errors.Is(err, store.ErrNoSnapshot) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.d.Tracker.Load(snap.History)
	slog.Info("controller restored history", "contracts", len(snap.History), "saved_at", snap.SavedAt)
	return len(snap.History), nil
}
