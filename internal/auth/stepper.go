package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/chainscout/internal/cdpcontrol"
)

// MaxCodeAttempts bounds how many verification codes are tried before
// falling back to manual completion.
const MaxCodeAttempts = 5

// MinCodeLength rejects obviously truncated codes before submitting them.
const MinCodeLength = 4

// Page is the subset of the page driver the login flow needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Exists(ctx context.Context, selectors ...string) (string, error)
	Fill(ctx context.Context, selector, value string) error
	ClickSelector(ctx context.Context, selector string) error
	PressKey(ctx context.Context, key string) error
	Cookies(ctx context.Context) ([]cdpcontrol.Cookie, error)
	SetCookies(ctx context.Context, cookies []cdpcontrol.Cookie) error
}

// Notifier sends a short message to a human.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Selectors locates the login form.
type Selectors struct {
	Username   string
	Password   string
	Submit     string
	RememberMe string
	Error      string
	MFAInputs  []string
	Landmarks  []string
}

// Options configures a Stepper.
type Options struct {
	LoginURL     string
	ChainURL     string
	AuthURLHints []string
	Selectors    Selectors

	Username string
	Password string

	SessionFile    string
	SessionTimeout time.Duration
	PollTimeout    time.Duration
	ManualWait     time.Duration
	PollInterval   time.Duration
	MaxAttempts    int
}

// Stepper runs the login sequence against a Page.
type Stepper struct {
	page     Page
	opts     Options
	prompter CodePrompter
	notifier Notifier
	now      func() time.Time

	mu    sync.Mutex
	state SessionState
}

func NewStepper(page Page, opts Options, prompter CodePrompter, notifier Notifier) *Stepper {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 180 * time.Second
	}
	if opts.ManualWait <= 0 {
		opts.ManualWait = 120 * time.Second
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Stepper{page: page, opts: opts, prompter: prompter, notifier: notifier, now: time.Now}
}

type pageStatus int

const (
	statusPending pageStatus = iota
	statusAuthenticated
	statusMFA
	statusError
)

func (s pageStatus) String() string {
	switch s {
	case statusAuthenticated:
		return "authenticated"
	case statusMFA:
		return "mfa"
	case statusError:
		return "error"
	}
	return "pending"
}

// State returns a copy of the current session state.
func (s *Stepper) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Cookies = append([]cdpcontrol.Cookie(nil), s.state.Cookies...)
	return st
}

// Ensure leaves the page authenticated on the options chain, restoring a
// fresh session when possible and logging in otherwise.
func (s *Stepper) Ensure(ctx context.Context) (SessionState, error) {
	if ok, err := s.restore(ctx); err != nil {
		return SessionState{}, err
	} else if ok {
		return s.State(), nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		slog.Info("auth login attempt", "attempt", attempt, "max", s.opts.MaxAttempts)
		err := s.attempt(ctx)
		if err == nil {
			if err := s.finish(ctx); err != nil {
				return SessionState{}, err
			}
			return s.State(), nil
		}
		if ctx.Err() != nil {
			return SessionState{}, ctx.Err()
		}
		code := cdpcontrol.ErrorCode(err)
		if code != cdpcontrol.CodeAuthFailed && code != cdpcontrol.CodeMFARequired {
			return SessionState{}, err
		}
		slog.Warn("auth login attempt failed", "attempt", attempt, "code", code, "error", err)
		lastErr = err
	}
	return SessionState{}, cdpcontrol.NewError(cdpcontrol.CodeAuthFailed,
		fmt.Sprintf("login failed after %d attempts", s.opts.MaxAttempts), lastErr)
}

// Touch refreshes cookies and activity and saves the session. It is a no-op
// before the first successful login.
func (s *Stepper) Touch(ctx context.Context) error {
	s.mu.Lock()
	authed := s.state.Authenticated
	s.mu.Unlock()
	if !authed {
		return nil
	}
	cookies, err := s.page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("auth: touch: %w", err)
	}
	s.mu.Lock()
	s.state.Cookies = cookies
	s.state.Touch(s.now())
	st := s.state
	s.mu.Unlock()
	return s.save(st)
}

func (s *Stepper) restore(ctx context.Context) (bool, error) {
	if s.opts.SessionFile == "" {
		return false, nil
	}
	st, fresh, err := LoadSession(s.opts.SessionFile, s.opts.SessionTimeout, s.now())
	if err != nil {
		slog.Warn("auth session unreadable, logging in", "error", err)
		return false, nil
	}
	if !fresh {
		slog.Info("auth saved session missing or expired", "last_activity", st.LastActivity)
		return false, nil
	}

	if err := s.page.SetCookies(ctx, st.Cookies); err != nil {
		return false, err
	}
	if err := s.page.Navigate(ctx, s.opts.ChainURL); err != nil {
		return false, err
	}
	status, err := s.settledCheck(ctx)
	if err != nil {
		slog.Warn("auth restored session check failed, logging in", "error", err)
		return false, nil
	}
	if status != statusAuthenticated {
		slog.Info("auth restored session rejected", "status", status)
		return false, nil
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	slog.Info("auth session restored", "cookies", len(st.Cookies))
	return true, s.finish(ctx)
}

func (s *Stepper) attempt(ctx context.Context) error {
	if err := s.page.Navigate(ctx, s.opts.LoginURL); err != nil {
		return err
	}
	if status, err := s.settledCheck(ctx); err != nil {
		return err
	} else if status == statusAuthenticated {
		return nil
	}

	if s.opts.Username == "" || s.opts.Password == "" {
		slog.Warn("auth no credentials configured, complete the login in the browser window")
		return s.manual(ctx, "chainscout: no credentials configured, log in through the browser window")
	}

	sel := s.opts.Selectors
	if err := s.page.Fill(ctx, sel.Username, s.opts.Username); err != nil {
		return err
	}
	if err := s.page.Fill(ctx, sel.Password, s.opts.Password); err != nil {
		return err
	}
	if sel.RememberMe != "" {
		if found, _ := s.page.Exists(ctx, sel.RememberMe); found != "" {
			if err := s.page.ClickSelector(ctx, sel.RememberMe); err != nil {
				slog.Debug("auth remember-me click failed", "error", err)
			}
		}
	}
	if err := s.page.ClickSelector(ctx, sel.Submit); err != nil {
		slog.Debug("auth submit click failed, pressing Enter", "error", err)
		if err := s.page.PressKey(ctx, "Enter"); err != nil {
			return err
		}
	}

	var mfaErr error
	err := s.poll(ctx, s.opts.PollTimeout, func(status pageStatus) (bool, error) {
		switch status {
		case statusAuthenticated:
			return true, nil
		case statusError:
			return true, cdpcontrol.NewError(cdpcontrol.CodeAuthFailed, "login form reported an error", nil)
		case statusMFA:
			mfaErr = s.handleMFA(ctx)
			return true, mfaErr
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	return nil
}

func (s *Stepper) handleMFA(ctx context.Context) error {
	slog.Info("auth verification code required")
	input, err := s.page.Exists(ctx, s.opts.Selectors.MFAInputs...)
	if err != nil {
		return err
	}
	if s.prompter == nil || input == "" {
		return s.manual(ctx, "chainscout: verification needed, complete it in the browser window")
	}

	for i := 1; i <= MaxCodeAttempts; i++ {
		code, err := s.prompter.PromptCode(ctx, i, MaxCodeAttempts)
		if errors.Is(err, ErrSkip) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("auth code prompt failed", "error", err)
			break
		}
		code = strings.TrimSpace(code)
		if len(code) < MinCodeLength {
			slog.Warn("auth code rejected, too short", "attempt", i, "length", len(code))
			continue
		}
		if err := s.page.Fill(ctx, input, code); err != nil {
			return err
		}
		if err := s.page.PressKey(ctx, "Enter"); err != nil {
			return err
		}

		accepted := false
		err = s.poll(ctx, 10*s.opts.PollInterval, func(status pageStatus) (bool, error) {
			if status == statusAuthenticated {
				accepted = true
				return true, nil
			}
			return status == statusError, nil
		})
		if accepted {
			slog.Info("auth verification code accepted", "attempt", i)
			return nil
		}
		if err != nil && cdpcontrol.ErrorCode(err) != cdpcontrol.CodeAuthFailed {
			return err
		}
		slog.Warn("auth verification code not accepted", "attempt", i)
	}
	return s.manual(ctx, "chainscout: verification code not accepted, complete it in the browser window")
}

// manual notifies a human and waits for the page to become authenticated.
func (s *Stepper) manual(ctx context.Context, message string) error {
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, message); err != nil {
			slog.Warn("auth notify failed", "error", err)
		}
	}
	slog.Info("auth waiting for manual completion", "timeout", s.opts.ManualWait)
	err := s.poll(ctx, s.opts.ManualWait, func(status pageStatus) (bool, error) {
		return status == statusAuthenticated, nil
	})
	if cdpcontrol.ErrorCode(err) == cdpcontrol.CodeAuthFailed {
		return cdpcontrol.NewError(cdpcontrol.CodeMFARequired, "manual login not completed in time", nil)
	}
	return err
}

// poll checks the page every PollInterval until fn reports done, the
// timeout elapses (AUTH_FAILED) or ctx ends.
func (s *Stepper) poll(ctx context.Context, timeout time.Duration, fn func(pageStatus) (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		status, err := s.settledCheck(ctx)
		if err != nil {
			return err
		}
		if done, err := fn(status); done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return cdpcontrol.NewError(cdpcontrol.CodeAuthFailed, "timed out waiting for login", nil)
		case <-ticker.C:
		}
	}
}

// settledCheck is check with evaluation failures reported as pending.
// Navigations tear down the execution context, so a script can fail while
// the next page loads.
func (s *Stepper) settledCheck(ctx context.Context) (pageStatus, error) {
	status, err := s.check(ctx)
	if err != nil {
		code := cdpcontrol.ErrorCode(err)
		if code != cdpcontrol.CodeEvalFailure && code != cdpcontrol.CodeEvalTimeout {
			return statusPending, err
		}
		slog.Debug("auth page check failed", "error", err)
		return statusPending, nil
	}
	return status, nil
}

func (s *Stepper) check(ctx context.Context) (pageStatus, error) {
	sel := s.opts.Selectors
	if len(sel.Landmarks) > 0 {
		found, err := s.page.Exists(ctx, sel.Landmarks...)
		if err != nil {
			return statusPending, err
		}
		if found != "" {
			return statusAuthenticated, nil
		}
	}
	if sel.Error != "" {
		found, err := s.page.Exists(ctx, sel.Error)
		if err != nil {
			return statusPending, err
		}
		if found != "" {
			return statusError, nil
		}
	}
	if len(sel.MFAInputs) > 0 {
		found, err := s.page.Exists(ctx, sel.MFAInputs...)
		if err != nil {
			return statusPending, err
		}
		if found != "" {
			return statusMFA, nil
		}
	}
	url, err := s.page.CurrentURL(ctx)
	if err != nil {
		return statusPending, err
	}
	if IsAuthenticatedURL(url, s.opts.AuthURLHints) {
		return statusAuthenticated, nil
	}
	return statusPending, nil
}

// finish marks the session authenticated, captures cookies, moves to the
// chain and saves.
func (s *Stepper) finish(ctx context.Context) error {
	url, err := s.page.CurrentURL(ctx)
	if err == nil && s.opts.ChainURL != "" && !strings.HasPrefix(url, s.opts.ChainURL) {
		if err := s.page.Navigate(ctx, s.opts.ChainURL); err != nil {
			return err
		}
	}
	cookies, err := s.page.Cookies(ctx)
	if err != nil {
		slog.Warn("auth cookie read failed", "error", err)
	}

	s.mu.Lock()
	s.state.Authenticated = true
	if len(cookies) > 0 {
		s.state.Cookies = cookies
	}
	s.state.Touch(s.now())
	st := s.state
	s.mu.Unlock()

	slog.Info("auth authenticated", "cookies", len(st.Cookies))
	return s.save(st)
}

func (s *Stepper) save(st SessionState) error {
	if s.opts.SessionFile == "" {
		return nil
	}
	if err := SaveSession(s.opts.SessionFile, st); err != nil {
		slog.Warn("auth session save failed", "error", err)
		return err
	}
	return nil
}
