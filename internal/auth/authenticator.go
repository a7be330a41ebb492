// Package auth drives the portal login flow as a small state machine:
// Unauthenticated -> AwaitingOTP -> Authenticated, with LoginFailed terminal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oakhurst/inf-report-bot/internal/browser"
	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/session"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingOTP
	StateAuthenticated
	StateLoginFailed
)

type Reason string

const (
	ReasonBadCredentials    Reason = "bad credentials"
	ReasonOTPExhausted      Reason = "otp exhausted"
	ReasonNavigationTimeout Reason = "navigation timeout"
	ReasonUnknownUI         Reason = "unknown ui shape"
)

// Error is the fatal authentication failure surfaced to the pipeline.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// transient reports whether a retry with a fresh attempt can plausibly help.
func (e *Error) transient() bool {
	return e.Reason == ReasonNavigationTimeout || e.Reason == ReasonUnknownUI
}

// Login UI selectors. The interstitial and account-picker screens only
// appear some of the time, so their selectors are probed, not awaited.
const (
	selContinueInput = `input[type="submit"][aria-labelledby="continue-announce"]`
	selContinueBtn   = `button:has-text("Continue shopping")`
	selEmail         = `input#ap_email`
	selEmailSubmit   = `input#continue`
	selPassword      = `input#ap_password`
	selSignIn        = `input#signInSubmit`
	selAuthError     = `#auth-error-message-box`
	selOTPInput      = `input[id*="otp"]`
	selOTPSubmit     = `#auth-signin-button`
	selDashboard     = `#content`
	selRangePicker   = `#range-selector`
	selAccountPick   = `h1:has-text("Select an account")`
)

// CodeSource yields the current one-time code. Codes rotate with time, so
// the authenticator asks for a fresh one on every attempt.
type CodeSource interface {
	CurrentCode(at time.Time) (string, error)
}

// SessionStore is the persistence surface the authenticator needs.
type SessionStore interface {
	Load() (*session.State, error)
	Save(state *session.State) error
	Invalidate() error
}

type Authenticator struct {
	driver browser.Driver
	store  SessionStore
	codes  CodeSource
	cfg    *config.Config
	state  State
	now    func() time.Time
}

func New(driver browser.Driver, store SessionStore, codes CodeSource, cfg *config.Config) *Authenticator {
	return &Authenticator{
		driver: driver,
		store:  store,
		codes:  codes,
		cfg:    cfg,
		state:  StateUnauthenticated,
		now:    time.Now,
	}
}

// State exposes the current machine state, mainly for tests and logging.
func (a *Authenticator) State() State { return a.state }

// Authenticate returns a live, authenticated browser session. It first tries
// to restore the persisted session; otherwise it performs a full credential
// login with bounded retries on transient UI faults.
func (a *Authenticator) Authenticate(ctx context.Context) (browser.Session, error) {
	a.state = StateUnauthenticated

	if sess := a.tryRestore(); sess != nil {
		a.state = StateAuthenticated
		return sess, nil
	}

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			slog.Warn("Login attempt failed, retrying", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				a.state = StateLoginFailed
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		sess, err := a.fullLogin()
		if err == nil {
			a.state = StateAuthenticated
			return sess, nil
		}
		lastErr = err

		var authErr *Error
		if errors.As(err, &authErr) && !authErr.transient() {
			break
		}
	}

	a.state = StateLoginFailed
	var authErr *Error
	if !errors.As(lastErr, &authErr) {
		lastErr = &Error{Reason: ReasonUnknownUI, Err: lastErr}
	}
	return nil, lastErr
}

// tryRestore opens a session from stored state and probes it with a
// lightweight navigation. Any failure falls through to a full login.
func (a *Authenticator) tryRestore() browser.Session {
	state, err := a.store.Load()
	if err != nil || state == nil || !state.Valid {
		return nil
	}

	sess, err := a.driver.NewSession(state.Storage)
	if err != nil {
		slog.Warn("Failed to restore session from stored state", "error", err)
		a.store.Invalidate()
		return nil
	}

	page, err := sess.NewPage()
	if err == nil && a.probe(page) {
		slog.Info("Existing session still valid, skipping login")
		return sess
	}

	slog.Info("Stored session no longer valid, full login required")
	sess.Close()
	a.store.Invalidate()
	return nil
}

// probe checks the session is live: the report page must not bounce to a
// sign-in URL and the date-range selector must render.
func (a *Authenticator) probe(page browser.Page) bool {
	if err := page.Navigate(a.cfg.ReportURL(), a.cfg.PageTimeout); err != nil {
		return false
	}
	current := strings.ToLower(page.URL())
	if strings.Contains(current, "signin") || strings.Contains(current, "/ap/") {
		return false
	}
	return page.WaitVisible(selRangePicker, a.cfg.WaitTimeout) == nil
}

func (a *Authenticator) fullLogin() (browser.Session, error) {
	sess, err := a.driver.NewSession(nil)
	if err != nil {
		return nil, &Error{Reason: ReasonUnknownUI, Err: err}
	}
	page, err := sess.NewPage()
	if err != nil {
		sess.Close()
		return nil, &Error{Reason: ReasonUnknownUI, Err: err}
	}

	if err := a.performLogin(page); err != nil {
		a.captureFailure(page, "login_failure")
		sess.Close()
		return nil, err
	}

	blob, err := sess.StorageState()
	if err != nil {
		sess.Close()
		return nil, &Error{Reason: ReasonUnknownUI, Err: fmt.Errorf("failed to export session state: %w", err)}
	}
	if err := a.store.Save(&session.State{SavedAt: a.now(), Valid: true, Storage: blob}); err != nil {
		slog.Warn("Failed to persist session state, next run will log in again", "error", err)
	} else {
		slog.Info("Saved new session state")
	}
	return sess, nil
}

func (a *Authenticator) performLogin(page browser.Page) error {
	slog.Info("Starting login flow")
	if err := page.Navigate(a.cfg.LoginURL, a.cfg.PageTimeout); err != nil {
		return &Error{Reason: ReasonNavigationTimeout, Err: err}
	}

	// Optional interstitial before the credential form.
	anyEntry := selContinueInput + ", " + selContinueBtn + ", " + selEmail
	if err := page.WaitVisible(anyEntry, a.cfg.ActionTimeout); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: fmt.Errorf("no login entry point appeared: %w", err)}
	}
	if page.IsVisible(selContinueInput) {
		if err := page.Click(selContinueInput); err != nil {
			return &Error{Reason: ReasonUnknownUI, Err: err}
		}
	} else if page.IsVisible(selContinueBtn) {
		if err := page.Click(selContinueBtn); err != nil {
			return &Error{Reason: ReasonUnknownUI, Err: err}
		}
	}

	if err := page.WaitVisible(selEmail, a.cfg.WaitTimeout); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: fmt.Errorf("email field never appeared: %w", err)}
	}
	if err := page.Fill(selEmail, a.cfg.LoginEmail); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: err}
	}
	if err := page.Click(selEmailSubmit); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: err}
	}

	if err := page.WaitVisible(selPassword, a.cfg.WaitTimeout); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: fmt.Errorf("password field never appeared: %w", err)}
	}
	if err := page.Fill(selPassword, a.cfg.LoginPassword); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: err}
	}
	if err := page.Click(selSignIn); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: err}
	}

	postSignIn := strings.Join([]string{selOTPInput, selDashboard, selAccountPick, selAuthError}, ", ")
	if err := page.WaitVisible(postSignIn, a.cfg.WaitTimeout); err != nil {
		return &Error{Reason: ReasonNavigationTimeout, Err: fmt.Errorf("no post-signin screen appeared: %w", err)}
	}
	if page.IsVisible(selAuthError) {
		return &Error{Reason: ReasonBadCredentials}
	}

	if page.IsVisible(selOTPInput) {
		a.state = StateAwaitingOTP
		if err := a.submitOTP(page); err != nil {
			return err
		}
	}

	if page.IsVisible(selAccountPick) {
		// Bypass the account picker by going straight to the store-scoped
		// report page.
		slog.Warn("Account picker shown, navigating directly to the report page")
		if err := page.Navigate(a.cfg.ReportURL(), a.cfg.PageTimeout); err != nil {
			return &Error{Reason: ReasonNavigationTimeout, Err: err}
		}
		if err := page.WaitVisible(selRangePicker, a.cfg.WaitTimeout); err != nil {
			return &Error{Reason: ReasonUnknownUI, Err: fmt.Errorf("report page never rendered after picker bypass: %w", err)}
		}
	} else if err := page.WaitVisible(selDashboard, a.cfg.WaitTimeout); err != nil {
		return &Error{Reason: ReasonUnknownUI, Err: fmt.Errorf("dashboard never rendered: %w", err)}
	}

	// Visit the report page once so the saved state carries its cookies.
	if err := page.Navigate(a.cfg.ReportURL(), a.cfg.PageTimeout); err == nil {
		if err := page.WaitVisible(selRangePicker, a.cfg.WaitTimeout); err != nil {
			slog.Warn("Report page did not render while finalizing session", "error", err)
		}
	}

	slog.Info("Login successful")
	return nil
}

// submitOTP submits time-based codes until one is accepted or the bound is
// reached. A fresh code is derived per attempt because codes rotate.
func (a *Authenticator) submitOTP(page browser.Page) error {
	for attempt := 1; attempt <= a.cfg.OTPMaxAttempts; attempt++ {
		code, err := a.codes.CurrentCode(a.now())
		if err != nil {
			return &Error{Reason: ReasonBadCredentials, Err: err}
		}

		if err := page.Fill(selOTPInput, code); err != nil {
			return &Error{Reason: ReasonUnknownUI, Err: err}
		}
		if err := page.Click(selOTPSubmit); err != nil {
			return &Error{Reason: ReasonUnknownUI, Err: err}
		}

		afterOTP := strings.Join([]string{selDashboard, selAccountPick, selOTPInput}, ", ")
		if err := page.WaitVisible(afterOTP, a.cfg.WaitTimeout); err != nil {
			return &Error{Reason: ReasonNavigationTimeout, Err: err}
		}

		if !page.IsVisible(selOTPInput) {
			return nil
		}
		slog.Warn("OTP code rejected", "attempt", attempt)
	}
	return &Error{Reason: ReasonOTPExhausted}
}

// captureFailure saves a full-page screenshot for debugging failed logins.
func (a *Authenticator) captureFailure(page browser.Page, prefix string) {
	if !a.cfg.Debug || page == nil {
		return
	}
	name := fmt.Sprintf("%s_%s.png", prefix, a.now().In(a.cfg.Timezone).Format("20060102_150405"))
	path := filepath.Join(a.cfg.OutputDir, name)
	if err := page.Screenshot(path); err != nil {
		slog.Error("Screenshot error", "error", err)
		return
	}
	slog.Info("Screenshot saved", "path", path)
}
