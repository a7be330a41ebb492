package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/oakhurst/inf-report-bot/internal/browser"
	"github.com/oakhurst/inf-report-bot/internal/config"
	"github.com/oakhurst/inf-report-bot/internal/models"
	"github.com/oakhurst/inf-report-bot/internal/session"
)

// fakeLoginPage scripts the portal UI: clicks reveal the next screen the way
// the real flow does, driven by per-test flags.
type fakeLoginPage struct {
	vis map[string]bool
	url string

	showAuthError  bool
	requireOTP     bool
	otpRejections  int
	bounceToSignin bool

	otpSubmits  int
	filledOTPs  []string
	screenshots []string
}

func newFakeLoginPage() *fakeLoginPage {
	return &fakeLoginPage{vis: map[string]bool{}}
}

func (p *fakeLoginPage) Navigate(url string, _ time.Duration) error {
	p.url = url
	switch {
	case strings.Contains(url, "login"):
		p.vis[selEmail] = true
	case strings.Contains(url, "report"):
		if p.bounceToSignin {
			p.url = "https://portal.example.com/ap/signin"
		} else {
			p.vis[selRangePicker] = true
		}
	}
	return nil
}

func (p *fakeLoginPage) URL() string { return p.url }

func (p *fakeLoginPage) WaitVisible(selector string, _ time.Duration) error {
	if p.IsVisible(selector) {
		return nil
	}
	return fmt.Errorf("selector %q not visible", selector)
}

func (p *fakeLoginPage) IsVisible(selector string) bool {
	for _, part := range strings.Split(selector, ", ") {
		if p.vis[part] {
			return true
		}
	}
	return false
}

func (p *fakeLoginPage) Click(selector string) error {
	switch selector {
	case selEmailSubmit:
		p.vis[selPassword] = true
	case selSignIn:
		switch {
		case p.showAuthError:
			p.vis[selAuthError] = true
		case p.requireOTP:
			p.vis[selOTPInput] = true
		default:
			p.vis[selDashboard] = true
		}
	case selOTPSubmit:
		p.otpSubmits++
		if p.otpSubmits > p.otpRejections {
			p.vis[selOTPInput] = false
			p.vis[selDashboard] = true
		}
	}
	return nil
}

func (p *fakeLoginPage) Fill(selector, value string) error {
	if selector == selOTPInput {
		p.filledOTPs = append(p.filledOTPs, value)
	}
	return nil
}

func (p *fakeLoginPage) SelectOption(selector, value string) error { return nil }

func (p *fakeLoginPage) TextContent(selector string) (string, error) { return "", nil }

func (p *fakeLoginPage) Content() (string, error) { return "", nil }

func (p *fakeLoginPage) Screenshot(path string) error {
	p.screenshots = append(p.screenshots, path)
	return nil
}

type fakeSession struct {
	page   browser.Page
	closed bool
}

func (s *fakeSession) NewPage() (browser.Page, error) { return s.page, nil }

func (s *fakeSession) StorageState() (json.RawMessage, error) {
	return json.RawMessage(`{"cookies":[{"name":"session-id"}]}`), nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDriver struct {
	pages    []*fakeLoginPage
	sessions []*fakeSession
	blobs    []json.RawMessage
}

func (d *fakeDriver) NewSession(storageState json.RawMessage) (browser.Session, error) {
	d.blobs = append(d.blobs, storageState)
	if len(d.pages) == 0 {
		return nil, errors.New("no more scripted pages")
	}
	page := d.pages[0]
	d.pages = d.pages[1:]
	sess := &fakeSession{page: page}
	d.sessions = append(d.sessions, sess)
	return sess, nil
}

func (d *fakeDriver) Close() error { return nil }

type fakeSessionStore struct {
	state       *session.State
	saved       []*session.State
	invalidated int
}

func (s *fakeSessionStore) Load() (*session.State, error) { return s.state, nil }

func (s *fakeSessionStore) Save(state *session.State) error {
	s.saved = append(s.saved, state)
	return nil
}

func (s *fakeSessionStore) Invalidate() error {
	s.invalidated++
	return nil
}

type fakeCodes struct {
	codes []string
	next  int
}

func (c *fakeCodes) CurrentCode(time.Time) (string, error) {
	if c.next >= len(c.codes) {
		return "", errors.New("code source exhausted")
	}
	code := c.codes[c.next]
	c.next++
	return code, nil
}

func authTestConfig() *config.Config {
	return &config.Config{
		LoginEmail:     "shop@example.com",
		LoginPassword:  "hunter2",
		LoginURL:       "https://portal.example.com/login",
		ReportBaseURL:  "https://portal.example.com/report",
		Store:          models.StoreIdentity{Name: "Oakhurst", MerchantID: "M1", MarketplaceID: "MK1"},
		OutputDir:      "output",
		Timezone:       time.UTC,
		PageTimeout:    time.Second,
		WaitTimeout:    50 * time.Millisecond,
		ActionTimeout:  50 * time.Millisecond,
		OTPMaxAttempts: 3,
		MaxRetries:     0,
	}
}

func validStoredState() *session.State {
	return &session.State{
		SavedAt: time.Now(),
		Valid:   true,
		Storage: json.RawMessage(`{"cookies":[{"name":"session-id"}]}`),
	}
}

func TestAuthenticateRestoresValidSession(t *testing.T) {
	driver := &fakeDriver{pages: []*fakeLoginPage{newFakeLoginPage()}}
	store := &fakeSessionStore{state: validStoredState()}
	codes := &fakeCodes{}

	a := New(driver, store, codes, authTestConfig())
	sess, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session")
	}
	if a.State() != StateAuthenticated {
		t.Errorf("state = %v, want StateAuthenticated", a.State())
	}
	if len(driver.blobs) != 1 || driver.blobs[0] == nil {
		t.Errorf("expected exactly one session opened from stored state, got %d", len(driver.blobs))
	}
	if len(store.saved) != 0 {
		t.Error("restore path must not rewrite the stored state")
	}
}

func TestAuthenticateFullLoginWhenProbeBounces(t *testing.T) {
	stale := newFakeLoginPage()
	stale.bounceToSignin = true
	fresh := newFakeLoginPage()

	driver := &fakeDriver{pages: []*fakeLoginPage{stale, fresh}}
	store := &fakeSessionStore{state: validStoredState()}

	a := New(driver, store, &fakeCodes{}, authTestConfig())
	sess, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session from the fallback login")
	}
	if store.invalidated != 1 {
		t.Errorf("stale state should be invalidated once, got %d", store.invalidated)
	}
	if !driver.sessions[0].closed {
		t.Error("stale session should be closed")
	}
	if len(store.saved) != 1 || !store.saved[0].Valid {
		t.Errorf("full login should persist a valid state, got %+v", store.saved)
	}
}

func TestAuthenticateBadCredentialsDoesNotRetry(t *testing.T) {
	page := newFakeLoginPage()
	page.showAuthError = true
	spare := newFakeLoginPage()
	spare.showAuthError = true

	driver := &fakeDriver{pages: []*fakeLoginPage{page, spare}}
	cfg := authTestConfig()
	cfg.MaxRetries = 2

	a := New(driver, &fakeSessionStore{}, &fakeCodes{}, cfg)
	_, err := a.Authenticate(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}

	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Reason != ReasonBadCredentials {
		t.Fatalf("expected ReasonBadCredentials, got %v", err)
	}
	if len(driver.blobs) != 1 {
		t.Errorf("bad credentials must not be retried, got %d attempts", len(driver.blobs))
	}
	if a.State() != StateLoginFailed {
		t.Errorf("state = %v, want StateLoginFailed", a.State())
	}
}

func TestAuthenticateOTPExhausted(t *testing.T) {
	page := newFakeLoginPage()
	page.requireOTP = true
	page.otpRejections = 99

	driver := &fakeDriver{pages: []*fakeLoginPage{page}}
	codes := &fakeCodes{codes: []string{"111111", "222222", "333333"}}

	a := New(driver, &fakeSessionStore{}, codes, authTestConfig())
	_, err := a.Authenticate(context.Background())

	var authErr *Error
	if !errors.As(err, &authErr) || authErr.Reason != ReasonOTPExhausted {
		t.Fatalf("expected ReasonOTPExhausted, got %v", err)
	}
	if len(page.filledOTPs) != 3 {
		t.Fatalf("expected 3 OTP attempts, got %d", len(page.filledOTPs))
	}
	// Codes rotate, so every attempt must use a fresh one.
	seen := map[string]bool{}
	for _, code := range page.filledOTPs {
		if seen[code] {
			t.Errorf("code %q reused across attempts", code)
		}
		seen[code] = true
	}
}

func TestAuthenticateOTPAcceptedOnThirdAttempt(t *testing.T) {
	page := newFakeLoginPage()
	page.requireOTP = true
	page.otpRejections = 2

	driver := &fakeDriver{pages: []*fakeLoginPage{page}}
	store := &fakeSessionStore{}
	codes := &fakeCodes{codes: []string{"111111", "222222", "333333"}}

	a := New(driver, store, codes, authTestConfig())
	sess, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session")
	}
	if len(page.filledOTPs) != 3 {
		t.Fatalf("expected 3 OTP attempts, got %d", len(page.filledOTPs))
	}
	seen := map[string]bool{}
	for _, code := range page.filledOTPs {
		if seen[code] {
			t.Errorf("code %q reused across attempts", code)
		}
		seen[code] = true
	}
	if len(store.saved) != 1 {
		t.Errorf("expected the session state to be saved once, got %d", len(store.saved))
	}
}

func TestAuthenticateDirectLoginWithoutOTP(t *testing.T) {
	page := newFakeLoginPage()

	driver := &fakeDriver{pages: []*fakeLoginPage{page}}
	store := &fakeSessionStore{}

	a := New(driver, store, &fakeCodes{}, authTestConfig())
	if _, err := a.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if len(page.filledOTPs) != 0 {
		t.Errorf("no OTP screen shown, but codes were filled: %v", page.filledOTPs)
	}
	if a.State() != StateAuthenticated {
		t.Errorf("state = %v, want StateAuthenticated", a.State())
	}
}
