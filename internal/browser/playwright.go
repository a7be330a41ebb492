package browser

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver drives a headless Chromium via Playwright.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightDriver starts Playwright and launches Chromium.
// headless is disabled in debug mode so the login flow can be watched.
func NewPlaywrightDriver(headless bool) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}
	return &PlaywrightDriver{pw: pw, browser: b}, nil
}

func (d *PlaywrightDriver) NewSession(storageState json.RawMessage) (Session, error) {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if len(storageState) > 0 {
		var state playwright.OptionalStorageState
		if err := json.Unmarshal(storageState, &state); err != nil {
			return nil, fmt.Errorf("invalid storage state blob: %w", err)
		}
		opts.StorageState = &state
	}

	ctx, err := d.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser context: %w", err)
	}
	return &playwrightSession{ctx: ctx}, nil
}

func (d *PlaywrightDriver) Close() error {
	if err := d.browser.Close(); err != nil {
		d.pw.Stop()
		return err
	}
	return d.pw.Stop()
}

type playwrightSession struct {
	ctx playwright.BrowserContext
}

func (s *playwrightSession) NewPage() (Page, error) {
	page, err := s.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &playwrightPage{page: page}, nil
}

func (s *playwrightSession) StorageState() (json.RawMessage, error) {
	state, err := s.ctx.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to export storage state: %w", err)
	}
	return json.Marshal(state)
}

func (s *playwrightSession) Close() error {
	return s.ctx.Close()
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Navigate(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   millis(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) WaitVisible(selector string, timeout time.Duration) error {
	return p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	})
}

func (p *playwrightPage) IsVisible(selector string) bool {
	visible, err := p.page.Locator(selector).First().IsVisible()
	return err == nil && visible
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click()
}

func (p *playwrightPage) Fill(selector, value string) error {
	return p.page.Locator(selector).First().Fill(value)
}

func (p *playwrightPage) SelectOption(selector, value string) error {
	_, err := p.page.Locator(selector).First().SelectOption(playwright.SelectOptionValues{
		Values: &[]string{value},
	})
	return err
}

func (p *playwrightPage) TextContent(selector string) (string, error) {
	text, err := p.page.Locator(selector).First().TextContent()
	if err != nil {
		return "", err
	}
	return text, nil
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
