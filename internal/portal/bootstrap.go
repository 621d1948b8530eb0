package portal

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_bootstrapper_login = "bootstrapper.login"
	report_bootstrapper_close = "bootstrapper.close"
)

var tracer = otel.Tracer("crce.portal")

// Selectors locate the login form and the subject links, each is a CSS selector list so the
// current markup and the older name-based markup are both matched.
type Selectors struct {
	Username      string `json:"username"`
	Day           string `json:"day"`
	Month         string `json:"month"`
	Year          string `json:"year"`
	Submit        string `json:"submit"`
	SubjectLinks  string `json:"subject_links"`
	FallbackLinks string `json:"fallback_links"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		Username:      `#username, input[name="username"]`,
		Day:           `#dd, select[name="dd"]`,
		Month:         `#mm, select[name="mm"]`,
		Year:          `#yyyy, select[name="yyyy"]`,
		Submit:        `.cn-login-btn, button[type="submit"]`,
		SubjectLinks:  `a[href*="task=ciedetails"]`,
		FallbackLinks: `a[href*="result"], a[href*="marksheet"]`,
	}
}

type BootstrapOptions struct {
	// BaseURL is the portal's login page, relative subject links are resolved against it.
	BaseURL           string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after submitting before inspecting the page.
	SettleDelay time.Duration
	// ParseRetryDelay is how long to wait before parsing the dashboard a second time.
	ParseRetryDelay time.Duration
	Selectors       Selectors
}

func DefaultBootstrapOptions() BootstrapOptions {
	return BootstrapOptions{
		BaseURL:           "https://crce-students.contineo.in/parents/",
		NavigationTimeout: 30 * time.Second,
		SettleDelay:       2500 * time.Millisecond,
		ParseRetryDelay:   2 * time.Second,
		Selectors:         DefaultSelectors(),
	}
}

// Credentials are the login fields, Day and Month are zero-padded.
type Credentials struct {
	PRN   string
	Day   string
	Month string
	Year  string
}

// Session is what survives the browser: the cookie header to replay and the subject pages to fetch.
type Session struct {
	CookieHeader string
	SubjectURLs  []string
}

type Bootstrapper struct {
	driver Driver
	opts   BootstrapOptions
	base   *url.URL
	time   chrono.TimeAPI
	tel    telemetry.API
}

func NewBootstrapper(driver Driver, opts BootstrapOptions, timeAPI chrono.TimeAPI, tel telemetry.API) (*Bootstrapper, error) {
	assert.NotNil(driver)
	assert.NotNil(timeAPI)
	assert.NotNil(tel)
	assert.Positive("navigation timeout", opts.NavigationTimeout)

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse portal base url: %w", err)
	}
	return &Bootstrapper{
		driver: driver,
		opts:   opts,
		base:   base,
		time:   timeAPI,
		tel:    telemetry.NewScopedAPI("portal", tel),
	}, nil
}

// Login drives a fresh browser through the login form and returns the session. The browser is
// closed before Login returns, on every path.
func (b *Bootstrapper) Login(ctx context.Context, creds Credentials) (Session, error) {
	ctx, span := tracer.Start(ctx, "Bootstrapper.Login")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, b.opts.NavigationTimeout)
	defer cancel()

	session, err := b.login(ctx, creds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return Session{}, err
	}
	span.SetAttributes(attribute.Int("subjects", len(session.SubjectURLs)))
	return session, nil
}

func (b *Bootstrapper) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := b.time.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bootstrapper) login(ctx context.Context, creds Credentials) (Session, error) {
	sel := b.opts.Selectors

	browser, err := b.driver.Launch(ctx)
	if err != nil {
		b.tel.ReportBroken(report_bootstrapper_login, fmt.Errorf("launch: %w", err))
		return Session{}, classify(ctx, "launch browser", err)
	}
	defer browser.Close()

	err = browser.Navigate(b.base.String())
	if err != nil {
		b.tel.ReportWarning(report_bootstrapper_login, fmt.Errorf("navigate: %w", err))
		return Session{}, classify(ctx, "open login page", err)
	}

	err = b.fillForm(ctx, browser, creds)
	if err != nil {
		return Session{}, err
	}

	err = browser.Click(sel.Submit)
	if err != nil {
		return Session{}, b.formError(ctx, "submit login form", err)
	}
	if err := b.sleep(ctx, b.opts.SettleDelay); err != nil {
		return Session{}, classify(ctx, "wait for login", err)
	}

	pageURL, err := browser.URL()
	if err != nil {
		return Session{}, classify(ctx, "read page url", err)
	}
	html, err := browser.Content()
	if err != nil {
		return Session{}, classify(ctx, "read dashboard", err)
	}
	failed, err := IsLoginFailure(pageURL, html, sel.Username)
	if err != nil {
		return Session{}, classify(ctx, "parse dashboard", err)
	}
	if failed {
		return Session{}, ErrInvalidCredentials
	}

	links, err := ParseSubjectLinks(b.base, html, sel.SubjectLinks, sel.FallbackLinks)
	if err != nil {
		return Session{}, classify(ctx, "parse dashboard", err)
	}
	if len(links) == 0 {
		// the dashboard may still be rendering the subject list
		b.tel.ReportDebug("no subject links on first parse, retrying", pageURL)
		if err := b.sleep(ctx, b.opts.ParseRetryDelay); err != nil {
			return Session{}, classify(ctx, "wait for dashboard", err)
		}
		html, err = browser.Content()
		if err != nil {
			return Session{}, classify(ctx, "read dashboard", err)
		}
		links, err = ParseSubjectLinks(b.base, html, sel.SubjectLinks, sel.FallbackLinks)
		if err != nil {
			return Session{}, classify(ctx, "parse dashboard", err)
		}
	}
	if len(links) == 0 {
		return Session{}, ErrNoSubjectsFound
	}

	cookies, err := browser.Cookies()
	if err != nil {
		return Session{}, classify(ctx, "read cookies", err)
	}
	header := CookieHeader(cookies)
	if header == "" {
		b.tel.ReportWarning(report_bootstrapper_login, "logged in without session cookies", pageURL)
		return Session{}, fmt.Errorf("read cookies: %w: no session cookies", ErrPortalUnreachable)
	}

	if err := browser.Close(); err != nil {
		b.tel.ReportWarning(report_bootstrapper_close, err)
	}

	return Session{
		CookieHeader: header,
		SubjectURLs:  links,
	}, nil
}

// formError distinguishes a form that is not on the page from one that could not be used in time.
func (b *Bootstrapper) formError(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return classify(ctx, step, err)
	}
	b.tel.ReportBroken(report_bootstrapper_login, fmt.Errorf("%s: %w", step, err))
	return fmt.Errorf("%s: %w: %w", step, ErrLoginFormChanged, err)
}

func (b *Bootstrapper) fillForm(ctx context.Context, browser Browser, creds Credentials) error {
	sel := b.opts.Selectors

	has, err := browser.Has(sel.Username)
	if err != nil {
		return classify(ctx, "find login form", err)
	}
	if !has {
		b.tel.ReportBroken(report_bootstrapper_login, "username field not found", sel.Username)
		return fmt.Errorf("find login form: %w", ErrLoginFormChanged)
	}

	if err := browser.Fill(sel.Username, creds.PRN); err != nil {
		return b.formError(ctx, "fill username", err)
	}

	// the day options carry a trailing space on the current portal, older markup does not
	err = browser.Select(sel.Day, creds.Day+" ")
	if err != nil {
		if ctx.Err() != nil {
			return classify(ctx, "select day", err)
		}
		b.tel.ReportDebug("day option with trailing space not found, trying plain", creds.Day)
		if err := browser.Select(sel.Day, creds.Day); err != nil {
			return b.formError(ctx, "select day", err)
		}
	}
	if err := browser.Select(sel.Month, creds.Month); err != nil {
		return b.formError(ctx, "select month", err)
	}
	if err := browser.Select(sel.Year, creds.Year); err != nil {
		return b.formError(ctx, "select year", err)
	}
	return nil
}
