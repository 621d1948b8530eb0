package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/stretchr/testify/require"
)

// fakeBrowser serves scripted pages: the login page until the form is submitted, then the
// pages in afterSubmit one per Content call (repeating the last).
type fakeBrowser struct {
	mu sync.Mutex

	loginHTML   string
	afterSubmit []string
	afterURL    string
	cookies     []Cookie
	// options lists the values each select accepts.
	options     map[string][]string
	navigateErr error

	submitted bool
	contents  int
	filled    map[string]string
	selected  map[string]string
	closed    int
}

func newFakeBrowser(afterSubmit ...string) *fakeBrowser {
	return &fakeBrowser{
		loginHTML:   loginPageHTML,
		afterSubmit: afterSubmit,
		afterURL:    "https://crce-students.contineo.in/parents/index.php?option=com_studentdashboard&task=dashboard",
		cookies:     []Cookie{{Name: "PHPSESSID", Value: "s3ss10n"}},
		options: map[string][]string{
			"dd":   {"01 ", "10 "},
			"mm":   {"03"},
			"yyyy": {"2006"},
		},
		filled:   map[string]string{},
		selected: map[string]string{},
	}
}

func fieldOf(selector string) string {
	for _, field := range []string{"username", "dd", "mm", "yyyy"} {
		if strings.Contains(selector, "#"+field) {
			return field
		}
	}
	return ""
}

func (b *fakeBrowser) Navigate(url string) error {
	return b.navigateErr
}

func (b *fakeBrowser) Has(selector string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.submitted && strings.Contains(b.loginHTML, `id="`+fieldOf(selector)+`"`), nil
}

func (b *fakeBrowser) Fill(selector, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filled[fieldOf(selector)] = value
	return nil
}

func (b *fakeBrowser) Select(selector, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	field := fieldOf(selector)
	for _, option := range b.options[field] {
		if option == value {
			b.selected[field] = value
			return nil
		}
	}
	return fmt.Errorf("no option %q for %s", value, field)
}

func (b *fakeBrowser) Click(selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = true
	return nil
}

func (b *fakeBrowser) URL() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.submitted {
		return "https://crce-students.contineo.in/parents/", nil
	}
	return b.afterURL, nil
}

func (b *fakeBrowser) Content() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.submitted {
		return b.loginHTML, nil
	}
	i := b.contents
	if i >= len(b.afterSubmit) {
		i = len(b.afterSubmit) - 1
	}
	b.contents++
	return b.afterSubmit[i], nil
}

func (b *fakeBrowser) Cookies() ([]Cookie, error) {
	return b.cookies, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *fakeBrowser) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type fakeDriver struct {
	browser   *fakeBrowser
	launchErr error
}

func (d fakeDriver) Launch(ctx context.Context) (Browser, error) {
	if d.launchErr != nil {
		return nil, d.launchErr
	}
	return d.browser, nil
}

var testCreds = Credentials{PRN: "MU0341120240233054", Day: "10", Month: "03", Year: "2006"}

func newTestBootstrapper(t testing.TB, driver Driver) (*Bootstrapper, *telemetry.RecordingAPI) {
	timeAPI, err := chrono.NewStandardImpl()
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultBootstrapOptions()
	opts.SettleDelay = 0
	opts.ParseRetryDelay = time.Millisecond
	opts.NavigationTimeout = 5 * time.Second

	tel := &telemetry.RecordingAPI{}
	b, err := NewBootstrapper(driver, opts, timeAPI, tel)
	if err != nil {
		t.Fatal(err)
	}
	return b, tel
}

func TestLoginSuccess(t *testing.T) {
	browser := newFakeBrowser(dashboardHTML)
	b, _ := newTestBootstrapper(t, fakeDriver{browser: browser})

	session, err := b.Login(context.Background(), testCreds)
	require.NoError(t, err)
	require.Equal(t, "PHPSESSID=s3ss10n", session.CookieHeader)
	require.Len(t, session.SubjectURLs, 2)

	require.Equal(t, testCreds.PRN, browser.filled["username"])
	require.Equal(t, "10 ", browser.selected["dd"])
	require.Equal(t, "03", browser.selected["mm"])
	require.Equal(t, "2006", browser.selected["yyyy"])
	require.GreaterOrEqual(t, browser.closeCount(), 1)
}

func TestLoginAlternateDayFormat(t *testing.T) {
	browser := newFakeBrowser(dashboardHTML)
	browser.options["dd"] = []string{"01", "10"}
	b, _ := newTestBootstrapper(t, fakeDriver{browser: browser})

	_, err := b.Login(context.Background(), testCreds)
	require.NoError(t, err)
	require.Equal(t, "10", browser.selected["dd"])
}

func TestLoginFormChanged(t *testing.T) {
	browser := newFakeBrowser(dashboardHTML)
	browser.options["mm"] = nil
	b, tel := newTestBootstrapper(t, fakeDriver{browser: browser})

	_, err := b.Login(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrLoginFormChanged)
	require.ErrorIs(t, err, ErrPortalUnreachable)
	require.NotEmpty(t, tel.Find("broken", report_bootstrapper_login))
	require.GreaterOrEqual(t, browser.closeCount(), 1)

	browser = newFakeBrowser(dashboardHTML)
	browser.loginHTML = `<html><body>Maintenance</body></html>`
	b, _ = newTestBootstrapper(t, fakeDriver{browser: browser})
	_, err = b.Login(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrLoginFormChanged)
}

func TestLoginInvalidCredentials(t *testing.T) {
	browser := newFakeBrowser(loginPageHTML)
	browser.afterURL = "https://crce-students.contineo.in/parents/"
	b, _ := newTestBootstrapper(t, fakeDriver{browser: browser})

	_, err := b.Login(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.GreaterOrEqual(t, browser.closeCount(), 1)
}

func TestLoginRetriesDashboardParseOnce(t *testing.T) {
	browser := newFakeBrowser(emptyDashboardHTML, dashboardHTML)
	b, _ := newTestBootstrapper(t, fakeDriver{browser: browser})

	session, err := b.Login(context.Background(), testCreds)
	require.NoError(t, err)
	require.Len(t, session.SubjectURLs, 2)
	require.Equal(t, 2, browser.contents)
}

func TestLoginNoSubjects(t *testing.T) {
	browser := newFakeBrowser(emptyDashboardHTML)
	b, _ := newTestBootstrapper(t, fakeDriver{browser: browser})

	_, err := b.Login(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrNoSubjectsFound)
	require.Equal(t, 2, browser.contents)
	require.GreaterOrEqual(t, browser.closeCount(), 1)
}

func TestLoginPortalUnreachable(t *testing.T) {
	b, _ := newTestBootstrapper(t, fakeDriver{launchErr: errors.New("chrome crashed")})
	_, err := b.Login(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrPortalUnreachable)

	browser := newFakeBrowser(dashboardHTML)
	browser.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	b, _ = newTestBootstrapper(t, fakeDriver{browser: browser})
	_, err = b.Login(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrPortalUnreachable)
	require.GreaterOrEqual(t, browser.closeCount(), 1)
}

func TestLoginTimeout(t *testing.T) {
	browser := newFakeBrowser(dashboardHTML)
	browser.navigateErr = context.DeadlineExceeded
	b, _ := newTestBootstrapper(t, fakeDriver{browser: browser})

	_, err := b.Login(context.Background(), testCreds)
	require.ErrorIs(t, err, ErrTimeout)
}
