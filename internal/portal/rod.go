package portal

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
)

const report_rod_close = "rod.close"

var blockedResources = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeMedia,
}

type RodOptions struct {
	// Bin is the chrome binary, rod finds or downloads one when empty.
	Bin string `json:"bin"`
	// ControlURL connects to an already running browser instead of launching one,
	// each session then gets its own incognito context.
	ControlURL string `json:"control_url"`
	NoSandbox  bool   `json:"no_sandbox"`
	// KeepResources disables blocking of images, fonts, stylesheets and media.
	KeepResources bool `json:"keep_resources"`
}

// RodDriver implements Driver with a headless chrome per session. With a ControlURL all sessions
// share one connection to the remote browser, each in its own incognito context.
type RodDriver struct {
	opts RodOptions
	tel  telemetry.API

	mu     sync.Mutex
	remote *remoteConn
}

func NewRodDriver(opts RodOptions, tel telemetry.API) *RodDriver {
	return &RodDriver{opts: opts, tel: telemetry.NewScopedAPI("rod", tel)}
}

// remoteConn is the devtools websocket to a remote browser. rod.Browser.Close would shut
// the remote browser down, so the socket is kept to close just the connection.
type remoteConn struct {
	ws      *cdp.WebSocket
	browser *rod.Browser
}

// connTracker hands the dialed conn back so it can be closed when the handshake fails.
type connTracker struct {
	net.Dialer
	conn net.Conn
}

func (t *connTracker) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := t.Dialer.DialContext(ctx, network, address)
	t.conn = conn
	return conn, err
}

func dialRemote(ctx context.Context, controlURL string) (*remoteConn, error) {
	key := uuid.New()
	header := http.Header{"Sec-WebSocket-Key": {base64.StdEncoding.EncodeToString(key[:])}}

	u, err := url.Parse(controlURL)
	if err != nil {
		return nil, err
	}
	tracker := &connTracker{}
	ws := &cdp.WebSocket{}
	// rod picks its own tls dialer for wss
	if u.Scheme != "wss" {
		ws.Dialer = tracker
	}
	if err := ws.Connect(ctx, controlURL, header); err != nil {
		if tracker.conn != nil {
			tracker.conn.Close()
		}
		return nil, err
	}

	browser := rod.New().Client(cdp.New().Start(ws))
	if err := browser.Connect(); err != nil {
		ws.Close()
		return nil, err
	}
	return &remoteConn{ws: ws, browser: browser}, nil
}

// connectRemote returns the shared connection to the remote browser, dialing it on first use.
func (d *RodDriver) connectRemote(ctx context.Context) (*remoteConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remote != nil {
		return d.remote, nil
	}
	remote, err := dialRemote(ctx, d.opts.ControlURL)
	if err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	d.remote = remote
	return remote, nil
}

// dropRemote closes a broken shared connection so the next Launch dials a fresh one.
func (d *RodDriver) dropRemote(broken *remoteConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remote != broken {
		return
	}
	if err := broken.ws.Close(); err != nil {
		d.tel.ReportDebug("close broken remote connection", err)
	}
	d.remote = nil
}

// Close disconnects from the remote browser, the browser itself keeps running.
// Sessions still open on the connection stop working.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remote == nil {
		return nil
	}
	err := d.remote.ws.Close()
	d.remote = nil
	return err
}

func (d *RodDriver) launchLocal(ctx context.Context) (*rodBrowser, error) {
	l := launcher.New().
		Context(ctx).
		Headless(true).
		NoSandbox(d.opts.NoSandbox).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if d.opts.Bin != "" {
		l = l.Bin(d.opts.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	root := rod.New().ControlURL(u)
	if err := root.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	return &rodBrowser{launcher: l, root: root, session: root, tel: d.tel}, nil
}

func (d *RodDriver) launchRemote(ctx context.Context) (*rodBrowser, error) {
	remote, err := d.connectRemote(ctx)
	if err != nil {
		return nil, err
	}
	incognito, err := remote.browser.Incognito()
	if err != nil {
		d.dropRemote(remote)
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	return &rodBrowser{session: incognito, tel: d.tel}, nil
}

func (d *RodDriver) Launch(ctx context.Context) (Browser, error) {
	var b *rodBrowser
	var err error
	if d.opts.ControlURL != "" {
		b, err = d.launchRemote(ctx)
	} else {
		b, err = d.launchLocal(ctx)
	}
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b.session)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open stealth page: %w", err)
	}
	b.page = page.Context(ctx)

	if !d.opts.KeepResources {
		b.router = page.HijackRequests()
		for _, resourceType := range blockedResources {
			err = b.router.Add("*", resourceType, func(h *rod.Hijack) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			})
			if err != nil {
				b.Close()
				return nil, fmt.Errorf("block %s requests: %w", resourceType, err)
			}
		}
		go b.router.Run()
	}

	return b, nil
}

type rodBrowser struct {
	launcher *launcher.Launcher
	// root is the connection to a locally launched chrome, nil for sessions on the shared
	// remote connection. Neither is bound to the launch context so Close still works after
	// it is cancelled.
	root    *rod.Browser
	session *rod.Browser
	page    *rod.Page
	router  *rod.HijackRouter
	tel     telemetry.API

	closeOnce sync.Once
	closeErr  error
}

func (b *rodBrowser) Navigate(url string) error {
	if err := b.page.Navigate(url); err != nil {
		return err
	}
	return b.page.WaitLoad()
}

func (b *rodBrowser) Has(selector string) (bool, error) {
	has, _, err := b.page.Has(selector)
	return has, err
}

func (b *rodBrowser) Fill(selector, value string) error {
	el, err := b.page.Element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (b *rodBrowser) Select(selector, value string) error {
	el, err := b.page.Element(selector)
	if err != nil {
		return err
	}
	return el.Select([]string{fmt.Sprintf(`option[value="%s"]`, value)}, true, rod.SelectorTypeCSSSector)
}

func (b *rodBrowser) Click(selector string) error {
	el, err := b.page.Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (b *rodBrowser) URL() (string, error) {
	info, err := b.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (b *rodBrowser) Content() (string, error) {
	return b.page.HTML()
}

func (b *rodBrowser) Cookies() ([]Cookie, error) {
	cookies, err := b.page.Cookies(nil)
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = Cookie{Name: c.Name, Value: c.Value}
	}
	return out, nil
}

func (b *rodBrowser) Close() error {
	b.closeOnce.Do(func() {
		if b.router != nil {
			if err := b.router.Stop(); err != nil {
				b.tel.ReportDebug("stop hijack router", err)
			}
		}
		if b.root == nil {
			// disposes only this session's incognito context, the connection stays shared
			b.closeErr = b.session.Close()
		} else {
			b.closeErr = b.root.Close()
		}
		if b.closeErr != nil {
			b.tel.ReportWarning(report_rod_close, b.closeErr)
		}
		if b.launcher != nil {
			b.launcher.Kill()
			b.launcher.Cleanup()
		}
	})
	return b.closeErr
}
