package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// devtoolsServer speaks just enough of the devtools protocol for rod to connect and manage
// browser contexts.
type devtoolsServer struct {
	*httptest.Server

	mu            sync.Mutex
	connections   int
	contexts      int
	methods       []string
	failIncognito int

	// disconnected receives once per connection that ends.
	disconnected chan struct{}
}

func newDevtoolsServer(t testing.TB) *devtoolsServer {
	s := &devtoolsServer{disconnected: make(chan struct{}, 8)}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer func() { s.disconnected <- struct{}{} }()

		s.mu.Lock()
		s.connections++
		s.mu.Unlock()

		for {
			var req struct {
				ID     int    `json:"id"`
				Method string `json:"method"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			res := s.respond(req.Method)
			res["id"] = req.ID
			if err := conn.WriteJSON(res); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *devtoolsServer) respond(method string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append(s.methods, method)

	if method != "Target.createBrowserContext" {
		return map[string]any{"result": map[string]any{}}
	}
	if s.failIncognito > 0 {
		s.failIncognito--
		return map[string]any{"error": map[string]any{"code": -32000, "message": "browser is shutting down"}}
	}
	s.contexts++
	return map[string]any{"result": map[string]any{"browserContextId": fmt.Sprintf("context-%d", s.contexts)}}
}

func (s *devtoolsServer) controlURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *devtoolsServer) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *devtoolsServer) called(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.methods {
		if m == method {
			return true
		}
	}
	return false
}

func (s *devtoolsServer) waitDisconnect(t testing.TB) {
	t.Helper()
	select {
	case <-s.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("connection to the browser was left open")
	}
}

func TestRodDriverSharesRemoteConnection(t *testing.T) {
	ctx := context.Background()
	srv := newDevtoolsServer(t)
	driver := NewRodDriver(RodOptions{ControlURL: srv.controlURL()}, &telemetry.RecordingAPI{})

	first, err := driver.launchRemote(ctx)
	require.NoError(t, err)
	second, err := driver.launchRemote(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, srv.connectionCount())
	require.NotEqual(t, first.session.BrowserContextID, second.session.BrowserContextID)

	// closing a session only disposes its incognito context
	require.NoError(t, first.Close())
	require.True(t, srv.called("Target.disposeBrowserContext"))
	require.False(t, srv.called("Browser.close"))

	third, err := driver.launchRemote(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, third.session.BrowserContextID)
	require.Equal(t, 1, srv.connectionCount())

	require.NoError(t, driver.Close())
	srv.waitDisconnect(t)
	require.False(t, srv.called("Browser.close"))

	require.NoError(t, driver.Close())
}

func TestRodDriverRedialsAfterBrokenConnection(t *testing.T) {
	ctx := context.Background()
	srv := newDevtoolsServer(t)
	srv.failIncognito = 1
	driver := NewRodDriver(RodOptions{ControlURL: srv.controlURL()}, &telemetry.RecordingAPI{})
	t.Cleanup(func() { driver.Close() })

	_, err := driver.launchRemote(ctx)
	require.Error(t, err)
	srv.waitDisconnect(t)

	session, err := driver.launchRemote(ctx)
	require.NoError(t, err)
	require.Equal(t, "context-1", string(session.session.BrowserContextID))
	require.Equal(t, 2, srv.connectionCount())
}

func TestRodDriverRemoteUnreachable(t *testing.T) {
	srv := newDevtoolsServer(t)
	controlURL := srv.controlURL()
	srv.Close()

	driver := NewRodDriver(RodOptions{ControlURL: controlURL}, &telemetry.RecordingAPI{})
	_, err := driver.Launch(context.Background())
	require.Error(t, err)
	require.Nil(t, driver.remote)
}
