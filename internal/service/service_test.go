package service

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/grading"
	"github.com/WillyEverGreen/CRCE-calc/internal/scrape"
	"github.com/WillyEverGreen/CRCE-calc/internal/stats"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	testAdminKey = "s3cret"
	testPRN      = "MU0341120240233054"
)

type fakeScraper struct {
	mu       sync.Mutex
	requests []scrape.Request
	cleared  int
}

func (f *fakeScraper) Scrape(ctx context.Context, req scrape.Request, emit func(scrape.Event)) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.PRN == "bad" {
		emit(scrape.Event{Type: scrape.EventError, Error: "Invalid PRN format"})
		return nil
	}
	sgpa := 9.5
	emit(scrape.Event{Type: scrape.EventProgress, Message: "Logging in to the portal..."})
	emit(scrape.Event{Type: scrape.EventProgress, Message: "Fetched 1 of 1 subjects", Current: 1, Total: 1})
	emit(scrape.Event{Type: scrape.EventResult, Data: &grading.ScrapeResult{SGPA: &sgpa, Subjects: []grading.SubjectRecord{}}})
	return nil
}

func (f *fakeScraper) QueueSnapshot() admission.Snapshot {
	return admission.Snapshot{
		Active:        2,
		Waiting:       []string{"MU0341****3001"},
		MaxConcurrent: 2,
		MaxQueue:      10,
	}
}

func (f *fakeScraper) ClearCache(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return 4, nil
}

func (f *fakeScraper) seen() ([]scrape.Request, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scrape.Request(nil), f.requests...), f.cleared
}

type testServer struct {
	url     string
	scraper *fakeScraper
	stats   *stats.MemoryRecorder
	client  *resty.Client
}

func newTestServer(t *testing.T, opts Options) testServer {
	timeAPI, err := chrono.NewStandardImpl()
	require.NoError(t, err)

	scraper := &fakeScraper{}
	recorder := stats.NewMemoryRecorder(timeAPI)
	if opts.AdminKey == "" {
		opts.AdminKey = testAdminKey
	}
	service := NewService(opts, scraper, recorder, timeAPI, WithCustomTelemetryAPI(&telemetry.RecordingAPI{}))

	srv := httptest.NewServer(service.Router())
	t.Cleanup(srv.Close)

	return testServer{
		url:     srv.URL,
		scraper: scraper,
		stats:   recorder,
		client:  resty.New().SetBaseURL(srv.URL),
	}
}

func readEvents(t *testing.T, body string) []scrape.Event {
	var events []scrape.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), line)
		var ev scrape.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestScrapeStream(t *testing.T) {
	s := newTestServer(t, DefaultOptions())

	res, err := s.client.R().
		SetBody(map[string]any{"prn": testPRN, "dob": "10-03-2006", "forceRefresh": true}).
		Post("/api/scrape")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.Equal(t, "text/event-stream", res.Header().Get("content-type"))
	require.True(t, strings.HasSuffix(res.String(), "\n\n"))

	events := readEvents(t, res.String())
	require.Len(t, events, 3)
	require.Equal(t, scrape.EventProgress, events[0].Type)
	require.Equal(t, 1, events[1].Current)
	require.Equal(t, scrape.EventResult, events[2].Type)
	require.Equal(t, 9.5, *events[2].Data.SGPA)

	requests, _ := s.scraper.seen()
	require.Equal(t, []scrape.Request{{PRN: testPRN, DOB: "10-03-2006", ForceRefresh: true}}, requests)
}

func TestScrapeStreamBadBody(t *testing.T) {
	s := newTestServer(t, DefaultOptions())

	res, err := s.client.R().
		SetHeader("content-type", "application/json").
		SetBody(`{"prn": `).
		Post("/api/scrape")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, res.StatusCode())
	require.Contains(t, res.String(), "Invalid request body")
	requests, _ := s.scraper.seen()
	require.Empty(t, requests)
}

func TestScrapeRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.RateLimit = rate.Every(time.Hour)
	opts.RateBurst = 2
	s := newTestServer(t, opts)

	for i := 0; i < 2; i++ {
		res, err := s.client.R().SetBody(map[string]any{"prn": testPRN, "dob": "10-03-2006"}).Post("/api/scrape")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.StatusCode())
	}

	res, err := s.client.R().SetBody(map[string]any{"prn": testPRN, "dob": "10-03-2006"}).Post("/api/scrape")
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode())
	require.NotEmpty(t, res.Header().Get("retry-after"))
	requests, _ := s.scraper.seen()
	require.Len(t, requests, 2)

	// other endpoints are not limited
	res, err = s.client.R().Get("/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
}

func TestScrapeWebsocket(t *testing.T) {
	s := newTestServer(t, DefaultOptions())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/api/scrape/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(scrape.Request{PRN: testPRN, DOB: "10-03-2006"}))

	var events []scrape.Event
	for {
		var ev scrape.Event
		err := conn.ReadJSON(&ev)
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	require.Equal(t, scrape.EventResult, events[2].Type)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, DefaultOptions())

	var body healthResponse
	res, err := s.client.R().SetResult(&body).Get("/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.Equal(t, "ok", body.Status)
	require.GreaterOrEqual(t, body.Uptime, 0.0)
}

func TestLeaderboardIsMasked(t *testing.T) {
	s := newTestServer(t, DefaultOptions())
	require.NoError(t, s.stats.RecordResult(context.Background(), testPRN, 9.2))

	var body leaderboardResponse
	res, err := s.client.R().SetResult(&body).Get("/api/leaderboard")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.Len(t, body.Leaderboard, 1)
	require.Equal(t, "MU03****3054", body.Leaderboard[0].PRN)
	require.Equal(t, "AI&ML", body.Leaderboard[0].Branch)
	require.NotContains(t, res.String(), testPRN)
}

func TestAdmin(t *testing.T) {
	s := newTestServer(t, DefaultOptions())
	ctx := context.Background()
	require.NoError(t, s.stats.RecordRequest(ctx, testPRN))
	require.NoError(t, s.stats.RecordCacheHit(ctx))
	require.NoError(t, s.stats.RecordResult(ctx, testPRN, 9.2))

	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPost} {
		res, err := s.client.R().SetQueryParam("key", "wrong").Execute(method, "/api/admin")
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, res.StatusCode(), method)
	}
	_, cleared := s.scraper.seen()
	require.Zero(t, cleared)

	var body adminResponse
	res, err := s.client.R().SetQueryParam("key", testAdminKey).SetResult(&body).Get("/api/admin")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.EqualValues(t, 1, body.Stats.TotalRequests)
	require.EqualValues(t, 100, body.Stats.CacheHitRate)
	require.Equal(t, 2, body.Queue.Active)
	require.Equal(t, []string{"MU0341****3001"}, body.Queue.Waiting)
	require.Len(t, body.RecentUsers, 1)
	require.Equal(t, testPRN, body.RecentUsers[0].PRN)
	require.Equal(t, map[string]int{"AI&ML": 1}, body.BranchDistribution)
	require.Len(t, body.Leaderboard, 1)

	res, err = s.client.R().SetQueryParam("key", testAdminKey).Delete("/api/admin")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	summary, err := s.stats.Summary(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.TotalRequests)
	recent, err := s.stats.RecentUsers(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	res, err = s.client.R().SetQueryParams(map[string]string{"key": testAdminKey, "type": "leaderboard"}).Delete("/api/admin")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.Contains(t, res.String(), "Cleared leaderboard")
	board, err := s.stats.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, board)

	var clearBody successBody
	res, err = s.client.R().SetQueryParam("key", testAdminKey).SetResult(&clearBody).Post("/api/admin")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.Equal(t, "Cleared 4 cached results", clearBody.Message)
	_, cleared = s.scraper.seen()
	require.Equal(t, 1, cleared)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	timeAPI, err := chrono.NewStandardImpl()
	require.NoError(t, err)
	service := NewService(DefaultOptions(), &fakeScraper{}, stats.NewMemoryRecorder(timeAPI), timeAPI, WithCustomTelemetryAPI(&telemetry.RecordingAPI{}))

	rec := httptest.NewRecorder()
	service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin?key=", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
