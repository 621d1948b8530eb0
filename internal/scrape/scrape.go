// Package scrape runs a complete scrape: validation, the result cache, admission, portal
// login, the parallel subject fetch and grading, reported as a stream of events.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/admission"
	"github.com/WillyEverGreen/CRCE-calc/internal/cache"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/chrono"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/grading"
	"github.com/WillyEverGreen/CRCE-calc/internal/portal"
	"github.com/WillyEverGreen/CRCE-calc/internal/stats"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	report_scrape_run   = "scrape.run"
	report_scrape_cache = "scrape.cache"
	report_scrape_stats = "scrape.stats"
)

// CachePrefix starts every cached result key.
const CachePrefix = "crce:"

type Request struct {
	PRN          string `json:"prn"`
	DOB          string `json:"dob"`
	ForceRefresh bool   `json:"forceRefresh"`
}

type EventType string

const (
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`

	Data      *grading.ScrapeResult `json:"data,omitempty"`
	FromCache bool                  `json:"fromCache,omitempty"`

	Error string `json:"error,omitempty"`
	// RetryAfter is in seconds.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type != EventProgress
}

// Bootstrapper logs in to the portal.
//
// note: fault injection point
type Bootstrapper interface {
	Login(ctx context.Context, creds portal.Credentials) (portal.Session, error)
}

// Fetcher loads one subject page with a session's cookies.
//
// note: fault injection point
type Fetcher interface {
	Fetch(ctx context.Context, cookieHeader, subjectURL string) (*grading.SubjectRecord, portal.SkipReason)
}

type Options struct {
	CacheTTL time.Duration
	// FetchConcurrency caps the subject fetches in flight for a single scrape.
	FetchConcurrency int
}

func DefaultOptions() Options {
	return Options{
		CacheTTL:         6 * time.Hour,
		FetchConcurrency: 8,
	}
}

type Service struct {
	queue     *admission.Queue
	bootstrap Bootstrapper
	fetcher   Fetcher
	cache     cache.Store
	stats     stats.Recorder
	time      chrono.TimeAPI
	tel       telemetry.API
	opts      Options

	// owners maps admission ids to the prn they were issued for.
	owners sync.Map
}

func NewService(
	opts Options,
	queue *admission.Queue,
	bootstrap Bootstrapper,
	fetcher Fetcher,
	store cache.Store,
	recorder stats.Recorder,
	timeAPI chrono.TimeAPI,
	tel telemetry.API,
) *Service {
	assert.NotNil(queue)
	assert.NotNil(bootstrap)
	assert.NotNil(fetcher)
	assert.NotNil(store)
	assert.NotNil(recorder)
	assert.NotNil(timeAPI)
	assert.NotNil(tel)
	assert.Positive("cache ttl", opts.CacheTTL)
	assert.Positive("fetch concurrency", opts.FetchConcurrency)

	return &Service{
		queue:     queue,
		bootstrap: bootstrap,
		fetcher:   fetcher,
		cache:     store,
		stats:     recorder,
		time:      timeAPI,
		tel:       telemetry.NewScopedAPI("scrape", tel),
		opts:      opts,
	}
}

// emitter serializes events towards the caller, drops everything after the terminal event and
// everything once the caller is gone.
type emitter struct {
	ctx  context.Context
	emit func(Event)

	mu   sync.Mutex
	done bool
}

func (e *emitter) send(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || e.ctx.Err() != nil {
		return
	}
	if ev.Terminal() {
		e.done = true
	}
	e.emit(ev)
}

func (e *emitter) progress(msg string) {
	e.send(Event{Type: EventProgress, Message: msg})
}

func (e *emitter) fail(err *Error) {
	e.send(Event{
		Type:       EventError,
		Error:      err.Message,
		RetryAfter: int(err.RetryAfter / time.Second),
	})
}

// Scrape runs req to completion and reports it through emit: zero or more progress events,
// then exactly one result or error event. emit is never called concurrently and is not called
// after ctx is done.
//
// A caller that goes away while queued gives up its place. Once a slot is held the scrape runs
// to completion regardless, so the result is still cached, but nothing more is emitted.
//
// The returned error is the *Error the stream ended with, or nil.
func (s *Service) Scrape(ctx context.Context, req Request, emit func(Event)) error {
	out := &emitter{ctx: ctx, emit: emit}

	result, fromCache, err := s.scrape(ctx, req, out)
	if err != nil {
		scrapeErr := classify(err)
		if scrapeErr.Kind == KindInternal {
			s.tel.ReportBroken(report_scrape_run, scrapeErr.Err)
		}
		out.fail(scrapeErr)
		return scrapeErr
	}
	out.send(Event{Type: EventResult, Data: &result, FromCache: fromCache})
	return nil
}

func (s *Service) scrape(ctx context.Context, req Request, out *emitter) (grading.ScrapeResult, bool, error) {
	creds, err := Validate(req, s.time.Now())
	if err != nil {
		return grading.ScrapeResult{}, false, err
	}
	key := CacheKey(creds)

	// stats must never fail a scrape
	detached := context.WithoutCancel(ctx)
	if err := s.stats.RecordRequest(detached, creds.PRN); err != nil {
		s.tel.ReportWarning(report_scrape_stats, err)
	}

	if !req.ForceRefresh {
		result, ok := s.cached(ctx, key)
		if ok {
			if err := s.stats.RecordCacheHit(detached); err != nil {
				s.tel.ReportWarning(report_scrape_stats, err)
			}
			return result, true, nil
		}
	}

	id := uuid.NewString()
	s.owners.Store(id, creds.PRN)
	defer s.owners.Delete(id)

	onPosition := func(position int) {
		out.progress(fmt.Sprintf("You are #%d in queue...", position))
	}

	var result grading.ScrapeResult
	err = s.queue.WithSlot(ctx, id, onPosition, func(context.Context) error {
		var err error
		result, err = s.run(detached, creds, out)
		return err
	})
	if err != nil {
		return grading.ScrapeResult{}, false, err
	}

	s.store(detached, key, result)
	if result.SGPA != nil {
		if err := s.stats.RecordResult(detached, creds.PRN, *result.SGPA); err != nil {
			s.tel.ReportWarning(report_scrape_stats, err)
		}
	}
	return result, false, nil
}

func (s *Service) cached(ctx context.Context, key string) (grading.ScrapeResult, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.tel.ReportWarning(report_scrape_cache, "read", err)
		return grading.ScrapeResult{}, false
	}
	if !ok {
		return grading.ScrapeResult{}, false
	}
	var result grading.ScrapeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.tel.ReportWarning(report_scrape_cache, "decode", key, err)
		return grading.ScrapeResult{}, false
	}
	return result, true
}

func (s *Service) store(ctx context.Context, key string, result grading.ScrapeResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.tel.ReportWarning(report_scrape_cache, "encode", err)
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.opts.CacheTTL); err != nil {
		s.tel.ReportWarning(report_scrape_cache, "write", err)
	}
}

type fetched struct {
	record *grading.SubjectRecord
	reason portal.SkipReason
}

// run is the work done while holding a slot.
func (s *Service) run(ctx context.Context, creds portal.Credentials, out *emitter) (result grading.ScrapeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	out.progress("Logging in to the portal...")
	session, err := s.bootstrap.Login(ctx, creds)
	if err != nil {
		return grading.ScrapeResult{}, err
	}

	total := len(session.SubjectURLs)
	out.progress(fmt.Sprintf("Found %d subjects, fetching marks...", total))

	results := make([]fetched, total)
	var (
		mu        sync.Mutex
		completed int
		panicked  error
	)

	var group errgroup.Group
	group.SetLimit(s.opts.FetchConcurrency)
	for i, subjectURL := range session.SubjectURLs {
		i, subjectURL := i, subjectURL
		group.Go(func() error {
			defer func() {
				r := recover()

				mu.Lock()
				defer mu.Unlock()
				if r != nil && panicked == nil {
					panicked = fmt.Errorf("panic fetching %s: %v\n%s", subjectURL, r, debug.Stack())
				}
				completed++
				out.send(Event{
					Type:    EventProgress,
					Message: fmt.Sprintf("Fetched %d of %d subjects", completed, total),
					Current: completed,
					Total:   total,
				})
			}()
			record, reason := s.fetcher.Fetch(ctx, session.CookieHeader, subjectURL)
			results[i] = fetched{record: record, reason: reason}
			return nil
		})
	}
	group.Wait()
	if panicked != nil {
		return grading.ScrapeResult{}, panicked
	}

	subjects := make([]grading.SubjectRecord, 0, total)
	loginRedirects := 0
	for _, r := range results {
		if r.record != nil {
			subjects = append(subjects, *r.record)
			continue
		}
		if r.reason == portal.SkipLoginRedirect {
			loginRedirects++
		}
		s.tel.ReportDebug("subject skipped", r.reason.String())
	}
	if len(subjects) == 0 {
		if loginRedirects > 0 {
			return grading.ScrapeResult{}, &Error{
				Kind:       KindSessionExpired,
				Message:    msgSessionExpired,
				RetryAfter: 10 * time.Second,
				Err:        fmt.Errorf("%d of %d subject pages redirected to login", loginRedirects, total),
			}
		}
		return grading.ScrapeResult{}, portal.ErrNoSubjectsFound
	}

	out.progress("Calculating SGPA...")
	return grading.Aggregate(subjects), nil
}

// QueueSnapshot is the admission queue's state with waiting requests identified by their
// masked prn.
func (s *Service) QueueSnapshot() admission.Snapshot {
	snapshot := s.queue.Snapshot()
	for i, id := range snapshot.Waiting {
		prn, ok := s.owners.Load(id)
		if !ok {
			continue
		}
		snapshot.Waiting[i] = stats.MaskAdmin(prn.(string))
	}
	return snapshot
}

// ClearCache removes every cached result.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	return s.cache.Clear(ctx, CachePrefix)
}
