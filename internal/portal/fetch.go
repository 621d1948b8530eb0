package portal

import (
	"context"
	"net/url"
	"time"

	"github.com/WillyEverGreen/CRCE-calc/internal/components/assert"
	"github.com/WillyEverGreen/CRCE-calc/internal/components/telemetry"
	"github.com/WillyEverGreen/CRCE-calc/internal/grading"
	"github.com/WillyEverGreen/CRCE-calc/lib/restyutil"
	"github.com/WillyEverGreen/CRCE-calc/lib/textutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const (
	report_fetcher_fetch = "fetcher.fetch"
	report_fetcher_parse = "fetcher.parse"
)

// nonGraded names the subject categories that never count towards the SGPA.
var nonGraded = []string{
	"Double Minor",
	"Honors",
	"Honours",
	"Minor Degree",
}

// CreditLookup resolves the credits of a subject from its display name.
type CreditLookup interface {
	Credits(subjectName string) int
}

type SkipReason int

const (
	Fetched SkipReason = iota
	SkipUnreachable
	SkipStatus
	SkipLoginRedirect
	SkipNoMarks
	SkipNonGraded
)

func (r SkipReason) String() string {
	switch r {
	case Fetched:
		return "fetched"
	case SkipUnreachable:
		return "unreachable"
	case SkipStatus:
		return "bad-status"
	case SkipLoginRedirect:
		return "login-redirect"
	case SkipNoMarks:
		return "no-marks"
	case SkipNonGraded:
		return "non-graded"
	}
	return "unknown"
}

type FetchOptions struct {
	// BaseURL restricts redirects to the portal's host.
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond and Burst bound the request rate towards the portal across all sessions.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	// Dump receives every full exchange with the portal when set.
	Dump restyutil.Output
}

func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		BaseURL:           "https://crce-students.contineo.in/parents/",
		Timeout:           12 * time.Second,
		RequestsPerSecond: 10,
		Burst:             10,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	}
}

// Fetcher loads subject pages over plain HTTP by replaying a session's cookie header.
// It holds no per-session state and is safe for concurrent use.
type Fetcher struct {
	http    *resty.Client
	opts    FetchOptions
	credits CreditLookup
	tel     telemetry.API
}

func NewFetcher(opts FetchOptions, credits CreditLookup, tel telemetry.API) (*Fetcher, error) {
	assert.NotNil(credits)
	assert.NotNil(tel)
	assert.Positive("fetch timeout", opts.Timeout)
	assert.Positive("fetch rate", opts.RequestsPerSecond)

	tel = telemetry.NewScopedAPI("portal", tel)

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.SetTimeout(opts.Timeout)

	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, tel)
	if opts.Dump != nil {
		restyutil.DumpExchanges(client, opts.Dump)
	}

	return &Fetcher{
		http:    client,
		opts:    opts,
		credits: credits,
		tel:     tel,
	}, nil
}

// Fetch loads and grades one subject page. A nil record means the link did not yield a
// gradable subject, the reason says why. Fetch never fails the scrape on its own.
func (f *Fetcher) Fetch(ctx context.Context, cookieHeader, subjectURL string) (*grading.SubjectRecord, SkipReason) {
	ctx, span := tracer.Start(ctx, "Fetcher.Fetch")
	defer span.End()

	record, reason := f.fetch(ctx, cookieHeader, subjectURL)
	span.SetAttributes(attribute.String("outcome", reason.String()))
	return record, reason
}

func (f *Fetcher) fetch(ctx context.Context, cookieHeader, subjectURL string) (*grading.SubjectRecord, SkipReason) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	res, err := f.http.R().
		SetContext(ctx).
		SetHeader("cookie", cookieHeader).
		Get(subjectURL)
	if err != nil {
		return nil, SkipUnreachable
	}
	if !res.IsSuccess() {
		f.tel.ReportWarning(report_fetcher_fetch, "unexpected status", res.StatusCode(), subjectURL)
		return nil, SkipStatus
	}

	page, err := ParseSubjectPage(res.Body())
	if err != nil {
		f.tel.ReportWarning(report_fetcher_parse, err, subjectURL)
		return nil, SkipNoMarks
	}
	if page.LoginRedirect {
		return nil, SkipLoginRedirect
	}
	if len(page.Components) == 0 {
		return nil, SkipNoMarks
	}
	if page.MarksTables > 1 {
		f.tel.ReportWarning(report_fetcher_parse, "several marks tables, using the first", page.MarksTables, subjectURL)
	}

	if textutil.ContainsAny(page.Name, nonGraded...) {
		return nil, SkipNonGraded
	}
	credits := f.credits.Credits(page.Name)
	if credits == 0 {
		return nil, SkipNonGraded
	}

	record := grading.NewSubjectRecord(page.Name, page.Components, credits)
	return &record, Fetched
}
