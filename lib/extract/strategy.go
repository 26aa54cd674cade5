// Package extract implements the per-source extraction strategies. Every
// strategy splits its work into a network fetch producing a raw payload
// and a pure parse producing a typed table, so parses can be replayed
// against captured payloads without touching the source again.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"datafetch-backend/lib/ratelimit"
	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/extract")

var (
	// ErrTransient marks failures worth retrying against the same source:
	// transport errors, 5xx responses, job timeouts.
	ErrTransient = errors.New("transient fetch failure")

	// ErrQuota marks a 429-class rejection. The rate limiter has already
	// been told to back off by the time this is returned.
	ErrQuota = errors.New("source rejected request over quota")
)

// RawPayload is the unparsed result of one fetch. Single-response
// strategies fill Body; multi-file sources fill Parts instead.
type RawPayload struct {
	Body  []byte
	Parts []FilePart
	// ScriptResult is set when a rendered page produced its data through
	// an in-page script rather than markup.
	ScriptResult bool
	FetchedAt    time.Time
	Checksum     string
}

type FilePart struct {
	Url  string
	Body []byte
}

// RenderResult is what a browser session yields for one page.
type RenderResult struct {
	Html string
	// ScriptResult is the JSON-encoded value of the page script, empty
	// when no script was configured.
	ScriptResult []byte
}

// Renderer executes a page in a real browser. Implemented by lib/browser,
// kept as an interface here so strategies stay testable without chromium.
type Renderer interface {
	Render(ctx context.Context, pageUrl, script string) (*RenderResult, error)
}

type Strategy interface {
	FetchRaw(ctx context.Context, d *sites.Descriptor) (*RawPayload, error)
	Parse(d *sites.Descriptor, raw *RawPayload) (*tabular.Table, error)
}

type Deps struct {
	Http     *resty.Client
	Limiter  *ratelimit.Limiter
	Renderer Renderer
}

// New resolves a descriptor's strategy tag. The set is closed, an
// unrecognized tag is a configuration error.
func New(tag string, deps Deps) (Strategy, error) {
	switch tag {
	case sites.StrategyApi:
		return &apiStrategy{deps: deps}, nil
	case sites.StrategyRenderedPage:
		return &renderedStrategy{deps: deps}, nil
	case sites.StrategyMultiFile:
		return &multiFileStrategy{deps: deps}, nil
	case sites.StrategyArchive:
		return &archiveStrategy{deps: deps}, nil
	case sites.StrategyAsyncJob:
		return &asyncJobStrategy{deps: deps}, nil
	}
	return nil, fmt.Errorf("%w: no strategy registered for tag %q", sites.ErrConfiguration, tag)
}

// resolveUrl joins a possibly-relative endpoint onto the source's base url.
func resolveUrl(base, endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	b, err := url.Parse(base)
	if err != nil {
		return endpoint
	}
	e, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return b.ResolveReference(e).String()
}

// checkResponse classifies an http exchange into the retry taxonomy. A
// quota response also feeds the limiter so subsequent acquires slow down.
func checkResponse(deps Deps, d *sites.Descriptor, res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransient, err)
	}
	code := res.StatusCode()
	switch {
	case code == 429:
		deps.Limiter.ReportThrottle(d.Id, d.RateInterval())
		return fmt.Errorf("%w: http 429 from %s", ErrQuota, res.Request.URL)
	case code >= 500:
		return fmt.Errorf("%w: http %d from %s", ErrTransient, code, res.Request.URL)
	case code >= 400:
		return fmt.Errorf("http %d from %s", code, res.Request.URL)
	}
	return nil
}
