// Package robots resolves whether a page may be fetched under the host's
// published robots.txt policy. Policies are fetched at most once per host
// per process run.
package robots

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"datafetch-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("lib/robots")

type Status string

const (
	Allowed    Status = "ALLOWED"
	Disallowed Status = "DISALLOWED"
	Unknown    Status = "UNKNOWN"
)

type Decision struct {
	Status    Status
	Reason    string
	RobotsUrl string
	DecidedAt time.Time
}

// policy is the cached per-host fetch outcome. rules is nil when the
// policy could not be retrieved or parsed, in which case reason explains
// why and every path resolves to Unknown.
type policy struct {
	rules  *ruleset
	reason string
}

type Gate struct {
	http      *resty.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]*policy
	group singleflight.Group
}

func NewGate(userAgent string) *Gate {
	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(time.Second * 10)
	telemetry.InstrumentResty(client, "robots/http")

	return &Gate{
		http:      client,
		userAgent: userAgent,
		cache:     map[string]*policy{},
	}
}

// Check resolves the access decision for pageUrl. Policy fetch failures
// are not errors, they yield an Unknown decision the caller must decide
// how to treat.
func (g *Gate) Check(ctx context.Context, pageUrl string) Decision {
	ctx, span := tracer.Start(ctx, "Check")
	defer span.End()

	parsed, err := url.Parse(pageUrl)
	if err != nil || parsed.Host == "" {
		span.SetStatus(codes.Error, "unparseable url")
		return Decision{
			Status:    Unknown,
			Reason:    fmt.Sprintf("unparseable url: %s", pageUrl),
			DecidedAt: time.Now(),
		}
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}
	robotsUrl := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)

	// api endpoints enforce their own quotas and auth, robots.txt does
	// not meaningfully apply to them
	if strings.HasPrefix(path, "/api") || strings.Contains(path, "/api/") ||
		strings.HasPrefix(parsed.Host, "api.") {
		return Decision{
			Status:    Allowed,
			Reason:    "api endpoint, robots.txt check skipped",
			RobotsUrl: robotsUrl,
			DecidedAt: time.Now(),
		}
	}

	pol := g.policyFor(ctx, parsed.Host, robotsUrl)
	if pol.rules == nil {
		return Decision{
			Status:    Unknown,
			Reason:    pol.reason,
			RobotsUrl: robotsUrl,
			DecidedAt: time.Now(),
		}
	}

	if pol.rules.isAllowed(g.userAgent, path) {
		return Decision{
			Status:    Allowed,
			Reason:    fmt.Sprintf("path %s is allowed", path),
			RobotsUrl: robotsUrl,
			DecidedAt: time.Now(),
		}
	}
	return Decision{
		Status:    Disallowed,
		Reason:    fmt.Sprintf("path %s is disallowed", path),
		RobotsUrl: robotsUrl,
		DecidedAt: time.Now(),
	}
}

// policyFor returns the cached policy for a host, fetching it exactly once
// per process run no matter how many extractions race on the same host.
func (g *Gate) policyFor(ctx context.Context, host, robotsUrl string) *policy {
	g.mu.Lock()
	cached, ok := g.cache[host]
	g.mu.Unlock()
	if ok {
		return cached
	}

	fetched, _, _ := g.group.Do(host, func() (any, error) {
		pol := g.fetchPolicy(ctx, robotsUrl)
		if pol.rules == nil && ctx.Err() != nil {
			// the fetch died with the winner's context, not the host;
			// the next caller gets a fresh attempt
			return pol, nil
		}
		g.mu.Lock()
		g.cache[host] = pol
		g.mu.Unlock()
		return pol, nil
	})
	return fetched.(*policy)
}

func (g *Gate) fetchPolicy(ctx context.Context, robotsUrl string) *policy {
	res, err := g.http.R().
		SetContext(ctx).
		Get(robotsUrl)
	if err != nil {
		return &policy{reason: fmt.Sprintf("could not fetch robots.txt: %s", err)}
	}

	switch {
	case res.StatusCode() == 200:
		return &policy{rules: parseRules(string(res.Body()))}
	case res.StatusCode() == 404:
		// no robots.txt means everything is allowed
		return &policy{rules: &ruleset{}}
	default:
		return &policy{reason: fmt.Sprintf("robots.txt returned http %d", res.StatusCode())}
	}
}
