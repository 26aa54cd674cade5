// Package pipeline runs the full extraction lifecycle for one source:
// compliance gate, rate-limited fetch with retries, parse, validation,
// and the sequential walk down the source's fallback chain.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"datafetch-backend/lib/extract"
	"datafetch-backend/lib/robots"
	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"
	"datafetch-backend/lib/validate"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/pipeline")

type OutcomeKind string

const (
	Success           OutcomeKind = "SUCCESS"
	ComplianceBlocked OutcomeKind = "COMPLIANCE_BLOCKED"
	ValidationFailed  OutcomeKind = "VALIDATION_FAILED"
	ExhaustedRetries  OutcomeKind = "EXHAUSTED_RETRIES"
	FallbackExhausted OutcomeKind = "FALLBACK_EXHAUSTED"
)

// Attempt records one source tried during a fetch, in order.
type Attempt struct {
	Source string
	Kind   OutcomeKind
	Reason string
}

// Outcome is the terminal result of one fetch request. Result is only set
// when Kind is Success; Source then names the source that produced it,
// which may be a fallback rather than the requested one.
type Outcome struct {
	Kind     OutcomeKind
	RunId    string
	Source   string
	Result   *tabular.Table
	Reasons  []string
	Attempts []Attempt
}

type Options struct {
	// OverrideUnknownRobots proceeds when the robots policy cannot be
	// determined. An explicit disallow is never overridden.
	OverrideUnknownRobots bool
	// NoFallbacks restricts the fetch to the requested source only.
	NoFallbacks bool
}

type Orchestrator struct {
	registry *sites.Registry
	gate     *robots.Gate
	deps     extract.Deps

	// MaxRetries bounds fetch attempts per source, RetryDelay seeds the
	// doubling backoff between them.
	MaxRetries int
	RetryDelay time.Duration
}

const maxRetryDelay = time.Second * 30

func New(registry *sites.Registry, gate *robots.Gate, deps extract.Deps) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		gate:       gate,
		deps:       deps,
		MaxRetries: 3,
		RetryDelay: time.Second * 2,
	}
}

// Fetch extracts data for siteId, walking its fallback chain in order
// until one source succeeds. Configuration defects are returned as the
// error, everything else is expressed in the Outcome.
func (o *Orchestrator) Fetch(ctx context.Context, siteId string, opts Options) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source.id", siteId))

	runId, err := random.String(8)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("run.id", runId))

	primary, err := o.registry.Get(siteId)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	chain := []*sites.Descriptor{primary}
	if !opts.NoFallbacks {
		for _, fallbackId := range primary.Fallbacks {
			// fallback ids are validated at registry load
			d, err := o.registry.Get(fallbackId)
			if err != nil {
				return nil, err
			}
			chain = append(chain, d)
		}
	}

	outcome := &Outcome{RunId: runId}
	for _, d := range chain {
		slog.InfoContext(ctx, "trying source",
			"run", runId, "source", d.Id, "strategy", d.Strategy)

		result, kind, reasons, err := o.fetchOne(ctx, d, opts, runId)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		reason := strings.Join(reasons, "; ")
		outcome.Attempts = append(outcome.Attempts, Attempt{
			Source: d.Id,
			Kind:   kind,
			Reason: reason,
		})

		if kind == Success {
			outcome.Kind = Success
			outcome.Source = d.Id
			outcome.Result = result
			slog.InfoContext(ctx, "extraction succeeded",
				"run", runId, "source", d.Id, "rows", len(result.Rows))
			return outcome, nil
		}

		// a failed or blocked source is skipped, the next fallback gets
		// its own full pipeline run
		outcome.Reasons = append(outcome.Reasons, fmt.Sprintf("%s: %s", d.Id, reason))
		slog.WarnContext(ctx, "source unusable, moving on",
			"run", runId, "source", d.Id, "kind", string(kind), "reason", reason)
	}

	if len(chain) == 1 {
		outcome.Kind = outcome.Attempts[0].Kind
		outcome.Source = primary.Id
	} else {
		outcome.Kind = FallbackExhausted
		outcome.Source = primary.Id
	}
	span.SetStatus(codes.Error, string(outcome.Kind))
	return outcome, nil
}

// fetchOne runs the whole pipeline against a single source. The error
// return is reserved for configuration defects and context cancellation.
func (o *Orchestrator) fetchOne(
	ctx context.Context,
	d *sites.Descriptor,
	opts Options,
	runId string,
) (*tabular.Table, OutcomeKind, []string, error) {
	ctx, span := tracer.Start(ctx, "fetchOne")
	defer span.End()
	span.SetAttributes(attribute.String("source.id", d.Id))

	if blocked, reason := o.checkCompliance(ctx, d, opts); blocked {
		span.SetStatus(codes.Error, reason)
		return nil, ComplianceBlocked, []string{reason}, nil
	}

	strategy, err := extract.New(d.Strategy, o.deps)
	if err != nil {
		return nil, "", nil, err
	}

	var raw *extract.RawPayload
	var lastErr error
	for attempt := 1; attempt <= o.MaxRetries; attempt++ {
		raw, lastErr = strategy.FetchRaw(ctx, d)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, sites.ErrConfiguration) {
			return nil, "", nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, "", nil, ctx.Err()
		}
		if !errors.Is(lastErr, extract.ErrTransient) && !errors.Is(lastErr, extract.ErrQuota) {
			// permanent rejection, retrying would just repeat it
			break
		}
		if attempt < o.MaxRetries {
			delay := o.backoff(attempt)
			slog.WarnContext(ctx, "fetch attempt failed, backing off",
				"run", runId, "source", d.Id,
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, "", nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	if lastErr != nil {
		span.SetStatus(codes.Error, lastErr.Error())
		return nil, ExhaustedRetries, []string{lastErr.Error()}, nil
	}

	table, err := strategy.Parse(d, raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, ExhaustedRetries, []string{fmt.Sprintf("parse: %s", err)}, nil
	}
	table.Provenance = tabular.Provenance{
		Source:    d.Id,
		FetchedAt: raw.FetchedAt,
		Checksum:  raw.Checksum,
	}

	failure := validate.Check(d, table)
	if failure != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, ValidationFailed, failure.Reasons, nil
	}

	return table, Success, nil, nil
}

// checkCompliance resolves whether the source may be fetched at all. A
// descriptor-declared policy short-circuits the live robots.txt check.
func (o *Orchestrator) checkCompliance(
	ctx context.Context,
	d *sites.Descriptor,
	opts Options,
) (blocked bool, reason string) {
	switch robots.Status(strings.ToUpper(d.RobotsPolicy)) {
	case robots.Disallowed:
		return true, fmt.Sprintf("source %s is marked disallowed in its descriptor", d.Id)
	case robots.Allowed:
		return false, ""
	}

	pageUrl := d.PageUrl
	if pageUrl == "" {
		pageUrl = d.BaseUrl
	}

	decision := o.gate.Check(ctx, pageUrl)
	switch decision.Status {
	case robots.Disallowed:
		return true, fmt.Sprintf("robots.txt disallows %s: %s", pageUrl, decision.Reason)
	case robots.Unknown:
		if opts.OverrideUnknownRobots {
			slog.WarnContext(ctx, "robots policy unknown, proceeding on override",
				"source", d.Id, "reason", decision.Reason)
			return false, ""
		}
		return true, fmt.Sprintf(
			"robots policy for %s could not be determined (%s) and no override was given",
			pageUrl, decision.Reason,
		)
	}
	return false, ""
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
