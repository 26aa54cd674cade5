// Package jobpoll drives server-side extraction jobs through their
// lifecycle: submit once, poll on a fixed interval up to a bounded number
// of attempts, then fetch the result exactly once on success.
package jobpoll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lib/jobpoll")

var (
	// ErrJobFailed is returned when the remote reports a terminal failure
	// state. Resubmitting the same job would fail again, so it is not
	// retried at this level.
	ErrJobFailed = errors.New("remote job failed")

	// ErrJobTimedOut is returned when the poll budget is exhausted while
	// the job is still in progress.
	ErrJobTimedOut = errors.New("remote job timed out")
)

type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// PollStatus is the caller's interpretation of one status response.
type PollStatus int

const (
	InProgress PollStatus = iota
	Done
	Failed
)

// Callbacks supply the transport. Each is invoked after a successful
// Acquire, so remote quota spacing applies to submits, polls and the
// result fetch alike.
type Callbacks struct {
	// Submit starts the job and returns its remote identifier.
	Submit func(ctx context.Context) (string, error)
	// Poll reports the job's current status.
	Poll func(ctx context.Context, jobId string) (PollStatus, error)
	// Fetch retrieves the finished job's result payload.
	Fetch func(ctx context.Context, jobId string) ([]byte, error)
}

type Handle struct {
	JobId       string
	SubmittedAt time.Time
	State       State
	// Polls counts status requests actually issued.
	Polls int
}

type Poller struct {
	// Interval is the fixed spacing between status checks.
	Interval time.Duration
	// MaxAttempts bounds how many status checks run before the job is
	// declared timed out.
	MaxAttempts int
	// Acquire gates every remote call, typically a rate limiter token.
	// Nil means unthrottled.
	Acquire func(ctx context.Context) error
}

func (p *Poller) acquire(ctx context.Context) error {
	if p.Acquire == nil {
		return nil
	}
	return p.Acquire(ctx)
}

// Run executes the full job lifecycle and returns the result payload on
// success. The returned Handle always reflects the terminal state reached,
// including on error.
func (p *Poller) Run(ctx context.Context, cb Callbacks) ([]byte, *Handle, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	handle := &Handle{State: StateSubmitted}

	err := p.acquire(ctx)
	if err != nil {
		return nil, handle, err
	}
	jobId, err := cb.Submit(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, handle, fmt.Errorf("submitting job: %w", err)
	}
	handle.JobId = jobId
	handle.SubmittedAt = time.Now()
	handle.State = StateRunning
	span.SetAttributes(attribute.String("job.id", jobId))

	// NewTicker panics on a non-positive interval
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second * 5
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for handle.Polls < p.MaxAttempts {
		select {
		case <-ctx.Done():
			return nil, handle, ctx.Err()
		case <-ticker.C:
		}

		err := p.acquire(ctx)
		if err != nil {
			return nil, handle, err
		}
		status, err := cb.Poll(ctx, jobId)
		handle.Polls++
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, handle, fmt.Errorf("polling job %s: %w", jobId, err)
		}

		switch status {
		case Done:
			return p.fetchResult(ctx, span, cb, handle)
		case Failed:
			handle.State = StateFailed
			span.SetStatus(codes.Error, "job failed")
			return nil, handle, fmt.Errorf("job %s: %w", jobId, ErrJobFailed)
		}
	}

	handle.State = StateTimedOut
	span.SetStatus(codes.Error, "job timed out")
	return nil, handle, fmt.Errorf(
		"job %s still running after %d polls: %w",
		jobId, handle.Polls, ErrJobTimedOut,
	)
}

func (p *Poller) fetchResult(
	ctx context.Context,
	span trace.Span,
	cb Callbacks,
	handle *Handle,
) ([]byte, *Handle, error) {
	err := p.acquire(ctx)
	if err != nil {
		return nil, handle, err
	}
	result, err := cb.Fetch(ctx, handle.JobId)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, handle, fmt.Errorf("fetching job %s result: %w", handle.JobId, err)
	}
	handle.State = StateSucceeded
	return result, handle, nil
}
