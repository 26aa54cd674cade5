package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"datafetch-backend/lib/jobpoll"
	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// asyncJobStrategy drives sources whose exports are prepared server-side:
// submit a job, poll until it completes, then download the result.
type asyncJobStrategy struct {
	deps Deps
}

func (s *asyncJobStrategy) FetchRaw(ctx context.Context, d *sites.Descriptor) (*RawPayload, error) {
	ctx, span := tracer.Start(ctx, "asyncjob.FetchRaw")
	defer span.End()
	span.SetAttributes(attribute.String("source.id", d.Id))

	apiKey, err := d.ResolveApiKey()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	job := d.Job
	interval := time.Duration(job.PollIntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = time.Second * 5
	}
	maxPolls := job.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 30
	}

	poller := &jobpoll.Poller{
		Interval:    interval,
		MaxAttempts: maxPolls,
		Acquire: func(ctx context.Context) error {
			return s.deps.Limiter.Acquire(ctx, d.Id, d.RateInterval())
		},
	}

	result, handle, err := poller.Run(ctx, jobpoll.Callbacks{
		Submit: func(ctx context.Context) (string, error) {
			return s.submit(ctx, d, apiKey)
		},
		Poll: func(ctx context.Context, jobId string) (jobpoll.PollStatus, error) {
			return s.poll(ctx, d, apiKey, jobId)
		},
		Fetch: func(ctx context.Context, jobId string) ([]byte, error) {
			return s.fetch(ctx, d, apiKey, jobId)
		},
	})
	span.SetAttributes(
		attribute.String("job.state", string(handle.State)),
		attribute.Int("job.polls", handle.Polls),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		// an exhausted poll budget is worth one more round trip through
		// the retry loop, the export may just be slow today
		if errors.Is(err, jobpoll.ErrJobTimedOut) {
			return nil, fmt.Errorf("%w: %s", ErrTransient, err)
		}
		return nil, err
	}

	return &RawPayload{
		Body:      result,
		FetchedAt: time.Now(),
		Checksum:  tabular.Checksum(result),
	}, nil
}

func (s *asyncJobStrategy) request(ctx context.Context, d *sites.Descriptor, apiKey string) *resty.Request {
	req := s.deps.Http.R().SetContext(ctx)
	if apiKey != "" {
		header := d.ApiKeyHeader
		if header == "" {
			header = "authorization"
		}
		req.SetHeader(header, apiKey)
	}
	return req
}

func (s *asyncJobStrategy) submit(ctx context.Context, d *sites.Descriptor, apiKey string) (string, error) {
	res, err := s.request(ctx, d, apiKey).
		Post(resolveUrl(d.BaseUrl, d.Job.SubmitUrl))
	err = checkResponse(s.deps, d, res, err)
	if err != nil {
		return "", err
	}

	jobId := gjson.GetBytes(res.Body(), d.Job.IdPath).String()
	if jobId == "" {
		return "", fmt.Errorf(
			"source %s job submission has no id at path %q", d.Id, d.Job.IdPath,
		)
	}
	return jobId, nil
}

func (s *asyncJobStrategy) poll(ctx context.Context, d *sites.Descriptor, apiKey, jobId string) (jobpoll.PollStatus, error) {
	statusUrl := jobUrl(resolveUrl(d.BaseUrl, d.Job.StatusUrl), jobId)
	res, err := s.request(ctx, d, apiKey).Get(statusUrl)
	err = checkResponse(s.deps, d, res, err)
	if err != nil {
		return jobpoll.InProgress, err
	}

	status := gjson.GetBytes(res.Body(), d.Job.StatusPath).String()
	switch {
	case containsFold(d.Job.DoneValues, status):
		return jobpoll.Done, nil
	case containsFold(d.Job.FailedValues, status):
		return jobpoll.Failed, nil
	}
	return jobpoll.InProgress, nil
}

func (s *asyncJobStrategy) fetch(ctx context.Context, d *sites.Descriptor, apiKey, jobId string) ([]byte, error) {
	resultUrl := jobUrl(resolveUrl(d.BaseUrl, d.Job.ResultUrl), jobId)
	res, err := s.request(ctx, d, apiKey).Get(resultUrl)
	err = checkResponse(s.deps, d, res, err)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func (s *asyncJobStrategy) Parse(d *sites.Descriptor, raw *RawPayload) (*tabular.Table, error) {
	if !gjson.ValidBytes(raw.Body) {
		return nil, fmt.Errorf("source %s job result is not valid json", d.Id)
	}

	data := gjson.ParseBytes(raw.Body)
	if d.DataPath != "" {
		data = data.Get(d.DataPath)
		if !data.Exists() {
			return nil, fmt.Errorf(
				"source %s job result has nothing at path %q", d.Id, d.DataPath,
			)
		}
	}
	if !data.IsArray() {
		return nil, fmt.Errorf("source %s job result data path %q is not an array", d.Id, d.DataPath)
	}
	return rowsFromJson(d, data)
}

func jobUrl(template, jobId string) string {
	return strings.ReplaceAll(template, "{job}", jobId)
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
