package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"datafetch-backend/lib/extract"
	"datafetch-backend/lib/ratelimit"
	"datafetch-backend/lib/robots"
	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func testOrchestrator(t *testing.T, registryYaml string) *Orchestrator {
	t.Helper()
	cleanup := telemetry.SetupForTesting(t, "test:lib/pipeline")
	t.Cleanup(cleanup)

	registry, err := sites.Parse([]byte(registryYaml))
	require.NoError(t, err)

	o := New(registry, robots.NewGate("datafetch-test"), extract.Deps{
		Http:    resty.New(),
		Limiter: ratelimit.NewLimiter(),
	})
	o.RetryDelay = time.Millisecond
	return o
}

func seriesSite(id, baseUrl, extra string) string {
	return fmt.Sprintf(`
  - id: %s
    base_url: %s
    strategy: api
    endpoint: /api/observations
    data_path: observations
    rate_limit_seconds: 0.001
    robots_policy: ALLOWED
    fields:
      - remote: date
        canonical: date
        kind: time
        required: true
      - remote: value
        canonical: value
        kind: number
        required: true
%s`, id, baseUrl, extra)
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations": [
			{"date": "2024-01-01", "value": 100},
			{"date": "2024-01-02", "value": 110}
		]}`)
	}))
	defer server.Close()

	o := testOrchestrator(t, "sites:"+seriesSite("primary", server.URL, ""))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{})
	require.NoError(t, err)
	require.Equal(t, Success, outcome.Kind)
	require.Equal(t, "primary", outcome.Source)
	require.NotEmpty(t, outcome.RunId)
	require.Len(t, outcome.Result.Rows, 2)
	require.Equal(t, "primary", outcome.Result.Provenance.Source)
	require.NotEmpty(t, outcome.Result.Provenance.Checksum)
}

func TestFetchDisallowedSourceMakesNoRequests(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	registry := `sites:
  - id: primary
    base_url: ` + server.URL + `
    strategy: api
    endpoint: /api/observations
    robots_policy: DISALLOWED
    fields:
      - remote: value
        canonical: value
        kind: number
`
	o := testOrchestrator(t, registry)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{})
	require.NoError(t, err)
	require.Equal(t, ComplianceBlocked, outcome.Kind)
	require.Equal(t, int64(0), hits.Load())
}

func TestFetchWalksFallbackChainInOrder(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer backend.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations": [{"date": "2024-01-01", "value": 1}]}`)
	}))
	defer good.Close()

	registry := "sites:" +
		seriesSite("primary", backend.URL, "    fallbacks: [backup]\n") +
		seriesSite("backup", good.URL, "")
	o := testOrchestrator(t, registry)
	o.MaxRetries = 2

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{})
	require.NoError(t, err)
	require.Equal(t, Success, outcome.Kind)
	// the fallback produced the data
	require.Equal(t, "backup", outcome.Source)

	// the primary got its full retry budget before the fallback ran
	require.Len(t, outcome.Attempts, 2)
	require.Equal(t, "primary", outcome.Attempts[0].Source)
	require.Equal(t, ExhaustedRetries, outcome.Attempts[0].Kind)
	require.Equal(t, "backup", outcome.Attempts[1].Source)
	require.Equal(t, Success, outcome.Attempts[1].Kind)
}

func TestFetchNoFallbacksOption(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	registry := "sites:" +
		seriesSite("primary", server.URL, "    fallbacks: [backup]\n") +
		seriesSite("backup", server.URL, "")
	o := testOrchestrator(t, registry)
	o.MaxRetries = 1

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{NoFallbacks: true})
	require.NoError(t, err)
	require.Equal(t, ExhaustedRetries, outcome.Kind)
	require.Len(t, outcome.Attempts, 1)
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(503)
			return
		}
		fmt.Fprint(w, `{"observations": [{"date": "2024-01-01", "value": 1}]}`)
	}))
	defer server.Close()

	o := testOrchestrator(t, "sites:"+seriesSite("primary", server.URL, ""))
	o.MaxRetries = 3

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{})
	require.NoError(t, err)
	require.Equal(t, Success, outcome.Kind)
	require.Equal(t, int64(3), hits.Load())
}

func TestFetchValidationFailureEscalatesToFallback(t *testing.T) {
	// timestamps out of order, the data fails validation
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations": [
			{"date": "2024-01-03", "value": 1},
			{"date": "2024-01-01", "value": 2}
		]}`)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations": [{"date": "2024-01-01", "value": 1}]}`)
	}))
	defer good.Close()

	registry := "sites:" +
		seriesSite("primary", bad.URL, "    fallbacks: [backup]\n") +
		seriesSite("backup", good.URL, "")
	o := testOrchestrator(t, registry)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{})
	require.NoError(t, err)
	require.Equal(t, Success, outcome.Kind)
	require.Equal(t, "backup", outcome.Source)
	require.Len(t, outcome.Attempts, 2)
	require.Equal(t, ValidationFailed, outcome.Attempts[0].Kind)
	require.Equal(t, Success, outcome.Attempts[1].Kind)
}

func TestFetchValidationFailureWithoutFallback(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations": [
			{"date": "2024-01-03", "value": 1},
			{"date": "2024-01-01", "value": 2}
		]}`)
	}))
	defer bad.Close()

	o := testOrchestrator(t, "sites:"+seriesSite("primary", bad.URL, ""))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{})
	require.NoError(t, err)
	require.Equal(t, ValidationFailed, outcome.Kind)
	require.NotEmpty(t, outcome.Reasons)
}

func TestFetchFallbackExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	registry := "sites:" +
		seriesSite("primary", server.URL, "    fallbacks: [backup]\n") +
		seriesSite("backup", server.URL, "")
	o := testOrchestrator(t, registry)
	o.MaxRetries = 1

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	outcome, err := o.Fetch(ctx, "primary", Options{})
	require.NoError(t, err)
	require.Equal(t, FallbackExhausted, outcome.Kind)
	require.Len(t, outcome.Attempts, 2)
	require.Len(t, outcome.Reasons, 2)
}

func TestFetchUnknownSiteIsAnError(t *testing.T) {
	o := testOrchestrator(t, "sites:"+seriesSite("primary", "https://example.com", ""))

	_, err := o.Fetch(context.Background(), "nonexistent", Options{})
	require.ErrorIs(t, err, sites.ErrConfiguration)
}

func TestFetchMissingCredentialIsAnError(t *testing.T) {
	registry := `sites:
  - id: primary
    base_url: https://example.com
    strategy: api
    endpoint: /api/observations
    robots_policy: ALLOWED
    api_key_env: DATAFETCH_ABSENT_KEY
    fields:
      - remote: value
        canonical: value
        kind: number
`
	o := testOrchestrator(t, registry)

	_, err := o.Fetch(context.Background(), "primary", Options{})
	require.ErrorIs(t, err, sites.ErrConfiguration)
}
