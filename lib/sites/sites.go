// Package sites loads and validates the source registry: one immutable
// descriptor per configured data feed, including its extraction strategy,
// field mappings, rate limit and fallback chain. Descriptors are owned
// here and only ever referenced by the rest of the pipeline.
package sites

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks defects in the registry or environment that make
// a source unusable: they are fatal, surfaced immediately and never
// retried.
var ErrConfiguration = errors.New("configuration error")

const (
	StrategyApi          = "api"
	StrategyRenderedPage = "rendered_page"
	StrategyMultiFile    = "multi_file"
	StrategyArchive      = "archive"
	StrategyAsyncJob     = "async_job"
)

var knownStrategies = map[string]bool{
	StrategyApi:          true,
	StrategyRenderedPage: true,
	StrategyMultiFile:    true,
	StrategyArchive:      true,
	StrategyAsyncJob:     true,
}

type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldTime   FieldKind = "time"
)

type FieldMapping struct {
	// Remote is the field name as the source publishes it, Canonical is
	// the name it gets in extraction results.
	Remote    string    `yaml:"remote"`
	Canonical string    `yaml:"canonical"`
	Kind      FieldKind `yaml:"kind"`
	Required  bool      `yaml:"required"`
	// TimeFormat is a Go reference layout, only meaningful for time
	// fields. Unix second/millisecond timestamps are recognized without
	// it.
	TimeFormat string `yaml:"time_format,omitempty"`
	// Min/Max bound plausible values for number fields when set.
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`
}

type FileSpec struct {
	Url string `yaml:"url"`
	// Comma is the delimiter, defaults to ','.
	Comma string `yaml:"comma,omitempty"`
}

type ArchiveSpec struct {
	// TargetFile is the name of the file inside the downloaded archive.
	TargetFile string `yaml:"target_file"`
	Sheet      string `yaml:"sheet"`
}

type JobSpec struct {
	// SubmitUrl starts the job, StatusUrl and ResultUrl contain a {job}
	// placeholder replaced with the returned job identifier.
	SubmitUrl string `yaml:"submit_url"`
	StatusUrl string `yaml:"status_url"`
	ResultUrl string `yaml:"result_url"`
	// IdPath and StatusPath are gjson paths into the submit/status
	// responses.
	IdPath       string   `yaml:"id_path"`
	StatusPath   string   `yaml:"status_path"`
	DoneValues   []string `yaml:"done_values"`
	FailedValues []string `yaml:"failed_values"`

	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`
	MaxPolls            int     `yaml:"max_polls"`
}

type Descriptor struct {
	Id       string `yaml:"id"`
	Name     string `yaml:"name"`
	BaseUrl  string `yaml:"base_url"`
	PageUrl  string `yaml:"page_url"`
	Strategy string `yaml:"strategy"`

	Endpoint string `yaml:"endpoint,omitempty"`
	Method   string `yaml:"method,omitempty"`
	// DataPath is a gjson path to the row array inside a structured
	// response.
	DataPath string `yaml:"data_path,omitempty"`

	// ApiKeyEnv names the environment variable holding the source's
	// credential; ApiKeyHeader is the header it is sent in.
	ApiKeyEnv    string `yaml:"api_key_env,omitempty"`
	ApiKeyHeader string `yaml:"api_key_header,omitempty"`

	// RateLimitSeconds is the minimum spacing between requests.
	RateLimitSeconds float64 `yaml:"rate_limit_seconds,omitempty"`

	// RobotsPolicy is the operator-declared compliance status. When it is
	// UNKNOWN (or unset) the live robots.txt gate decides at call time.
	RobotsPolicy string `yaml:"robots_policy,omitempty"`

	// Script is evaluated in page context for rendered_page sources.
	Script string `yaml:"script,omitempty"`

	Files   []FileSpec   `yaml:"files,omitempty"`
	JoinKey string       `yaml:"join_key,omitempty"`
	Archive *ArchiveSpec `yaml:"archive,omitempty"`
	Job     *JobSpec     `yaml:"job,omitempty"`

	Fields []FieldMapping `yaml:"fields"`

	Fallbacks []string `yaml:"fallbacks,omitempty"`
}

func (d *Descriptor) RateInterval() time.Duration {
	if d.RateLimitSeconds <= 0 {
		return time.Second
	}
	return time.Duration(d.RateLimitSeconds * float64(time.Second))
}

// ResolveApiKey looks up the source's credential in the environment.
// A declared but absent credential is a configuration error, detected
// before any network call is made.
func (d *Descriptor) ResolveApiKey() (string, error) {
	if d.ApiKeyEnv == "" {
		return "", nil
	}
	key, ok := os.LookupEnv(d.ApiKeyEnv)
	if !ok || key == "" {
		return "", fmt.Errorf(
			"%w: source %q requires credential %s which is not set",
			ErrConfiguration, d.Id, d.ApiKeyEnv,
		)
	}
	return key, nil
}

// Field returns the mapping for a canonical field name.
func (d *Descriptor) Field(canonical string) (FieldMapping, bool) {
	for _, f := range d.Fields {
		if f.Canonical == canonical {
			return f, true
		}
	}
	return FieldMapping{}, false
}

type registryFile struct {
	Sites []*Descriptor `yaml:"sites"`
}

type Registry struct {
	sites map[string]*Descriptor
	order []string
}

// Load reads the YAML site registry and validates every descriptor.
// Validation failures are configuration errors: the whole registry is
// rejected rather than silently dropping a broken site.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var file registryFile
	err := yaml.Unmarshal(raw, &file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	r := &Registry{sites: map[string]*Descriptor{}}
	for _, d := range file.Sites {
		if d.Id == "" {
			return nil, fmt.Errorf("%w: site with empty id", ErrConfiguration)
		}
		if _, exists := r.sites[d.Id]; exists {
			return nil, fmt.Errorf("%w: duplicate site id %q", ErrConfiguration, d.Id)
		}
		r.sites[d.Id] = d
		r.order = append(r.order, d.Id)
	}

	for _, d := range r.sites {
		err := r.validate(d)
		if err != nil {
			return nil, err
		}
	}
	err = r.checkFallbackCycles()
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) validate(d *Descriptor) error {
	if !knownStrategies[d.Strategy] {
		return fmt.Errorf(
			"%w: site %q declares unknown strategy %q",
			ErrConfiguration, d.Id, d.Strategy,
		)
	}
	switch d.Strategy {
	case StrategyApi:
		if d.Endpoint == "" {
			return fmt.Errorf("%w: site %q has no endpoint", ErrConfiguration, d.Id)
		}
	case StrategyRenderedPage:
		if d.PageUrl == "" {
			return fmt.Errorf("%w: site %q has no page_url", ErrConfiguration, d.Id)
		}
	case StrategyMultiFile:
		if len(d.Files) == 0 {
			return fmt.Errorf("%w: site %q has no files", ErrConfiguration, d.Id)
		}
		if d.JoinKey == "" {
			return fmt.Errorf("%w: site %q has no join_key", ErrConfiguration, d.Id)
		}
	case StrategyArchive:
		if d.Archive == nil || d.Archive.TargetFile == "" || d.Archive.Sheet == "" {
			return fmt.Errorf(
				"%w: site %q needs archive target_file and sheet",
				ErrConfiguration, d.Id,
			)
		}
		if d.Endpoint == "" {
			return fmt.Errorf("%w: site %q has no endpoint", ErrConfiguration, d.Id)
		}
	case StrategyAsyncJob:
		if d.Job == nil || d.Job.SubmitUrl == "" || d.Job.StatusUrl == "" || d.Job.ResultUrl == "" {
			return fmt.Errorf(
				"%w: site %q needs job submit/status/result urls",
				ErrConfiguration, d.Id,
			)
		}
	}
	for _, fallback := range d.Fallbacks {
		if _, ok := r.sites[fallback]; !ok {
			return fmt.Errorf(
				"%w: site %q lists unknown fallback %q",
				ErrConfiguration, d.Id, fallback,
			)
		}
	}
	return nil
}

// checkFallbackCycles rejects registries whose fallback graph loops. The
// check runs at load time so call-time chain walking never has to guard
// against revisiting a source.
func (r *Registry) checkFallbackCycles() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf(
				"%w: fallback chain cycles back through %q",
				ErrConfiguration, id,
			)
		case done:
			return nil
		}
		state[id] = visiting
		for _, next := range r.sites[id].Fallbacks {
			err := visit(next)
			if err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range r.order {
		err := visit(id)
		if err != nil {
			return err
		}
	}
	return nil
}

// Get resolves a site id, suggesting the closest known id on a miss.
func (r *Registry) Get(id string) (*Descriptor, error) {
	d, ok := r.sites[id]
	if ok {
		return d, nil
	}

	var bestId string
	var bestScore float64
	for _, known := range r.order {
		score := matchr.JaroWinkler(id, known, false)
		if score > bestScore {
			bestScore = score
			bestId = known
		}
	}
	if bestScore > 0.8 {
		return nil, fmt.Errorf(
			"%w: unknown site %q (did you mean %q?)",
			ErrConfiguration, id, bestId,
		)
	}
	return nil, fmt.Errorf("%w: unknown site %q", ErrConfiguration, id)
}

// FindByUrl resolves the site whose page or base url covers rawUrl. The
// most specific match wins when several sites share a host.
func (r *Registry) FindByUrl(rawUrl string) (*Descriptor, error) {
	var best *Descriptor
	bestLen := 0
	for _, id := range r.order {
		d := r.sites[id]
		for _, prefix := range []string{d.PageUrl, d.BaseUrl} {
			if prefix == "" || !strings.HasPrefix(rawUrl, prefix) {
				continue
			}
			if len(prefix) > bestLen {
				best = d
				bestLen = len(prefix)
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no configured site covers %s", ErrConfiguration, rawUrl)
	}
	return best, nil
}

func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sites[id])
	}
	return out
}
