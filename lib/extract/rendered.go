package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"datafetch-backend/lib/htmlutil"
	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// renderedStrategy loads the page in a real browser so client-side
// rendering finishes before extraction. When the descriptor carries a
// script, the script's JSON result is the payload; otherwise the largest
// table in the rendered markup is.
type renderedStrategy struct {
	deps Deps
}

func (s *renderedStrategy) FetchRaw(ctx context.Context, d *sites.Descriptor) (*RawPayload, error) {
	ctx, span := tracer.Start(ctx, "rendered.FetchRaw")
	defer span.End()
	span.SetAttributes(attribute.String("source.id", d.Id))

	if s.deps.Renderer == nil {
		return nil, fmt.Errorf(
			"%w: source %s needs a browser renderer and none is configured",
			sites.ErrConfiguration, d.Id,
		)
	}

	err := s.deps.Limiter.Acquire(ctx, d.Id, d.RateInterval())
	if err != nil {
		return nil, err
	}

	result, err := s.deps.Renderer.Render(ctx, d.PageUrl, d.Script)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: rendering %s: %s", ErrTransient, d.PageUrl, err)
	}

	payload := &RawPayload{FetchedAt: time.Now()}
	if len(result.ScriptResult) > 0 {
		payload.Body = result.ScriptResult
		payload.ScriptResult = true
	} else {
		payload.Body = []byte(result.Html)
	}
	payload.Checksum = tabular.Checksum(payload.Body)
	return payload, nil
}

func (s *renderedStrategy) Parse(d *sites.Descriptor, raw *RawPayload) (*tabular.Table, error) {
	if raw.ScriptResult {
		if !gjson.ValidBytes(raw.Body) {
			return nil, fmt.Errorf("source %s page script returned invalid json", d.Id)
		}
		data := gjson.ParseBytes(raw.Body)
		if d.DataPath != "" {
			data = data.Get(d.DataPath)
		}
		if !data.IsArray() {
			return nil, fmt.Errorf("source %s page script did not return an array", d.Id)
		}
		return rowsFromJson(d, data)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw.Body)))
	if err != nil {
		return nil, fmt.Errorf("parsing rendered page for %s: %w", d.Id, err)
	}

	grid := htmlutil.BiggestTable(doc)
	if len(grid) == 0 {
		return nil, fmt.Errorf("rendered page for %s contains no table", d.Id)
	}
	return rowsFromGrid(d, grid)
}
