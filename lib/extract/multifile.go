package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// multiFileStrategy downloads several delimited files from one source and
// outer-joins them on a shared key column. Sources that publish one file
// per metric end up as a single wide table.
type multiFileStrategy struct {
	deps Deps
}

func (s *multiFileStrategy) FetchRaw(ctx context.Context, d *sites.Descriptor) (*RawPayload, error) {
	ctx, span := tracer.Start(ctx, "multifile.FetchRaw")
	defer span.End()
	span.SetAttributes(
		attribute.String("source.id", d.Id),
		attribute.Int("source.files", len(d.Files)),
	)

	payload := &RawPayload{FetchedAt: time.Now()}
	var checksumInput []byte

	for _, file := range d.Files {
		// each file download spends its own token
		err := s.deps.Limiter.Acquire(ctx, d.Id, d.RateInterval())
		if err != nil {
			return nil, err
		}

		fileUrl := resolveUrl(d.BaseUrl, file.Url)
		res, err := s.deps.Http.R().
			SetContext(ctx).
			Get(fileUrl)
		err = checkResponse(s.deps, d, res, err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("downloading %s: %w", fileUrl, err)
		}

		payload.Parts = append(payload.Parts, FilePart{
			Url:  fileUrl,
			Body: res.Body(),
		})
		checksumInput = append(checksumInput, res.Body()...)
	}

	payload.Checksum = tabular.Checksum(checksumInput)
	return payload, nil
}

func (s *multiFileStrategy) Parse(d *sites.Descriptor, raw *RawPayload) (*tabular.Table, error) {
	if len(raw.Parts) != len(d.Files) {
		return nil, fmt.Errorf(
			"source %s: got %d files, descriptor lists %d",
			d.Id, len(raw.Parts), len(d.Files),
		)
	}

	var parsed []*tabular.Table
	for i, part := range raw.Parts {
		grid, err := readDelimited(part.Body, d.Files[i].Comma)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", part.Url, err)
		}
		table, err := rowsFromGrid(d, grid)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", part.Url, err)
		}
		parsed = append(parsed, table)
	}

	joined, err := tabular.OuterJoin(d.JoinKey, parsed...)
	if err != nil {
		return nil, fmt.Errorf("joining files for %s on %q: %w", d.Id, d.JoinKey, err)
	}
	return joined, nil
}

func readDelimited(body []byte, comma string) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	if comma != "" {
		reader.Comma = rune(comma[0])
	}
	// sources disagree on trailing columns, take rows as they come
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}
