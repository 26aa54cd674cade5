package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"

	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// archiveStrategy downloads a zip archive and extracts one spreadsheet
// from inside it. Statistical agencies love publishing this way.
type archiveStrategy struct {
	deps Deps
}

func (s *archiveStrategy) FetchRaw(ctx context.Context, d *sites.Descriptor) (*RawPayload, error) {
	ctx, span := tracer.Start(ctx, "archive.FetchRaw")
	defer span.End()
	span.SetAttributes(attribute.String("source.id", d.Id))

	err := s.deps.Limiter.Acquire(ctx, d.Id, d.RateInterval())
	if err != nil {
		return nil, err
	}

	archiveUrl := resolveUrl(d.BaseUrl, d.Endpoint)
	res, err := s.deps.Http.R().
		SetContext(ctx).
		Get(archiveUrl)
	err = checkResponse(s.deps, d, res, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("downloading %s: %w", archiveUrl, err)
	}

	body := res.Body()
	return &RawPayload{
		Body:      body,
		FetchedAt: time.Now(),
		Checksum:  tabular.Checksum(body),
	}, nil
}

func (s *archiveStrategy) Parse(d *sites.Descriptor, raw *RawPayload) (*tabular.Table, error) {
	archive, err := zip.NewReader(bytes.NewReader(raw.Body), int64(len(raw.Body)))
	if err != nil {
		return nil, fmt.Errorf("source %s did not return a zip archive: %w", d.Id, err)
	}

	target, err := findArchiveFile(archive, d.Archive.TargetFile)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", d.Id, err)
	}

	book, err := excelize.OpenReader(bytes.NewReader(target))
	if err != nil {
		return nil, fmt.Errorf("source %s: opening %s: %w", d.Id, d.Archive.TargetFile, err)
	}
	defer book.Close()

	grid, err := book.GetRows(d.Archive.Sheet)
	if err != nil {
		return nil, fmt.Errorf(
			"source %s: workbook has no sheet %q: %w", d.Id, d.Archive.Sheet, err,
		)
	}

	return rowsFromGrid(d, grid)
}

func findArchiveFile(archive *zip.Reader, name string) ([]byte, error) {
	for _, file := range archive.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s inside archive: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("archive does not contain %q", name)
}
