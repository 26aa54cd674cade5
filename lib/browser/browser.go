// Package browser renders pages in headless chromium for sources whose
// data only exists after client-side rendering.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"datafetch-backend/lib/extract"

	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/browser")

const renderTimeout = time.Second * 45

type Browser struct {
	userAgent string
	headless  bool
}

func New(userAgent string, headless bool) *Browser {
	return &Browser{
		userAgent: userAgent,
		headless:  headless,
	}
}

// Render navigates to pageUrl, waits for the document body, and returns
// the rendered markup. When script is non-empty it is evaluated in page
// context and its JSON-encoded result is returned alongside the markup.
func (b *Browser) Render(ctx context.Context, pageUrl, script string) (*extract.RenderResult, error) {
	ctx, span := tracer.Start(ctx, "Render")
	defer span.End()
	span.SetAttributes(attribute.String("page.url", pageUrl))

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.UserAgent(b.userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, renderTimeout)
	defer cancelTimeout()

	var pageHtml string
	var scriptResult json.RawMessage

	actions := []chromedp.Action{
		chromedp.Navigate(pageUrl),
		chromedp.WaitReady("body"),
	}
	if script != "" {
		actions = append(actions, chromedp.Evaluate(script, &scriptResult))
	}
	actions = append(actions, chromedp.OuterHTML("html", &pageHtml))

	err := chromedp.Run(browserCtx, actions...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("rendering %s: %w", pageUrl, err)
	}

	return &extract.RenderResult{
		Html:         pageHtml,
		ScriptResult: scriptResult,
	}, nil
}
