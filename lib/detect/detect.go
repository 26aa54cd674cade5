// Package detect drafts source descriptors from sample payloads. It is a
// setup-time assistant, nothing in the extraction path depends on it.
package detect

import (
	"context"
	"encoding/json"
	"fmt"

	"datafetch-backend/lib/sites"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are configuring a data extraction tool.
Given a sample payload from a data source, respond with JSON only:
{
  "strategy": one of "api", "rendered_page", "multi_file", "archive", "async_job",
  "data_path": dot-separated path to the array of records, or "",
  "fields": [
    {
      "remote": field name as it appears in the payload,
      "canonical": snake_case name for the field,
      "kind": one of "string", "number", "time",
      "required": boolean
    }
  ]
}
Prefer "api" for JSON payloads and "rendered_page" for HTML.
Mark timestamp-like fields as kind "time" and value fields as "number".`

// Proposal is a draft descriptor fragment for an operator to review. It is
// never trusted blindly, the registry validates whatever they save.
type Proposal struct {
	Strategy string               `json:"strategy"`
	DataPath string               `json:"data_path"`
	Fields   []sites.FieldMapping `json:"fields"`
}

type Detector struct {
	client *openai.Client
	model  string
}

func New(apiKey string) *Detector {
	return &Detector{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

// Propose asks the model to draft strategy, data path and field mappings
// for a captured sample payload.
func (d *Detector) Propose(ctx context.Context, pageUrl, sample string) (*Proposal, error) {
	// keep the prompt bounded, a few KB of sample is plenty
	if len(sample) > 8192 {
		sample = sample[:8192]
	}

	res, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(
					"Source url: %s\n\nSample payload:\n%s", pageUrl, sample,
				),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("proposing descriptor: %w", err)
	}
	if len(res.Choices) == 0 {
		return nil, fmt.Errorf("proposing descriptor: empty completion")
	}

	var proposal Proposal
	err = json.Unmarshal([]byte(res.Choices[0].Message.Content), &proposal)
	if err != nil {
		return nil, fmt.Errorf("parsing proposal: %w", err)
	}
	if proposal.Strategy != "" && !isKnownStrategy(proposal.Strategy) {
		return nil, fmt.Errorf("proposal names unknown strategy %q", proposal.Strategy)
	}
	return &proposal, nil
}

func isKnownStrategy(tag string) bool {
	switch tag {
	case sites.StrategyApi, sites.StrategyRenderedPage, sites.StrategyMultiFile,
		sites.StrategyArchive, sites.StrategyAsyncJob:
		return true
	}
	return false
}
