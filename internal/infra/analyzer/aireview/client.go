package aireview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/cloudsense/internal/domain/analyzer"
	"github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

const (
	maxTokens       = 2048
	maxSnippetChars = 8000
)

// Client reviews changed files with an OpenAI chat model and normalizes the
// response into findings tagged tool=ai.
type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

func (*Client) Name() string { return reviews.ToolAI }

// response schema the model is instructed to emit
type modelResponse struct {
	Findings []struct {
		File      string `json:"file"`
		Severity  string `json:"severity"`
		Title     string `json:"title"`
		Rationale string `json:"rationale"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
		Patch     string `json:"patch"`
	} `json:"findings"`
}

// Analyze reviews each changed file independently. A file whose model call
// fails does not abort the rest; the findings gathered so far are returned
// alongside the joined per-file errors.
func (c *Client) Analyze(ctx context.Context, in analyzer.Input) ([]reviews.Finding, error) {
	var (
		out      []reviews.Finding
		fileErrs []error
	)
	for _, f := range in.Files {
		snippet := f.Content
		if snippet == "" {
			snippet = f.Patch
		}
		if snippet == "" {
			continue
		}
		if len(snippet) > maxSnippetChars {
			snippet = snippet[:maxSnippetChars]
		}

		fs, err := c.reviewFile(ctx, in.RepoFullName, f.Path, snippet)
		if err != nil {
			fileErrs = append(fileErrs, fmt.Errorf("reviewing %s: %w", f.Path, err))
			continue
		}
		out = append(out, fs...)
	}
	return out, errors.Join(fileErrs...)
}

func (c *Client) reviewFile(ctx context.Context, repo, path, snippet string) ([]reviews.Finding, error) {
	model := c.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(repo, path, snippet)},
		},
	}
	// Reasoning models (o1/o3/o4/gpt-5*) take MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var parsed modelResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("decoding model response: %w", err)
	}

	out := make([]reviews.Finding, 0, len(parsed.Findings))
	for _, f := range parsed.Findings {
		finding := reviews.Finding{
			File:      f.File,
			Severity:  normalizeSeverity(f.Severity),
			Title:     f.Title,
			Rationale: f.Rationale,
			StartLine: f.StartLine,
			EndLine:   f.EndLine,
			Patch:     f.Patch,
			Tool:      reviews.ToolAI,
		}
		if finding.File == "" {
			finding.File = path
		}
		if finding.Title == "" {
			finding.Title = "AI suggestion"
		}
		out = append(out, finding)
	}
	return out, nil
}

func normalizeSeverity(s string) reviews.Severity {
	switch strings.ToLower(s) {
	case "high", "critical":
		return reviews.SeverityHigh
	case "medium":
		return reviews.SeverityMedium
	case "low":
		return reviews.SeverityLow
	default:
		return reviews.SeverityInfo
	}
}
