package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrNoJSON is returned when a response contains no JSON value.
var ErrNoJSON = errors.New("no JSON found in response")

// Runner provides text-in/text-out calls without tools.
// Planners use it for analysis prompts.
type Runner struct {
	messenger Messenger
}

// NewRunner creates a new API runner.
func NewRunner(m Messenger) *Runner {
	return &Runner{messenger: m}
}

// SimpleCall executes a prompt with a system message and returns the text response.
func (r *Runner) SimpleCall(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := r.messenger.Send(ctx, params)
	if err != nil {
		return "", err
	}
	return extractText(resp), nil
}

// RunJSON executes a prompt and decodes the JSON value in the response into target.
func (r *Runner) RunJSON(ctx context.Context, systemPrompt, userPrompt string, target interface{}) error {
	response, err := r.SimpleCall(ctx, systemPrompt, userPrompt)
	if err != nil {
		return err
	}

	raw, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("parse JSON: %w (response: %s)", err, truncate(raw, 200))
	}
	return nil
}

// ExtractJSON returns the JSON value embedded in a model response.
// A ```json fenced block wins; otherwise the outermost object or array is used.
func ExtractJSON(response string) (string, error) {
	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			if candidate := strings.TrimSpace(body[:end]); json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
	}

	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return "", fmt.Errorf("%w: %s", ErrNoJSON, truncate(response, 200))
	}
	closer := byte('}')
	if response[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(response, closer)
	if end <= start {
		return "", fmt.Errorf("%w: %s", ErrNoJSON, truncate(response, 200))
	}
	return response[start : end+1], nil
}

func extractText(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
