package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrMaxIterations is returned when the loop hits its iteration cap before the model finishes.
var ErrMaxIterations = errors.New("max iterations reached")

// ErrStopped is returned when a stop was requested between iterations.
var ErrStopped = errors.New("stop requested")

// StopChecker reports whether a graceful stop has been requested.
type StopChecker interface {
	ShouldStop() bool
}

// StreamEvent represents an event during agent execution for streaming to UI.
type StreamEvent struct {
	Type    string // "text", "tool_use", "tool_result", "done", "error"
	Content string
	Tool    ToolKind
	Input   json.RawMessage
}

// LoopResult contains the results of an agent loop execution.
type LoopResult struct {
	Output       string
	TokensIn     int64
	TokensOut    int64
	ToolCalls    int
	Rejected     int // tool calls with an unknown or disallowed name
	Iterations   int
	Stopped      bool
	FilesWritten []string
}

// AgentLoop manages the API call and tool execution cycle.
type AgentLoop struct {
	messenger     Messenger
	executor      *ToolExecutor
	stop          StopChecker
	onStream      func(StreamEvent)
	maxIterations int
}

// AgentLoopConfig contains configuration for the agent loop.
type AgentLoopConfig struct {
	Messenger Messenger
	// Executor runs tool calls. Its allowed set is also advertised to the model.
	Executor *ToolExecutor
	// Stop, if set, is checked before every API call.
	Stop StopChecker
	// MaxIterations caps API calls. Zero uses 40.
	MaxIterations int
}

// NewAgentLoop creates a new agent loop with the given configuration.
func NewAgentLoop(cfg AgentLoopConfig) *AgentLoop {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 40
	}
	return &AgentLoop{
		messenger:     cfg.Messenger,
		executor:      cfg.Executor,
		stop:          cfg.Stop,
		maxIterations: maxIter,
	}
}

// SetStreamHandler sets a callback for streaming events during execution.
func (l *AgentLoop) SetStreamHandler(fn func(StreamEvent)) {
	l.onStream = fn
}

func (l *AgentLoop) emit(event StreamEvent) {
	if l.onStream != nil {
		l.onStream(event)
	}
}

func (l *AgentLoop) advertisedTools() []anthropic.ToolUnionParam {
	var kinds []ToolKind
	for _, k := range AllTools {
		if l.executor.Allowed(k) {
			kinds = append(kinds, k)
		}
	}
	return ToolDefinitions(kinds...)
}

// Run executes the agent loop until the model ends its turn, the iteration
// cap is reached, a stop is requested, or an API call fails. The result is
// always non-nil and carries the files written so far.
func (l *AgentLoop) Run(ctx context.Context, systemPrompt, userPrompt string) (*LoopResult, error) {
	result := &LoopResult{}
	defer func() { result.FilesWritten = l.executor.Written() }()

	tools := l.advertisedTools()
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
	}

	for result.Iterations < l.maxIterations {
		if l.stop != nil && l.stop.ShouldStop() {
			result.Stopped = true
			return result, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations++

		resp, err := l.messenger.Send(ctx, anthropic.MessageNewParams{
			System:   []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			l.emit(StreamEvent{Type: "error", Content: err.Error()})
			return result, fmt.Errorf("agent iteration %d: %w", result.Iterations, err)
		}
		result.TokensIn += resp.Usage.InputTokens
		result.TokensOut += resp.Usage.OutputTokens

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var text strings.Builder

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(variant.Text)
				l.emit(StreamEvent{Type: "text", Content: variant.Text})
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				result.ToolCalls++
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))

				toolResult := l.dispatchTool(ctx, variant, result)
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, toolResult.Content, toolResult.IsError))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn || len(toolResultBlocks) == 0 {
			result.Output = text.String()
			l.emit(StreamEvent{Type: "done"})
			return result, nil
		}

		messages = append(messages,
			anthropic.NewAssistantMessage(assistantBlocks...),
			anthropic.NewUserMessage(toolResultBlocks...))
	}

	return result, fmt.Errorf("%w (%d)", ErrMaxIterations, l.maxIterations)
}

// dispatchTool parses the wire name once and rejects unknown or disallowed
// tools before anything executes.
func (l *AgentLoop) dispatchTool(ctx context.Context, call anthropic.ToolUseBlock, result *LoopResult) ToolResult {
	kind, err := ParseToolKind(call.Name)
	if err != nil || !l.executor.Allowed(kind) {
		result.Rejected++
		msg := fmt.Sprintf("Tool not available: %s", call.Name)
		l.emit(StreamEvent{Type: "error", Content: msg})
		return ToolResult{Content: msg, IsError: true}
	}

	l.emit(StreamEvent{Type: "tool_use", Tool: kind, Input: call.Input, Content: FormatToolAction(kind, call.Input)})
	res := l.executor.Execute(ctx, kind, call.Input)
	l.emit(StreamEvent{Type: "tool_result", Tool: kind, Content: truncateForDisplay(res.Content)})
	return res
}

func truncateForDisplay(s string) string {
	if len(s) > 500 {
		return s[:500] + "..."
	}
	return s
}
