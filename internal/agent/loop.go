package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/jedisos/internal/envelope"
	"github.com/nextlevelbuilder/jedisos/internal/llm"
	"github.com/nextlevelbuilder/jedisos/internal/policy"
	"github.com/nextlevelbuilder/jedisos/internal/providers"
	"github.com/nextlevelbuilder/jedisos/internal/session"
	"github.com/nextlevelbuilder/jedisos/internal/tools"
)

// Submit admits the envelope and processes it on a new goroutine. The
// returned stream carries tokens, tool events, and exactly one terminal
// event (done or error); it is attached to the hub for the duration so
// background notifications reach this connection too.
func (e *Engine) Submit(ctx context.Context, env *envelope.Envelope) *session.Stream {
	stream := session.NewStream()
	e.hub.Attach(env.UserID, stream)

	go func() {
		defer func() {
			e.hub.Detach(env.UserID, stream)
			stream.Close()
		}()
		e.process(ctx, env, stream)
	}()

	return stream
}

func (e *Engine) process(ctx context.Context, env *envelope.Envelope, stream *session.Stream) {
	ctx, span := e.tracer.Start(ctx, "agent.run")
	span.SetAttributes(
		attribute.String("envelope.id", env.ID.String()),
		attribute.String("envelope.channel", string(env.Channel)),
	)
	defer span.End()

	// Admission.
	verdict := e.pdp.EvaluateRequest(policy.Input{
		EnvelopeID: env.ID,
		UserID:     env.UserID,
		Channel:    string(env.Channel),
	})
	if !verdict.Allow {
		if err := env.Deny(verdict.Reason); err != nil {
			e.failInternal(ctx, env, stream, err)
			return
		}
		stream.Publish(ctx, session.Event{Type: session.EventError, Kind: KindPolicyDenied, Message: verdict.Reason})
		return
	}
	if err := env.Transition(envelope.StateAuthorized); err != nil {
		e.failInternal(ctx, env, stream, err)
		return
	}
	if err := env.Transition(envelope.StateProcessing); err != nil {
		e.failInternal(ctx, env, stream, err)
		return
	}

	final, err := e.runLoop(ctx, env, stream)
	if err != nil {
		e.fail(ctx, env, stream, err)
		return
	}

	if err := env.Complete(final); err != nil {
		e.failInternal(ctx, env, stream, err)
		return
	}
	e.retain(env, final)
	stream.Publish(ctx, session.Event{Type: session.EventDone, Response: final})
}

// runLoop is the reason/act cycle. It returns the final assistant content.
func (e *Engine) runLoop(ctx context.Context, env *envelope.Envelope, stream *session.Stream) (string, error) {
	messages := e.assemblePrompt(ctx, env)

	var turn []providers.Message // messages accumulated this run, flushed to history at the end
	toolCallCount := 0
	forged := false
	var finalContent string

	for {
		// One registry snapshot per iteration: a mid-iteration mutation must
		// not surprise the model between schema listing and dispatch.
		snapshot := e.registry.Snapshot()
		var toolDefs []providers.ToolDefinition
		for _, def := range e.registry.SchemasForLLM() {
			if _, ok := snapshot[def.Function.Name]; ok {
				toolDefs = append(toolDefs, def)
			}
		}
		if e.forge != nil {
			toolDefs = append(toolDefs, createToolDefinition())
		}

		resp, err := e.reason(ctx, stream, messages, toolDefs)
		if err != nil {
			return "", err
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantMsg)
		turn = append(turn, assistantMsg)

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		// When the budget is already spent, every call below gets a
		// limit-reached result (providers require a result per emitted call)
		// and the loop halts with whatever this response produced.
		limitReached := toolCallCount >= e.maxIterations

		if err := env.Transition(envelope.StateToolCalling); err != nil {
			return "", err
		}

		for _, tc := range resp.ToolCalls {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			var result string
			if toolCallCount >= e.maxIterations {
				result = "Tool call limit reached for this request; answer with what you have."
			} else {
				toolCallCount++
				result = e.dispatch(ctx, env, stream, snapshot, tc, &forged)
			}
			toolMsg := providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolMsg)
			turn = append(turn, toolMsg)
		}

		if err := env.Transition(envelope.StateProcessing); err != nil {
			return "", err
		}

		if limitReached {
			// A model that keeps emitting tool calls halts cleanly with
			// whatever its last response produced.
			slog.Warn("agent: iteration bound reached", "envelope", env.ID, "tool_calls", toolCallCount)
			finalContent = resp.Content
			break
		}
	}

	if finalContent == "" {
		finalContent = "..."
	}
	if turn[len(turn)-1].Content != finalContent {
		turn = append(turn, providers.Message{Role: "assistant", Content: finalContent})
	}

	// Flush the turn to history in one append so concurrent requests on the
	// same conversation never interleave partial turns.
	flush := append([]providers.Message{{Role: "user", Content: env.Content}}, turn...)
	e.history.Append(env.ConversationID, flush...)

	return finalContent, nil
}

// reason makes one model call, forwarding tokens to the stream as they
// arrive. Tool calls surface only after the step's stream completes.
func (e *Engine) reason(ctx context.Context, stream *session.Stream, messages []providers.Message, toolDefs []providers.ToolDefinition) (*providers.ChatResponse, error) {
	res, err := e.router.Chat(ctx, llm.Request{
		Messages: messages,
		Tools:    toolDefs,
		Stream:   true,
		OnChunk: func(chunk providers.StreamChunk) {
			if chunk.Content != "" {
				stream.Publish(ctx, session.Event{Type: session.EventStream, Content: chunk.Content})
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// dispatch runs one tool call: policy check, lookup, argument validation,
// timed invocation. Every failure mode becomes the tool result text the
// model reads on its next reason step.
func (e *Engine) dispatch(ctx context.Context, env *envelope.Envelope, stream *session.Stream, snapshot map[string]*tools.Handle, tc providers.ToolCall, forged *bool) string {
	ctx, span := e.tracer.Start(ctx, "agent.tool")
	span.SetAttributes(attribute.String("tool.name", tc.Name))
	defer span.End()

	stream.Publish(ctx, session.Event{Type: session.EventToolStart, Tool: tc.Name})

	record := envelope.ToolCall{Name: tc.Name, Arguments: tc.Arguments}
	result, isErr := e.invokeTool(ctx, env, snapshot, tc, forged)
	if isErr {
		record.Error = result
	} else {
		record.Result = result
	}
	env.RecordToolCall(record)

	stream.Publish(ctx, session.Event{Type: session.EventToolEnd, Tool: tc.Name, IsError: isErr})
	return result
}

func (e *Engine) invokeTool(ctx context.Context, env *envelope.Envelope, snapshot map[string]*tools.Handle, tc providers.ToolCall, forged *bool) (string, bool) {
	verdict := e.pdp.EvaluateTool(policy.Input{
		EnvelopeID: env.ID,
		UserID:     env.UserID,
		Channel:    string(env.Channel),
		Subject:    tc.Name,
	})
	if !verdict.Allow {
		slog.Info("agent: tool denied", "envelope", env.ID, "tool", tc.Name, "reason", verdict.Reason)
		return fmt.Sprintf("Tool call denied by policy: %s", verdict.Reason), true
	}

	if tc.Name == CreateToolName && e.forge != nil {
		return e.triggerForge(env, tc, forged)
	}

	handle, ok := snapshot[tc.Name]
	if !ok {
		return fmt.Sprintf("Unknown tool %q. Available tools are listed in your tool schema.", tc.Name), true
	}

	if err := tools.ValidateArgs(handle, tc.Arguments); err != nil {
		return "Invalid arguments: " + err.Error(), true
	}

	callCtx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	start := time.Now()
	out, err := handle.Invoke(callCtx, tc.Arguments)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("agent: tool timed out", "tool", tc.Name, "timeout", e.toolTimeout)
			return fmt.Sprintf("Tool %s timed out after %s.", tc.Name, e.toolTimeout), true
		}
		slog.Warn("agent: tool failed", "tool", tc.Name, "error", err)
		return "Tool error: " + err.Error(), true
	}
	slog.Info("agent: tool call", "envelope", env.ID, "tool", tc.Name, "duration", time.Since(start).Round(time.Millisecond))
	return out, false
}

// triggerForge starts one asynchronous forge attempt for this request and
// answers the model immediately; the completion notification arrives through
// the session hub.
func (e *Engine) triggerForge(env *envelope.Envelope, tc providers.ToolCall, forged *bool) (string, bool) {
	if *forged {
		return "A tool is already being created for this request; wait for the notification.", true
	}
	*forged = true

	need, _ := tc.Arguments["need"].(string)
	if need == "" {
		need = env.Content
	}
	// The forge outlives this request by design: cancelling the request must
	// not cancel the build.
	go e.forge.Build(context.Background(), need, env.UserID)

	slog.Info("agent: forge triggered", "envelope", env.ID, "user", env.UserID)
	return "Working on it — I'm building that tool now and will notify you when it's ready.", false
}

// assemblePrompt builds the message list for the first reason step: identity
// text, recalled memory context, conversation history, current utterance.
func (e *Engine) assemblePrompt(ctx context.Context, env *envelope.Envelope) []providers.Message {
	var messages []providers.Message
	if persona := e.persona(); persona != "" {
		messages = append(messages, providers.Message{Role: "system", Content: persona})
	}

	if memCtx := e.recall(ctx, env); memCtx != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: "Relevant memories about this user:\n" + memCtx,
		})
	}

	messages = append(messages, e.history.Get(env.ConversationID)...)
	messages = append(messages, providers.Message{Role: "user", Content: env.Content})
	return messages
}

// recall queries the memory service; failure degrades to an empty context.
func (e *Engine) recall(ctx context.Context, env *envelope.Envelope) string {
	if e.memory == nil {
		return ""
	}
	memCtx, err := e.memory.Recall(ctx, env.BankID(), env.Content)
	if err != nil {
		slog.Warn("agent: memory recall failed, continuing with empty context",
			"envelope", env.ID, "bank", env.BankID(), "error", err)
		return ""
	}

	records := make([]envelope.MemoryRecord, 0, len(memCtx.Records))
	var sb strings.Builder
	for _, r := range memCtx.Records {
		records = append(records, envelope.MemoryRecord{ID: r.ID, Content: r.Content, Score: r.Score})
		sb.WriteString("- ")
		sb.WriteString(r.Content)
		sb.WriteByte('\n')
	}
	env.AttachMemory(records)
	if memCtx.Summary != "" {
		return memCtx.Summary + "\n" + strings.TrimSpace(sb.String())
	}
	return strings.TrimSpace(sb.String())
}

// retain stores the completed turn; failure is a warning, never fatal.
func (e *Engine) retain(env *envelope.Envelope, final string) {
	if e.memory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	content := fmt.Sprintf("User: %s\nAssistant: %s", env.Content, final)
	if _, err := e.memory.Retain(ctx, env.BankID(), content, "conversation turn"); err != nil {
		slog.Warn("agent: memory retain failed", "envelope", env.ID, "bank", env.BankID(), "error", err)
	}
}

// fail terminates the request: failed state, error populated, one terminal
// error event with a stable kind tag.
func (e *Engine) fail(ctx context.Context, env *envelope.Envelope, stream *session.Stream, cause error) {
	kind := KindInternal
	message := cause.Error()
	if errors.Is(cause, llm.ErrExhausted) {
		kind = KindLLMError
		message = "all language-model providers failed"
	} else if errors.Is(cause, context.Canceled) {
		message = "request cancelled"
	}

	if err := env.Fail(message); err != nil {
		slog.Error("agent: envelope fail transition rejected", "envelope", env.ID, "state", env.State(), "cause", cause, "error", err)
	}
	slog.Error("agent: request failed", "envelope", env.ID, "kind", kind, "error", cause)
	stream.Publish(context.WithoutCancel(ctx), session.Event{Type: session.EventError, Kind: kind, Message: message})
}

// failInternal handles invalid-transition programming errors caught at the
// outer boundary: log with full context and fail the request.
func (e *Engine) failInternal(ctx context.Context, env *envelope.Envelope, stream *session.Stream, err error) {
	slog.Error("agent: invalid envelope handling", "envelope", env.ID, "state", env.State(), "error", err)
	if !env.Terminal() {
		e.fail(ctx, env, stream, err)
		return
	}
	stream.Publish(context.WithoutCancel(ctx), session.Event{Type: session.EventError, Kind: KindInternal, Message: err.Error()})
}

// createToolDefinition is the schema for the forge trigger.
func createToolDefinition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        CreateToolName,
			Description: "Create a new tool when the user needs a capability you don't have. Describe the need; the tool is built in the background and the user is notified when it is ready.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"need": map[string]any{
						"type":        "string",
						"description": "Plain-language description of what the tool must do.",
					},
				},
				"required": []any{"need"},
			},
		},
	}
}
