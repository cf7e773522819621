package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// maxToolIterations bounds one message turn; a model that keeps
// requesting tools past this is cut off with an error.
const maxToolIterations = 8

const systemPrompt = `You are a browser automation assistant. You control a real
browser through the provided tools. Use them to inspect and drive web pages on
behalf of the user, then answer concisely with what you found or did.`

type chatAgent struct {
	client  openai.Client
	model   string
	browser Browser
	logger  *zap.Logger

	// history is the running conversation; sessions hold one agent, and
	// the session manager serializes turns, so no lock is needed here.
	history []openai.ChatCompletionMessageParamUnion
}

func newChatAgent(deps Deps) (Agent, error) {
	if deps.Browser == nil {
		return nil, errors.New("chat agent requires a browser bridge")
	}
	if deps.OpenAI.APIKey == "" {
		return nil, errors.New("chat agent requires an OpenAI API key")
	}

	opts := []option.RequestOption{option.WithAPIKey(deps.OpenAI.APIKey)}
	if deps.OpenAI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(deps.OpenAI.BaseURL))
	}

	return &chatAgent{
		client:  openai.NewClient(opts...),
		model:   deps.OpenAI.Model,
		browser: deps.Browser,
		logger:  deps.Logger.Named("agent.chat"),
		history: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
		},
	}, nil
}

// Execute runs one conversational turn, looping on tool calls until
// the model produces a final answer or the iteration budget runs out.
func (a *chatAgent) Execute(ctx context.Context, input string) (string, error) {
	a.history = append(a.history, openai.UserMessage(input))

	for i := 0; i < maxToolIterations; i++ {
		resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(a.model),
			Messages: a.history,
			Tools:    browserTools,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}

		msg := resp.Choices[0].Message
		a.history = append(a.history, msg.ToParam())

		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		for _, call := range msg.ToolCalls {
			result := a.runTool(ctx, call.Function.Name, call.Function.Arguments)
			a.history = append(a.history, openai.ToolMessage(result, call.ID))
		}
	}

	return "", fmt.Errorf("turn exceeded %d tool iterations", maxToolIterations)
}

func (a *chatAgent) Close(context.Context) error {
	a.history = nil
	return nil
}

// runTool executes one browser tool call. Failures are fed back to the
// model as tool output rather than aborting the turn; the model can
// often recover (e.g. by re-checking the tab list).
func (a *chatAgent) runTool(ctx context.Context, name, args string) string {
	a.logger.Debug("tool call",
		zap.String("tool", name),
		zap.String("args", args))

	payload := json.RawMessage(args)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	result, err := a.browser.Execute(ctx, name, payload)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	if len(result) == 0 {
		return "ok"
	}
	return string(result)
}

// browserTools describes the browser command surface to the model. The
// names match the bridge's command router actions one to one.
var browserTools = []openai.ChatCompletionToolParam{
	{
		Function: openai.FunctionDefinitionParam{
			Name:        "navigate",
			Description: openai.String("Navigate the active tab to a URL"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{"type": "string"},
				},
				"required": []string{"url"},
			},
		},
	},
	{
		Function: openai.FunctionDefinitionParam{
			Name:        "screenshot",
			Description: openai.String("Capture a screenshot of the visible viewport"),
			Parameters: openai.FunctionParameters{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	},
	{
		Function: openai.FunctionDefinitionParam{
			Name:        "get_page_text",
			Description: openai.String("Extract the readable text content of the current page"),
			Parameters: openai.FunctionParameters{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	},
	{
		Function: openai.FunctionDefinitionParam{
			Name:        "list_tabs",
			Description: openai.String("List open browser tabs with their ids, titles and URLs"),
			Parameters: openai.FunctionParameters{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	},
	{
		Function: openai.FunctionDefinitionParam{
			Name:        "click",
			Description: openai.String("Click the element matching a CSS selector"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"selector": map[string]any{"type": "string"},
				},
				"required": []string{"selector"},
			},
		},
	},
	{
		Function: openai.FunctionDefinitionParam{
			Name:        "type_text",
			Description: openai.String("Type text into the element matching a CSS selector"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"selector": map[string]any{"type": "string"},
					"text":     map[string]any{"type": "string"},
				},
				"required": []string{"selector", "text"},
			},
		},
	},
}
