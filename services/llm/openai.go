// Package llm implements flow.Generator over an OpenAI-compatible chat completions API.
package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/flow"
)

type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Generator struct {
	client completer // nil when no api key is configured
	model  string
	logger core.Logger
}

var _ flow.Generator = (*Generator)(nil)

func NewGenerator(conf *core.Config, logger core.Logger) *Generator {
	gen := &Generator{model: conf.AI.Model, logger: logger}
	if key := strings.TrimSpace(conf.AI.APIKey); key != "" {
		clientConf := openai.DefaultConfig(key)
		if conf.AI.BaseURL != "" {
			clientConf.BaseURL = strings.TrimSuffix(conf.AI.BaseURL, "/")
		}
		clientConf.HTTPClient = &http.Client{Timeout: conf.AI.Timeout}
		gen.client = openai.NewClientWithConfig(clientConf)
	}
	return gen
}

func (g *Generator) Generate(ctx context.Context, p flow.Prompt) (string, error) {
	if g.client == nil {
		return "", flow.NewError(flow.KindMissingCredential, errors.New("ai api key is not configured"))
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.7,
	})
	if err != nil {
		ferr := classify(err)
		if ferr.Kind == flow.KindUnavailable {
			g.logger.Error("generating content: "+err.Error(), err)
		}
		return "", ferr
	}
	if len(resp.Choices) == 0 {
		return "", flow.NewError(flow.KindInvalidOutput, errors.New("no completion choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps api errors to flow error kinds by HTTP status.
func classify(err error) *flow.Error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return flow.NewError(flow.KindInvalidCredential, err)
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return flow.NewError(flow.KindQuotaExceeded, err)
	}
	return flow.NewError(flow.KindUnavailable, err)
}
