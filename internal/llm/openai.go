package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/iyulab/threat-forecaster/internal/config"
)

// OpenAIProvider talks to OpenAI, Azure OpenAI and OpenAI-compatible local
// servers such as Ollama.
type OpenAIProvider struct {
	client      openai.Client
	name        string
	model       string
	temperature float64
	maxTokens   int64
	schema      map[string]interface{}
}

func newOpenAI(cfg config.LLMConfig, baseURL, apiKey string, maxTokens int64, hc *http.Client) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		name:        cfg.Provider,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// newAzure targets a deployment; cfg.Model names the deployment.
func newAzure(cfg config.LLMConfig, apiVersion string, maxTokens int64, hc *http.Client) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(
			azure.WithEndpoint(cfg.Endpoint, apiVersion),
			azure.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(hc),
			option.WithMaxRetries(0),
		),
		name:        "azure",
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// SetFormat requests json_schema structured output. Without a schema the
// provider still asks for a JSON object.
func (p *OpenAIProvider) SetFormat(schema map[string]interface{}) {
	p.schema = schema
}

func (p *OpenAIProvider) Complete(ctx context.Context, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(p.maxTokens),
	}
	if p.schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "threat_forecast",
					Schema: p.schema,
					Strict: openai.Bool(false),
				},
			},
		}
	} else {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}
