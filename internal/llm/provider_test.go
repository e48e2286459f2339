package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iyulab/threat-forecaster/internal/config"
)

var testSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"forecast_horizon_weeks": map[string]interface{}{"type": "integer"},
	},
}

const chatCompletion = `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"forecast_horizon_weeks\":4}"}}]}`

// captureServer records the last request body and answers with body.
func captureServer(t *testing.T, status int, body string, last *map[string]interface{}, path *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if last != nil {
			_ = json.Unmarshal(data, last)
		}
		if path != nil {
			*path = r.URL.String()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider(config.LLMConfig{Provider: "gemini"})
	assert.ErrorContains(t, err, "unsupported provider")

	_, err = NewProvider(config.LLMConfig{Provider: "azure", Model: "m"})
	assert.ErrorContains(t, err, "llm.endpoint")
}

func TestNewProvider_FormatSetters(t *testing.T) {
	for _, name := range []string{"openai", "azure", "ollama", "anthropic"} {
		p, err := NewProvider(config.LLMConfig{Provider: name, Model: "m", Endpoint: "http://localhost:1", APIKey: "k"})
		require.NoError(t, err, name)
		fs, ok := p.(FormatSetter)
		require.True(t, ok, "%s should implement FormatSetter", name)
		fs.SetFormat(testSchema)
		fs.SetFormat(nil)
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var body map[string]interface{}
	var path string
	srv := captureServer(t, http.StatusOK, chatCompletion, &body, &path)

	p, err := newProvider(config.LLMConfig{
		Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini",
		Endpoint: srv.URL + "/v1", Temperature: 0.2, MaxResponseTokens: 500,
	}, srv.Client())
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"forecast_horizon_weeks":4}`, out)

	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, 0.2, body["temperature"])
	assert.Equal(t, float64(500), body["max_tokens"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "user prompt", msgs[1].(map[string]interface{})["content"])
	assert.Equal(t, "json_object", body["response_format"].(map[string]interface{})["type"])
}

func TestOpenAIProvider_SchemaFormat(t *testing.T) {
	var body map[string]interface{}
	srv := captureServer(t, http.StatusOK, chatCompletion, &body, nil)

	p, err := newProvider(config.LLMConfig{Provider: "openai", Model: "m", Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)
	p.(FormatSetter).SetFormat(testSchema)

	_, err = p.Complete(context.Background(), "s", "u")
	require.NoError(t, err)

	rf := body["response_format"].(map[string]interface{})
	assert.Equal(t, "json_schema", rf["type"])
	js := rf["json_schema"].(map[string]interface{})
	assert.Equal(t, "threat_forecast", js["name"])
	assert.Equal(t, "object", js["schema"].(map[string]interface{})["type"])
}

func TestOpenAIProvider_Ollama(t *testing.T) {
	var path string
	srv := captureServer(t, http.StatusOK, chatCompletion, nil, &path)

	p, err := newProvider(config.LLMConfig{Provider: "ollama", Model: "llama3", Endpoint: srv.URL + "/"}, srv.Client())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "/v1/chat/completions", path)
}

func TestOpenAIProvider_Azure(t *testing.T) {
	var path string
	srv := captureServer(t, http.StatusOK, chatCompletion, nil, &path)

	p, err := newProvider(config.LLMConfig{Provider: "azure", Model: "forecast-deploy", Endpoint: srv.URL, APIKey: "k"}, srv.Client())
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, `{"forecast_horizon_weeks":4}`, out)
	assert.Contains(t, path, "api-version="+defaultAzureVersion)
}

func TestOpenAIProvider_EmptyChoices(t *testing.T) {
	srv := captureServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`, nil, nil)
	p, err := newProvider(config.LLMConfig{Provider: "openai", Model: "m", Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "empty response")
}

const anthropicText = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"{\"forecast_horizon_weeks\":2}"}],
"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`

func TestAnthropicProvider_Complete(t *testing.T) {
	var body map[string]interface{}
	var path string
	srv := captureServer(t, http.StatusOK, anthropicText, &body, &path)

	p, err := newProvider(config.LLMConfig{Provider: "anthropic", APIKey: "k", Model: "claude-test", Endpoint: srv.URL, Temperature: 0.1}, srv.Client())
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"forecast_horizon_weeks":2}`, out)

	assert.Equal(t, "/v1/messages", path)
	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, float64(defaultMaxTokens), body["max_tokens"])
	system := body["system"].([]interface{})
	assert.Equal(t, "system prompt", system[0].(map[string]interface{})["text"])
	assert.NotContains(t, body, "tools")
}

func TestAnthropicProvider_ToolUse(t *testing.T) {
	var body map[string]interface{}
	srv := captureServer(t, http.StatusOK, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"ignored"},{"type":"tool_use","id":"tu_1","name":"record_forecast","input":{"forecast_horizon_weeks":3}}],
"stop_reason":"tool_use","usage":{"input_tokens":10,"output_tokens":5}}`, &body, nil)

	p, err := newProvider(config.LLMConfig{Provider: "anthropic", Model: "claude-test", Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)
	p.(FormatSetter).SetFormat(testSchema)

	out, err := p.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.JSONEq(t, `{"forecast_horizon_weeks":3}`, out)

	tools := body["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, recordTool, tools[0].(map[string]interface{})["name"])
	assert.Equal(t, recordTool, body["tool_choice"].(map[string]interface{})["name"])
}

func TestAnthropicProvider_NoUsableBlock(t *testing.T) {
	srv := captureServer(t, http.StatusOK, `{"id":"m","type":"message","role":"assistant","model":"c","content":[],
"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`, nil, nil)
	p, err := newProvider(config.LLMConfig{Provider: "anthropic", Model: "c", Endpoint: srv.URL}, srv.Client())
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "s", "u")
	assert.ErrorContains(t, err, "no usable content block")
}

func TestFunc(t *testing.T) {
	var calls atomic.Int32
	var p Provider = Func(func(_ context.Context, system, user string) (string, error) {
		calls.Add(1)
		return system + "|" + user, nil
	})
	out, err := p.Complete(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "a|b", out)
	assert.Equal(t, int32(1), calls.Load())
}
