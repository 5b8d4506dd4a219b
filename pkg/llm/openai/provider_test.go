package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-research-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "phi-3-mini", req.Model)
		assert.Equal(t, 1024, req.MaxTokens)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"done"}}]}`))
	}))
	defer srv.Close()

	p := NewProvider("token", srv.URL+"/v1", "phi-3-mini", llm.Options{Temperature: 0.7})
	out, err := p.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, llm.WithJSONResponse())
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestProvider_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `oops`},
		{name: "api error object", status: http.StatusOK, body: `{"error":{"message":"model not loaded"}}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewProvider("", srv.URL, "m", llm.Options{}).Generate(context.Background(), "hi")
			assert.ErrorIs(t, err, llm.ErrUnavailable)
		})
	}
}

func TestProvider_ResponseFormat(t *testing.T) {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"summary": map[string]interface{}{"type": "string"}},
		"required":   []string{"summary"},
	}

	tests := []struct {
		name    string
		options []llm.Option
		want    string
	}{
		{name: "plain", want: `null`},
		// LM Studio answers 400 to json_object, so it is never sent
		{name: "json without schema", options: []llm.Option{llm.WithJSONResponse()}, want: `null`},
		{
			name:    "schema",
			options: []llm.Option{llm.WithJSONSchema("findings", schema)},
			want: `{"type":"json_schema","json_schema":{"name":"findings","strict":true,` +
				`"schema":{"properties":{"summary":{"type":"string"}},"required":["summary"],"type":"object"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]json.RawMessage
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				got, ok := body["response_format"]
				if !ok {
					got = json.RawMessage(`null`)
				}
				assert.JSONEq(t, tt.want, string(got))
				_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
			}))
			defer srv.Close()

			_, err := NewProvider("", srv.URL, "m", llm.Options{}).Generate(context.Background(), "hi", tt.options...)
			require.NoError(t, err)
		})
	}
}
