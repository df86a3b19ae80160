// Package openai implements llm.Provider against OpenAI-compatible HTTP
// APIs. Groq exposes the same chat and embeddings endpoints under its own
// base URL, so a single client serves both backends.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/udayk/docqa/internal/llm"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements llm.Provider for OpenAI-compatible APIs.
type Client struct {
	name       string
	apiKey     string
	model      string
	embedModel string
	baseURL    string
	http       *http.Client
}

// New creates an OpenAI-compatible provider. name is the identifier the
// client reports ("openai", "groq", ...).
func New(name, apiKey, model, baseURL, embedModel string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}
	return &Client{
		name:       name,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	var msgs []map[string]string
	if prompt.SystemPrompt != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": prompt.SystemPrompt})
	}
	for _, m := range prompt.Messages {
		msgs = append(msgs, map[string]string{"role": string(m.Role), "content": m.Content})
	}

	body := map[string]any{
		"model":      c.model,
		"messages":   msgs,
		"max_tokens": 500,
	}
	if opts != nil {
		if opts.MaxTokens != nil {
			body["max_tokens"] = *opts.MaxTokens
		}
		if opts.Temperature != nil {
			body["temperature"] = *opts.Temperature
		}
		if opts.TopP != nil {
			body["top_p"] = *opts.TopP
		}
		if len(opts.StopSeqs) > 0 {
			body["stop"] = opts.StopSeqs
		}
	}

	respBody, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	text := ""
	stop := ""
	if len(result.Choices) > 0 {
		text = result.Choices[0].Message.Content
		stop = result.Choices[0].FinishReason
	}

	return &llm.Response{
		Content:      text,
		Model:        result.Model,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		StopReason:   stop,
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}
	respBody, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("%s embed: got %d embeddings for %d inputs", c.name, len(result.Data), len(texts))
	}

	// The API documents data as input-ordered; honor the index field anyway.
	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		idx := d.Index
		if idx < 0 || idx >= len(embeddings) {
			idx = i
		}
		embeddings[idx] = d.Embedding
	}
	return embeddings, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %s", c.name, resp.Status, respBody)
	}
	return respBody, nil
}
