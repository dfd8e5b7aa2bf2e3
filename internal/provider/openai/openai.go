package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sprintiq/sprinthia-gate/internal/provider"
)

const defaultModel = "gpt-4o"

type OpenAIProvider struct {
	apiKey  string
	baseURL string
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New(apiKey string) provider.Provider {
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
	}
}

func (p *OpenAIProvider) Analyze(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	openAIReq, err := p.mapRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(openAIReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, err
	}

	if len(openAIResp.Choices) == 0 {
		return nil, fmt.Errorf("openai api returned no choices")
	}

	return &provider.Result{
		Text:         openAIResp.Choices[0].Message.Content,
		Model:        openAIResp.Model,
		InputTokens:  openAIResp.Usage.PromptTokens,
		OutputTokens: openAIResp.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) mapRequest(req *provider.Request) (openAIRequest, error) {
	prompt := req.CustomPrompt
	if prompt == "" {
		prompt = analysisPrompts[req.Kind]
	}
	if prompt == "" {
		return openAIRequest{}, fmt.Errorf("no prompt for analysis kind %q", req.Kind)
	}

	video := fmt.Sprintf("Video: %s (%s)", req.VideoTitle, req.VideoURL)
	if req.VideoTimestamp != nil {
		video = fmt.Sprintf("%s (at %gs)", video, *req.VideoTimestamp)
	}

	return openAIRequest{
		Model: defaultModel,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("%s\n\n%s", video, prompt)},
		},
		MaxTokens:   1000,
		Temperature: 0.7,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}
