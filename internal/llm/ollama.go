package llm

import (
	"context"
	"net/http"
	"strings"
)

// Ollama calls a local Ollama instance.
type Ollama struct {
	url    string
	model  string
	client *http.Client
}

// NewOllama creates a new Ollama client for the server at url.
func NewOllama(url, model string) *Ollama {
	return &Ollama{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete sends a prompt to the generate endpoint in JSON mode.
func (o *Ollama) Complete(ctx context.Context, prompt string) (*Response, error) {
	var out ollamaResponse
	err := postJSON(ctx, o.client, "ollama", o.url+"/api/generate", nil, ollamaRequest{
		Model:   o.model,
		Prompt:  prompt,
		System:  systemPrompt,
		Format:  "json",
		Options: ollamaOptions{Temperature: 0.2, NumPredict: 1024},
	}, &out)
	if err != nil {
		return nil, err
	}

	return &Response{
		Content:    out.Response,
		Provider:   "ollama",
		TokensUsed: out.PromptEvalCount + out.EvalCount,
	}, nil
}
