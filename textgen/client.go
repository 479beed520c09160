package textgen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/transport"
	"github.com/hqta1110/video-pipeline/types"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	WebSearch   bool
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	WebSearch   *searchOptions `json:"web_search_options,omitempty"`
}

type searchOptions struct {
	SearchContextSize string `json:"search_context_size"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Parts   []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"message"`
	} `json:"choices"`
}

// Generator is implemented by Client. Stages depend on this interface so
// tests can script the model's replies.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http    *transport.Client
	url     string
	headers transport.Headers
	log     *slog.Logger
}

// New creates a client for {base}/chat/completions.
func New(t *transport.Client, base, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		http: t,
		url:  strings.TrimRight(base, "/") + "/chat/completions",
		headers: transport.Headers{
			"Authorization": "Bearer " + apiKey,
			"Content-Type":  "application/json",
		},
		log: logging.OrDiscard(logger).With("component", "textgen"),
	}
}

// Generate returns the trimmed text of the first choice.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("%w: prompt is empty", types.ErrInvalidRequest)
	}

	var msgs []Message
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.WebSearch {
		body.WebSearch = &searchOptions{SearchContextSize: "large"}
	}

	c.log.Info("requesting completion", "model", req.Model, "web_search", req.WebSearch, "prompt_chars", len(req.Prompt))

	var resp chatResponse
	if err := c.http.PostJSON(ctx, c.url, c.headers, body, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", types.ErrProtocol)
	}
	msg := resp.Choices[0].Message
	content := msg.Content
	if content == "" && len(msg.Parts) > 0 {
		content = msg.Parts[0].Text
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content in completion", types.ErrProtocol)
	}
	return content, nil
}

// CleanJSON strips markdown code fences a model may wrap JSON in.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimPrefix(s, "JSON")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
