package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/transport"
	"github.com/hqta1110/video-pipeline/types"
)

// Sink receives the synthesized audio.
type Sink interface {
	Write(key string, r io.Reader) error
	Path(key string) string
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// Client converts narration text or SSML into an audio clip.
type Client struct {
	http    *transport.Client
	url     string
	model   string
	voice   string
	headers transport.Headers
	log     *slog.Logger
}

// New creates a client for {base}/audio/speech.
func New(t *transport.Client, base, apiKey, model, voice string, logger *slog.Logger) *Client {
	return &Client{
		http:  t,
		url:   strings.TrimRight(base, "/") + "/audio/speech",
		model: model,
		voice: voice,
		headers: transport.Headers{
			"Authorization": "Bearer " + apiKey,
			"Content-Type":  "application/json",
		},
		log: logging.OrDiscard(logger).With("component", "speech"),
	}
}

// Synthesize streams the audio for input into sink under key and returns
// the artifact path. The request is a POST and is not retried.
func (c *Client) Synthesize(ctx context.Context, input string, sink Sink, key string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("%w: narration is empty", types.ErrInvalidRequest)
	}
	body, err := c.http.Stream(ctx, http.MethodPost, c.url, c.headers, speechRequest{
		Model: c.model,
		Input: input,
		Voice: c.voice,
	})
	if err != nil {
		return "", fmt.Errorf("speech request: %w", err)
	}
	defer body.Close()

	if err := sink.Write(key, body); err != nil {
		return "", fmt.Errorf("save audio: %w", err)
	}
	c.log.Info("audio saved", "key", key)
	return sink.Path(key), nil
}
