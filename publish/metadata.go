package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/prompts"
	"github.com/hqta1110/video-pipeline/textgen"
	"github.com/hqta1110/video-pipeline/types"
)

// MetadataOptions bounds the generated metadata.
type MetadataOptions struct {
	Model         string
	TitleMaxChars int
	TagsCount     int
	CategoryID    string
	Visibility    string
}

// MetadataWriter asks the text service for title, description and tags.
type MetadataWriter struct {
	gen    textgen.Generator
	system string
	prompt string
	opts   MetadataOptions
	log    *slog.Logger
}

// NewMetadataWriter uses system as the system prompt and promptTmpl, with a
// {narration} placeholder, as the request.
func NewMetadataWriter(gen textgen.Generator, system, promptTmpl string, opts MetadataOptions, logger *slog.Logger) *MetadataWriter {
	if opts.TitleMaxChars <= 0 {
		opts.TitleMaxChars = 100
	}
	return &MetadataWriter{
		gen:    gen,
		system: system,
		prompt: promptTmpl,
		opts:   opts,
		log:    logging.OrDiscard(logger).With("component", "metadata"),
	}
}

type metadataJSON struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Write generates metadata for the video narrated by script.
func (m *MetadataWriter) Write(ctx context.Context, script types.Script) (*types.VideoMetadata, error) {
	m.log.Info("generating metadata", "model", m.opts.Model)
	text, err := m.gen.Generate(ctx, textgen.Request{
		Model:       m.opts.Model,
		System:      m.system,
		Prompt:      prompts.Render(m.prompt, map[string]string{"narration": Narration(script)}),
		Temperature: 0.8,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	var raw metadataJSON
	if err := json.Unmarshal([]byte(textgen.CleanJSON(text)), &raw); err != nil {
		return nil, fmt.Errorf("%w: metadata is not valid JSON: %v", types.ErrProtocol, err)
	}
	if strings.TrimSpace(raw.Title) == "" {
		return nil, fmt.Errorf("%w: metadata has no title", types.ErrProtocol)
	}

	meta := &types.VideoMetadata{
		Title:       clampTitle(strings.TrimSpace(raw.Title), m.opts.TitleMaxChars),
		Description: strings.TrimSpace(raw.Description),
		Tags:        raw.Tags,
		CategoryID:  m.opts.CategoryID,
		Visibility:  m.opts.Visibility,
	}
	if n := m.opts.TagsCount; n > 0 && len(meta.Tags) > n {
		meta.Tags = meta.Tags[:n]
	}
	m.log.Info("metadata ready", "title", meta.Title, "tags", len(meta.Tags))
	return meta, nil
}

func clampTitle(title string, max int) string {
	r := []rune(title)
	if len(r) <= max {
		return title
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Narration returns the spoken text of a script with SSML markup removed,
// one scene per line.
func Narration(script types.Script) string {
	lines := make([]string, 0, len(script))
	for _, sc := range script.Sorted() {
		text := strings.Join(strings.Fields(tagPattern.ReplaceAllString(sc.SSML, " ")), " ")
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}
