package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/prompts"
	"github.com/hqta1110/video-pipeline/research"
	"github.com/hqta1110/video-pipeline/store"
	"github.com/hqta1110/video-pipeline/textgen"
	"github.com/hqta1110/video-pipeline/types"
)

// ScriptOptions tunes script composition.
type ScriptOptions struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxContextChars int
	// SkipSearch reuses scripts/search_context.txt instead of gathering
	// facts again.
	SkipSearch bool
}

// ScriptStage gathers context for the topic and composes the scene script.
type ScriptStage struct {
	topic   string
	gen     textgen.Generator
	source  research.Source
	store   store.ArtifactStore
	prompts prompts.Set
	opts    ScriptOptions
	log     *slog.Logger
}

func NewScriptStage(topic string, gen textgen.Generator, src research.Source, st store.ArtifactStore, p prompts.Set, opts ScriptOptions, logger *slog.Logger) *ScriptStage {
	if src == nil {
		src = research.None{}
	}
	return &ScriptStage{
		topic:   strings.TrimSpace(topic),
		gen:     gen,
		source:  src,
		store:   st,
		prompts: p,
		opts:    opts,
		log:     logging.OrDiscard(logger).With("stage", types.StageScript),
	}
}

func (s *ScriptStage) Name() types.Stage { return types.StageScript }

func (s *ScriptStage) Check() error {
	if s.topic == "" {
		return fmt.Errorf("%w: topic is required for the script stage", types.ErrInvalidRequest)
	}
	return nil
}

func (s *ScriptStage) UpToDate() bool { return s.store.Exists(store.ScriptKey) }

func (s *ScriptStage) Run(ctx context.Context, rep *types.StageReport) error {
	facts, err := s.gatherContext(ctx)
	if err != nil {
		return err
	}
	if limit := s.opts.MaxContextChars; limit > 0 && len([]rune(facts)) > limit {
		facts = string([]rune(facts)[:limit])
	}

	s.log.Info("composing script", "model", s.opts.Model, "context_chars", len(facts))
	text, err := s.gen.Generate(ctx, textgen.Request{
		Model:  s.opts.Model,
		System: s.prompts.ScriptSystem,
		Prompt: prompts.Render(s.prompts.Compose, map[string]string{
			"topic":   s.topic,
			"context": facts,
		}),
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("compose script: %w", err)
	}

	script, err := ParseScript(text)
	if err != nil {
		s.log.Error("unparseable script reply", "raw", truncate(text, 400))
		return err
	}

	data, err := encodeScript(script)
	if err != nil {
		return err
	}
	if err := store.WriteBytes(s.store, store.ScriptKey, data); err != nil {
		return fmt.Errorf("save script: %w", err)
	}
	s.log.Info("script saved", "scenes", len(script), "path", s.store.Path(store.ScriptKey))
	return nil
}

// gatherContext returns the fact-gathering text, reusing the saved copy when the
// caller asked to skip the search.
func (s *ScriptStage) gatherContext(ctx context.Context) (string, error) {
	if s.opts.SkipSearch {
		if s.store.Exists(store.SearchContextKey) {
			data, err := s.store.ReadFile(store.SearchContextKey)
			if err != nil {
				return "", fmt.Errorf("read search context: %w", err)
			}
			s.log.Info("reusing saved search context", "chars", len(data))
			return string(data), nil
		}
		s.log.Warn("search skipped but no saved context exists; composing without context")
		return "", nil
	}

	facts, err := s.source.Gather(ctx, s.topic)
	if err != nil {
		return "", fmt.Errorf("gather context (%s): %w", s.source.Name(), err)
	}
	if facts == "" {
		return "", nil
	}
	if err := store.WriteBytes(s.store, store.SearchContextKey, []byte(facts)); err != nil {
		return "", fmt.Errorf("save search context: %w", err)
	}
	s.log.Info("search context saved", "source", s.source.Name(), "chars", len(facts))
	return facts, nil
}

// ParseScript decodes a model reply into a validated script. Both a bare
// array and an object with a "scenes" array are accepted.
func ParseScript(reply string) (types.Script, error) {
	cleaned := textgen.CleanJSON(reply)

	var script types.Script
	if err := json.Unmarshal([]byte(cleaned), &script); err != nil {
		var wrapped struct {
			Scenes types.Script `json:"scenes"`
		}
		if err2 := json.Unmarshal([]byte(cleaned), &wrapped); err2 != nil || wrapped.Scenes == nil {
			return nil, fmt.Errorf("%w: script is not valid JSON: %v", types.ErrProtocol, err)
		}
		script = wrapped.Scenes
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProtocol, err)
	}
	return script.Sorted(), nil
}

// LoadScript reads and validates the persisted script.
func LoadScript(st store.ArtifactStore) (types.Script, error) {
	data, err := st.ReadFile(store.ScriptKey)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var script types.Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("decode %s: %w", store.ScriptKey, err)
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", store.ScriptKey, err)
	}
	return script.Sorted(), nil
}

// encodeScript writes indented JSON without escaping SSML angle brackets.
func encodeScript(script types.Script) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(script); err != nil {
		return nil, fmt.Errorf("encode script: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
