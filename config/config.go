package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API       APIConfig       `yaml:"api"`
	Transport TransportConfig `yaml:"transport"`
	Research  ResearchConfig  `yaml:"research"`
	Script    ScriptConfig    `yaml:"script"`
	Audio     AudioConfig     `yaml:"audio"`
	Video     VideoConfig     `yaml:"video"`
	Scenes    ScenesConfig    `yaml:"scenes"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Upload    UploadConfig    `yaml:"upload"`
	Paths     PathsConfig     `yaml:"paths"`

	// Secrets come from the environment, never from config.yaml.
	APIKey string `yaml:"-"`
}

type APIConfig struct {
	OpenAIBase   string `yaml:"openai_base"`
	TTSBase      string `yaml:"tts_base"`
	GeminiBase   string `yaml:"gemini_base"`
	DownloadBase string `yaml:"download_base"`
}

type TransportConfig struct {
	TimeoutSec        int     `yaml:"timeout_sec"`
	Retries           int     `yaml:"retries"`
	BackoffSec        float64 `yaml:"backoff_sec"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

type ResearchConfig struct {
	Source     string   `yaml:"source"` // web | reddit | none
	Model      string   `yaml:"model"`
	Subreddits []string `yaml:"subreddits"`
	Limit      int      `yaml:"limit"`
}

type ScriptConfig struct {
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	MaxContextChar int     `yaml:"max_context_chars"`
}

type AudioConfig struct {
	Model string `yaml:"model"`
	Voice string `yaml:"voice"`
}

type VideoConfig struct {
	Model             string `yaml:"model"`
	PollIntervalSec   int    `yaml:"poll_interval_sec"`
	TimeoutSec        int    `yaml:"timeout_sec"`
	UseReferenceFrame bool   `yaml:"use_reference_frame"`
}

type ScenesConfig struct {
	Limit int `yaml:"limit"` // 0 means every scene
}

type MetadataConfig struct {
	Model         string `yaml:"model"`
	TitleMaxChars int    `yaml:"title_max_chars"`
	TagsCount     int    `yaml:"tags_count"`
	CategoryID    string `yaml:"category_id"`
}

type UploadConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Visibility        string `yaml:"visibility"`
	NotifySubscribers bool   `yaml:"notify_subscribers"`
	MadeForKids       bool   `yaml:"made_for_kids"`
	DefaultLanguage   string `yaml:"default_language"`
}

type PathsConfig struct {
	Output  string `yaml:"output"`
	Logs    string `yaml:"logs"`
	Prompts string `yaml:"prompts"`
	FFmpeg  string `yaml:"ffmpeg"`
}

// Default returns the configuration used when no config.yaml is present.
func Default() *Config {
	return &Config{
		API: APIConfig{
			OpenAIBase:   "https://api.thucchien.ai/v1",
			TTSBase:      "https://api.thucchien.ai",
			GeminiBase:   "https://api.thucchien.ai/gemini/v1beta",
			DownloadBase: "https://api.thucchien.ai/gemini/download",
		},
		Transport: TransportConfig{
			TimeoutSec:        120,
			Retries:           3,
			BackoffSec:        2,
			BackoffMultiplier: 2,
		},
		Research: ResearchConfig{
			Source:     "web",
			Model:      "gemini-2.5-flash",
			Subreddits: []string{"news", "worldnews"},
			Limit:      10,
		},
		Script: ScriptConfig{
			Model:          "gemini-2.5-flash",
			Temperature:    0.4,
			MaxTokens:      10000,
			MaxContextChar: 4000,
		},
		Audio: AudioConfig{
			Model: "gemini-2.5-flash-preview-tts",
			Voice: "Zephyr",
		},
		Video: VideoConfig{
			Model:           "veo-3.0-generate-001",
			PollIntervalSec: 5,
			TimeoutSec:      600,
		},
		Metadata: MetadataConfig{
			Model:         "gemini-2.5-flash",
			TitleMaxChars: 100,
			TagsCount:     15,
			CategoryID:    "25",
		},
		Upload: UploadConfig{
			Visibility:      "private",
			DefaultLanguage: "vi",
		},
		Paths: PathsConfig{
			Output:  "outputs",
			Logs:    "logs",
			Prompts: "prompts",
			FFmpeg:  "ffmpeg",
		},
	}
}

// Load reads config.yaml on top of the defaults. A missing file is not an
// error; the defaults are returned as is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Transport.Retries < 1:
		return fmt.Errorf("transport.retries must be at least 1")
	case c.Transport.TimeoutSec <= 0:
		return fmt.Errorf("transport.timeout_sec must be positive")
	case c.Transport.BackoffSec < 0 || c.Transport.BackoffMultiplier < 1:
		return fmt.Errorf("transport backoff must be non-negative with multiplier >= 1")
	case c.Video.PollIntervalSec <= 0 || c.Video.TimeoutSec <= 0:
		return fmt.Errorf("video.poll_interval_sec and video.timeout_sec must be positive")
	case c.Scenes.Limit < 0:
		return fmt.Errorf("scenes.limit must not be negative")
	}
	switch c.Research.Source {
	case "web", "reddit", "none":
	default:
		return fmt.Errorf("research.source %q is not one of web, reddit, none", c.Research.Source)
	}
	return nil
}

// LoadSecrets copies API credentials from the environment.
func (c *Config) LoadSecrets() {
	c.APIKey = os.Getenv("GOOGLE_API_KEY")
}

func (t TransportConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

func (t TransportConfig) Backoff() time.Duration {
	return time.Duration(t.BackoffSec * float64(time.Second))
}

func (v VideoConfig) PollInterval() time.Duration {
	return time.Duration(v.PollIntervalSec) * time.Second
}

func (v VideoConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSec) * time.Second
}
