package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hqta1110/video-pipeline/config"
	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/media"
	"github.com/hqta1110/video-pipeline/prompts"
	"github.com/hqta1110/video-pipeline/publish"
	"github.com/hqta1110/video-pipeline/report"
	"github.com/hqta1110/video-pipeline/research"
	"github.com/hqta1110/video-pipeline/scenes"
	"github.com/hqta1110/video-pipeline/speech"
	"github.com/hqta1110/video-pipeline/stages"
	"github.com/hqta1110/video-pipeline/store"
	"github.com/hqta1110/video-pipeline/textgen"
	"github.com/hqta1110/video-pipeline/transport"
	"github.com/hqta1110/video-pipeline/types"
	"github.com/hqta1110/video-pipeline/veo"
)

type options struct {
	topic      string
	stage      string
	configPath string
	force      bool
	skipSearch bool
	debug      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.topic, "topic", "", "topic of the video (required for the script stage)")
	flag.StringVar(&opts.stage, "stage", stages.SelectAll, "stage to run: script, scenes, concat, publish or all")
	flag.StringVar(&opts.configPath, "config", "config.yaml", "path to the YAML config")
	flag.BoolVar(&opts.force, "force", false, "rerun stages whose output already exists")
	flag.BoolVar(&opts.skipSearch, "skip-search", false, "reuse the saved search context instead of searching again")
	flag.BoolVar(&opts.debug, "debug", false, "log at debug level")
	flag.Parse()

	os.Exit(run(opts))
}

func run(opts options) int {
	// Load .env for local runs; CI passes secrets through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 2
	}
	cfg.LoadSecrets()

	runID := uuid.NewString()[:8]
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger, err := logging.New(cfg.Paths.Logs, runID, level)
	if err != nil {
		log.Printf("Failed to open log: %v", err)
		return 2
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := build(cfg, opts, runID, logger.Logger)
	if err != nil {
		logger.Error("pipeline setup failed", "err", err)
		return 2
	}

	logger.Info("pipeline starting", "stage", opts.stage, "output", cfg.Paths.Output)
	sum, err := driver.Run(ctx, opts.stage)
	if err != nil {
		logger.Error("invalid stage", "err", err)
		return 2
	}
	fmt.Print(report.Render(sum))
	if sum.Failed() {
		logger.Error("pipeline finished with failures")
		return 1
	}
	logger.Info("pipeline finished")
	return 0
}

// build wires every component from the config.
func build(cfg *config.Config, opts options, runID string, logger *slog.Logger) (*stages.Driver, error) {
	st, err := store.NewFS(cfg.Paths.Output)
	if err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	set, err := prompts.Load(cfg.Paths.Prompts)
	if err != nil {
		return nil, fmt.Errorf("prompts: %w", err)
	}

	publishPlanned := opts.stage == string(types.StagePublish) ||
		(opts.stage == stages.SelectAll && cfg.Upload.Enabled)
	if cfg.APIKey == "" && opts.stage != string(types.StageConcat) {
		return nil, fmt.Errorf("%w: GOOGLE_API_KEY not set", types.ErrInvalidRequest)
	}

	tc := transport.New(cfg.Transport.Timeout(), cfg.Transport.Retries, transport.Backoff{
		Initial:    cfg.Transport.Backoff(),
		Multiplier: cfg.Transport.BackoffMultiplier,
	}, logger)

	gen := textgen.New(tc, cfg.API.OpenAIBase, cfg.APIKey, logger)
	source, err := researchSource(cfg, gen, set, logger)
	if err != nil {
		return nil, err
	}

	ff := media.New(cfg.Paths.FFmpeg, logger)
	orch := scenes.New(
		speech.New(tc, cfg.API.TTSBase, cfg.APIKey, cfg.Audio.Model, cfg.Audio.Voice, logger),
		veo.New(tc, veo.Options{
			APIKey:       cfg.APIKey,
			Base:         cfg.API.GeminiBase,
			DownloadBase: cfg.API.DownloadBase,
			Model:        cfg.Video.Model,
			PollInterval: cfg.Video.PollInterval(),
			Timeout:      cfg.Video.Timeout(),
		}, logger),
		ff, st, set,
		scenes.Options{UseReferenceFrame: cfg.Video.UseReferenceFrame, Limit: cfg.Scenes.Limit},
		logger,
	)

	creds, err := publish.CredentialsFromEnv()
	if err != nil && publishPlanned {
		return nil, err
	}
	meta := publish.NewMetadataWriter(gen, set.MetadataSystem, set.Metadata, publish.MetadataOptions{
		Model:         cfg.Metadata.Model,
		TitleMaxChars: cfg.Metadata.TitleMaxChars,
		TagsCount:     cfg.Metadata.TagsCount,
		CategoryID:    cfg.Metadata.CategoryID,
		Visibility:    cfg.Upload.Visibility,
	}, logger)
	uploader := publish.NewYouTube(creds, publish.UploadOptions{
		DefaultLanguage:   cfg.Upload.DefaultLanguage,
		MadeForKids:       cfg.Upload.MadeForKids,
		NotifySubscribers: cfg.Upload.NotifySubscribers,
	}, logger)

	d := stages.NewDriver(runID, logger,
		stages.NewScriptStage(opts.topic, gen, source, st, set, stages.ScriptOptions{
			Model:           cfg.Script.Model,
			Temperature:     cfg.Script.Temperature,
			MaxTokens:       cfg.Script.MaxTokens,
			MaxContextChars: cfg.Script.MaxContextChar,
			SkipSearch:      opts.skipSearch,
		}, logger),
		stages.NewScenesStage(orch, st, logger),
		stages.NewConcatStage(ff, st, logger),
		stages.NewPublishStage(runID, meta, uploader, st, logger),
	)
	d.PublishInAll = cfg.Upload.Enabled
	d.Force = opts.force
	return d, nil
}

func researchSource(cfg *config.Config, gen textgen.Generator, set prompts.Set, logger *slog.Logger) (research.Source, error) {
	switch cfg.Research.Source {
	case "reddit":
		src, err := research.NewRedditSource(os.Getenv("REDDIT_USER_AGENT"), cfg.Research.Subreddits, cfg.Research.Limit, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case "none":
		return research.None{}, nil
	default:
		return research.NewWebSource(gen, cfg.Research.Model, set.Search, logger), nil
	}
}
