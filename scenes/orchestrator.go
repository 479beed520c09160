package scenes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/prompts"
	"github.com/hqta1110/video-pipeline/speech"
	"github.com/hqta1110/video-pipeline/store"
	"github.com/hqta1110/video-pipeline/types"
	"github.com/hqta1110/video-pipeline/veo"
)

// State is a scene's position in its processing state machine.
type State string

const (
	StatePending     State = "pending"
	StateSynthesizing State = "synthesizing_audio"
	StateGenerating  State = "generating_video"
	StateExtracting  State = "extracting_frame"
	StateComplete    State = "complete"
	StateFailed      State = "failed"
)

// Synthesizer turns narration into an audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, input string, sink speech.Sink, key string) (string, error)
}

// VideoGenerator runs one long-running video job into an artifact.
type VideoGenerator interface {
	Generate(ctx context.Context, req veo.Request, sink veo.Sink, key string) (string, error)
}

// FrameExtractor derives the last frame of a clip.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, video, frame string) error
}

// Options tunes scene processing.
type Options struct {
	// UseReferenceFrame attaches the previous scene's last frame to the
	// video request.
	UseReferenceFrame bool
	// Limit caps how many scenes (in id order) are processed. 0 = all.
	Limit int
}

// Continuity is what one scene hands to the next: the last scene that
// completed and the key of its trailing frame, if one was extracted.
type Continuity struct {
	Prev     *types.Scene
	FrameKey string
}

// Result is the outcome of a scenes run.
type Result struct {
	Scenes []types.SceneResult
	OK     int
	Failed int
}

// Orchestrator renders scenes one at a time in id order.
type Orchestrator struct {
	speech  Synthesizer
	video   VideoGenerator
	frames  FrameExtractor
	store   store.ArtifactStore
	prompts prompts.Set
	opts    Options
	log     *slog.Logger
}

// New creates an orchestrator.
func New(sp Synthesizer, vg VideoGenerator, fx FrameExtractor, st store.ArtifactStore, p prompts.Set, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		speech:  sp,
		video:   vg,
		frames:  fx,
		store:   st,
		prompts: p,
		opts:    opts,
		log:     logging.OrDiscard(logger).With("component", "scenes"),
	}
}

// Run processes the script sequentially. Each scene's prompt depends on the
// previous scene, so processing is a fold over ascending ids carrying
// Continuity. A failed scene is recorded and skipped; the run continues.
func (o *Orchestrator) Run(ctx context.Context, script types.Script) Result {
	ordered := script.Sorted()
	if o.opts.Limit > 0 && len(ordered) > o.opts.Limit {
		o.log.Info("limiting scenes", "total", len(ordered), "limit", o.opts.Limit)
		ordered = ordered[:o.opts.Limit]
	}

	results := fold(ordered, Continuity{}, func(c Continuity, sc types.Scene) (Continuity, types.SceneResult) {
		return o.Process(ctx, c, sc)
	})

	res := Result{Scenes: results}
	for _, r := range results {
		if r.State == string(StateComplete) {
			res.OK++
		} else {
			res.Failed++
		}
	}
	return res
}

// Process renders one scene given the continuity from the scenes before it
// and returns the continuity for the next one. Continuity only advances
// when the scene completes.
func (o *Orchestrator) Process(ctx context.Context, c Continuity, sc types.Scene) (Continuity, types.SceneResult) {
	log := o.log.With("scene_id", sc.ID)
	audioKey, videoKey, frameKey := store.AudioKey(sc.ID), store.VideoKey(sc.ID), store.FrameKey(sc.ID)
	res := types.SceneResult{SceneID: sc.ID, State: string(StatePending)}
	start := time.Now()

	fail := func(state State, err error) (Continuity, types.SceneResult) {
		res.State = string(StateFailed)
		res.Err = fmt.Errorf("scene %d %s: %w", sc.ID, state, err)
		log.Error("scene failed", "state", state, "err", err)
		return c, res
	}

	if o.store.Exists(audioKey) && o.store.Exists(videoKey) {
		res.State = string(StateComplete)
		res.Resumed = true
		res.Audio, res.Video = o.store.Path(audioKey), o.store.Path(videoKey)
		next := Continuity{Prev: &sc}
		if o.store.Exists(frameKey) {
			res.Frame = o.store.Path(frameKey)
			next.FrameKey = frameKey
		}
		log.Info("scene already rendered, skipping")
		return next, res
	}

	if err := ctx.Err(); err != nil {
		return fail(StatePending, err)
	}

	// Audio from an earlier interrupted run is reused.
	if o.store.Exists(audioKey) {
		res.Audio = o.store.Path(audioKey)
		log.Info("audio already present", "key", audioKey)
	} else {
		res.State = string(StateSynthesizing)
		log.Info("synthesizing audio")
		path, err := o.speech.Synthesize(ctx, sc.SSML, o.store, audioKey)
		if err != nil {
			return fail(StateSynthesizing, err)
		}
		res.Audio = path
	}

	res.State = string(StateGenerating)
	req := o.videoRequest(c, sc)
	log.Info("generating video", "reference", req.ReferenceImage != "")
	path, err := o.video.Generate(ctx, req, o.store, videoKey)
	if err != nil {
		return fail(StateGenerating, err)
	}
	res.Video = path

	res.State = string(StateExtracting)
	next := Continuity{Prev: &sc}
	err = store.Produce(o.store, frameKey, func(tmp string) error {
		return o.frames.ExtractLastFrame(ctx, o.store.Path(videoKey), tmp)
	})
	if err != nil {
		// The clip and audio are the deliverables; continuity just degrades.
		log.Warn("last frame extraction failed", "err", err)
	} else {
		res.Frame = o.store.Path(frameKey)
		next.FrameKey = frameKey
	}

	res.State = string(StateComplete)
	log.Info("scene complete", "elapsed", time.Since(start).Round(time.Second))
	return next, res
}

func (o *Orchestrator) videoRequest(c Continuity, sc types.Scene) veo.Request {
	if sc.ID == 1 {
		return veo.Request{Prompt: o.prompts.Intro}
	}
	prev := ""
	if c.Prev != nil {
		prev = c.Prev.VisualDesc
	}
	req := veo.Request{
		Prompt: prompts.Render(o.prompts.Scene, map[string]string{
			"prev_visual":     prev,
			"transition_hint": sc.TransitionHint,
			"main_visual":     sc.VisualDesc,
		}),
	}
	if o.opts.UseReferenceFrame && c.FrameKey != "" {
		req.ReferenceImage = o.store.Path(c.FrameKey)
	}
	return req
}

// fold threads acc through step for each item in order and collects the
// per-item outputs.
func fold[A, T, R any](items []T, acc A, step func(A, T) (A, R)) []R {
	out := make([]R, 0, len(items))
	for _, it := range items {
		var r R
		acc, r = step(acc, it)
		out = append(out, r)
	}
	return out
}
