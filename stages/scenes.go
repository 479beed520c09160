package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/scenes"
	"github.com/hqta1110/video-pipeline/store"
	"github.com/hqta1110/video-pipeline/types"
)

// SceneRunner renders a script. *scenes.Orchestrator implements it.
type SceneRunner interface {
	Run(ctx context.Context, script types.Script) scenes.Result
}

// ScenesStage renders every scene of the saved script.
type ScenesStage struct {
	runner SceneRunner
	store  store.ArtifactStore
	log    *slog.Logger
}

func NewScenesStage(r SceneRunner, st store.ArtifactStore, logger *slog.Logger) *ScenesStage {
	return &ScenesStage{
		runner: r,
		store:  st,
		log:    logging.OrDiscard(logger).With("stage", types.StageScenes),
	}
}

func (s *ScenesStage) Name() types.Stage { return types.StageScenes }

func (s *ScenesStage) Check() error {
	if !s.store.Exists(store.ScriptKey) {
		return fmt.Errorf("%w: %s not found, run the script stage first", types.ErrMissingDependency, store.ScriptKey)
	}
	return nil
}

// UpToDate is always false: completion is tracked per scene by the
// orchestrator, which skips scenes whose artifacts exist.
func (s *ScenesStage) UpToDate() bool { return false }

func (s *ScenesStage) Run(ctx context.Context, rep *types.StageReport) error {
	script, err := LoadScript(s.store)
	if err != nil {
		return err
	}
	s.log.Info("rendering scenes", "scenes", len(script))

	res := s.runner.Run(ctx, script)
	rep.ScenesOK, rep.ScenesFailed = res.OK, res.Failed
	for _, r := range res.Scenes {
		if r.Err != nil {
			s.log.Warn("scene skipped due to errors", "scene_id", r.SceneID, "err", r.Err)
		}
	}
	if res.OK == 0 {
		return fmt.Errorf("%w: %d of %d scenes failed", types.ErrNoScenes, res.Failed, len(res.Scenes))
	}
	s.log.Info("scenes rendered", "ok", res.OK, "failed", res.Failed)
	return nil
}
