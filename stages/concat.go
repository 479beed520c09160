package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/media"
	"github.com/hqta1110/video-pipeline/store"
	"github.com/hqta1110/video-pipeline/types"
)

// ConcatStage joins every rendered scene into the final video.
type ConcatStage struct {
	tool  media.Tool
	store store.ArtifactStore
	log   *slog.Logger
}

func NewConcatStage(tool media.Tool, st store.ArtifactStore, logger *slog.Logger) *ConcatStage {
	return &ConcatStage{
		tool:  tool,
		store: st,
		log:   logging.OrDiscard(logger).With("stage", types.StageConcat),
	}
}

func (s *ConcatStage) Name() types.Stage { return types.StageConcat }

func (s *ConcatStage) Check() error {
	videos, _, err := s.inputs()
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		return fmt.Errorf("%w: no scene has both a video and a narration clip", types.ErrMissingDependency)
	}
	return nil
}

func (s *ConcatStage) UpToDate() bool { return s.store.Exists(store.FinalKey) }

func (s *ConcatStage) Run(ctx context.Context, rep *types.StageReport) error {
	videos, audios, err := s.inputs()
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		return fmt.Errorf("%w: nothing to concatenate", types.ErrMissingDependency)
	}
	rep.ScenesOK = len(videos)

	work, err := os.MkdirTemp("", "concat-*")
	if err != nil {
		return fmt.Errorf("concat workspace: %w", err)
	}
	defer os.RemoveAll(work)

	mergedVideo := filepath.Join(work, "merged_video.mp4")
	mergedAudio := filepath.Join(work, "merged_audio.mp3")

	s.log.Info("concatenating scene videos", "count", len(videos))
	if err := s.join(ctx, filepath.Join(work, "video_list.txt"), videos, mergedVideo); err != nil {
		return fmt.Errorf("concat video: %w", err)
	}
	s.log.Info("concatenating narration", "count", len(audios))
	if err := s.join(ctx, filepath.Join(work, "audio_list.txt"), audios, mergedAudio); err != nil {
		return fmt.Errorf("concat audio: %w", err)
	}

	s.log.Info("muxing final video")
	err = store.Produce(s.store, store.FinalKey, func(out string) error {
		return s.tool.Mux(ctx, mergedVideo, mergedAudio, out)
	})
	if err != nil {
		return fmt.Errorf("mux final video: %w", err)
	}
	s.log.Info("final video saved", "path", s.store.Path(store.FinalKey))
	return nil
}

func (s *ConcatStage) join(ctx context.Context, listFile string, keys []string, out string) error {
	files := make([]string, len(keys))
	for i, k := range keys {
		files[i] = s.store.Path(k)
	}
	if err := media.WriteConcatList(listFile, files); err != nil {
		return err
	}
	return s.tool.ConcatCopy(ctx, listFile, out)
}

// inputs returns the video and narration keys of every scene that has both,
// in scene order. A scene with only one of the two is left out so the
// narration stays aligned with the clips.
func (s *ConcatStage) inputs() (videos, audios []string, err error) {
	videoKeys, err := s.store.List(store.VideoDir, store.VideoPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("list scene videos: %w", err)
	}
	audioKeys, err := s.store.List(store.AudioDir, store.AudioPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("list narration: %w", err)
	}

	ids := map[int]bool{}
	for _, k := range append(videoKeys, audioKeys...) {
		if id, ok := sceneNumber(k); ok {
			ids[id] = true
		}
	}
	sorted := make([]int, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Ints(sorted)

	for _, id := range sorted {
		v, a := store.VideoKey(id), store.AudioKey(id)
		hasVideo, hasAudio := s.store.Exists(v), s.store.Exists(a)
		if !hasVideo || !hasAudio {
			s.log.Warn("scene left out of the final video", "scene_id", id, "has_video", hasVideo, "has_audio", hasAudio)
			continue
		}
		videos = append(videos, v)
		audios = append(audios, a)
	}
	return videos, audios, nil
}

func sceneNumber(key string) (int, bool) {
	name := strings.TrimPrefix(path.Base(key), "scene_")
	name = strings.TrimSuffix(name, path.Ext(name))
	n, err := strconv.Atoi(name)
	return n, err == nil
}
