package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/publish"
	"github.com/hqta1110/video-pipeline/store"
	"github.com/hqta1110/video-pipeline/types"
)

// MetadataSource produces upload metadata. *publish.MetadataWriter
// implements it.
type MetadataSource interface {
	Write(ctx context.Context, script types.Script) (*types.VideoMetadata, error)
}

// PublishStage uploads the final video and records the result.
type PublishStage struct {
	runID    string
	meta     MetadataSource
	uploader publish.Uploader
	store    store.ArtifactStore
	now      func() time.Time
	log      *slog.Logger
}

func NewPublishStage(runID string, meta MetadataSource, up publish.Uploader, st store.ArtifactStore, logger *slog.Logger) *PublishStage {
	return &PublishStage{
		runID:    runID,
		meta:     meta,
		uploader: up,
		store:    st,
		now:      time.Now,
		log:      logging.OrDiscard(logger).With("stage", types.StagePublish),
	}
}

func (s *PublishStage) Name() types.Stage { return types.StagePublish }

func (s *PublishStage) Check() error {
	if !s.store.Exists(store.FinalKey) {
		return fmt.Errorf("%w: %s not found, run the concat stage first", types.ErrMissingDependency, store.FinalKey)
	}
	if !s.store.Exists(store.ScriptKey) {
		return fmt.Errorf("%w: %s not found", types.ErrMissingDependency, store.ScriptKey)
	}
	return nil
}

func (s *PublishStage) UpToDate() bool { return s.store.Exists(store.UploadRecordKey) }

func (s *PublishStage) Run(ctx context.Context, rep *types.StageReport) error {
	script, err := LoadScript(s.store)
	if err != nil {
		return err
	}
	meta, err := s.meta.Write(ctx, script)
	if err != nil {
		return err
	}

	file := s.store.Path(store.FinalKey)
	id, err := s.uploader.Upload(ctx, file, meta)
	if err != nil {
		return err
	}

	rec := types.UploadRecord{
		RunID:      s.runID,
		VideoID:    id,
		VideoURL:   publish.WatchURL(id),
		VideoFile:  file,
		UploadedAt: s.now().UTC().Format(time.RFC3339),
		Metadata:   meta,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode upload record: %w", err)
	}
	if err := store.WriteBytes(s.store, store.UploadRecordKey, data); err != nil {
		return fmt.Errorf("save upload record: %w", err)
	}
	s.log.Info("published", "video_id", id, "url", rec.VideoURL)
	return nil
}
