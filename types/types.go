package types

import (
	"fmt"
	"sort"
	"time"
)

// Scene is one entry of the generated script
type Scene struct {
	ID             int    `json:"scene_id"`
	SSML           string `json:"ssml"`
	VisualDesc     string `json:"visual_desc"`
	TransitionHint string `json:"transition_hint,omitempty"`
}

// Script is the ordered list of scenes persisted by the script stage
type Script []Scene

// Validate checks that scene ids are unique and densely numbered from 1.
func (s Script) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("script has no scenes")
	}
	seen := make(map[int]bool, len(s))
	for _, sc := range s {
		if sc.ID < 1 {
			return fmt.Errorf("scene id %d out of range", sc.ID)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scene id %d", sc.ID)
		}
		seen[sc.ID] = true
	}
	for id := 1; id <= len(s); id++ {
		if !seen[id] {
			return fmt.Errorf("scene ids are not dense: missing %d", id)
		}
	}
	return nil
}

// Sorted returns a copy of the script ordered by scene id.
func (s Script) Sorted() Script {
	out := make(Script, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stage names a top-level pipeline phase
type Stage string

const (
	StageScript  Stage = "script"
	StageScenes  Stage = "scenes"
	StageConcat  Stage = "concat"
	StagePublish Stage = "publish"
)

// StageStatus is the outcome of one stage in a run
type StageStatus string

const (
	StatusOK       StageStatus = "ok"
	StatusUpToDate StageStatus = "up-to-date"
	StatusFailed   StageStatus = "failed"
	StatusSkipped  StageStatus = "skipped"
)

// SceneResult records what happened to one scene
type SceneResult struct {
	SceneID int    `json:"scene_id"`
	State   string `json:"state"`
	Audio   string `json:"audio,omitempty"`
	Video   string `json:"video,omitempty"`
	Frame   string `json:"frame,omitempty"`
	Resumed bool   `json:"resumed"`
	Err     error  `json:"-"`
}

// StageReport summarises one stage of a run
type StageReport struct {
	Stage        Stage         `json:"stage"`
	Status       StageStatus   `json:"status"`
	Duration     time.Duration `json:"duration"`
	ScenesOK     int           `json:"scenes_ok"`
	ScenesFailed int           `json:"scenes_failed"`
	Err          error         `json:"-"`
}

// RunSummary is returned by the driver after every invocation
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Selector string        `json:"selector"`
	Stages   []StageReport `json:"stages"`
}

// Failed reports whether any stage failed.
func (r *RunSummary) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// VideoMetadata holds the upload metadata for the final video
type VideoMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CategoryID  string   `json:"category_id"`
	Visibility  string   `json:"visibility"`
}

// UploadRecord is persisted once the final video has been published
type UploadRecord struct {
	RunID      string         `json:"run_id"`
	VideoID    string         `json:"video_id"`
	VideoURL   string         `json:"video_url"`
	VideoFile  string         `json:"video_file"`
	UploadedAt string         `json:"uploaded_at"`
	Metadata   *VideoMetadata `json:"metadata"`
}
