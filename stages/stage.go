package stages

import (
	"context"

	"github.com/hqta1110/video-pipeline/types"
)

// Stage is one top-level pipeline phase.
type Stage interface {
	Name() types.Stage
	// Check verifies the stage's inputs exist. Failures wrap
	// types.ErrMissingDependency (or ErrInvalidRequest for caller input).
	Check() error
	// UpToDate reports whether the stage's output already exists, in which
	// case the driver skips it, without calling Check, unless forced.
	UpToDate() bool
	// Run does the work. Stages that process scenes fill in the counts on rep.
	Run(ctx context.Context, rep *types.StageReport) error
}
