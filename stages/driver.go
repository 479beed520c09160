package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hqta1110/video-pipeline/logging"
	"github.com/hqta1110/video-pipeline/types"
)

// SelectAll runs every registered stage in order.
const SelectAll = "all"

// Driver runs a selection of stages and collects their reports.
type Driver struct {
	runID  string
	stages []Stage
	// PublishInAll includes the publish stage when the selector is "all".
	PublishInAll bool
	// Force reruns stages whose output already exists.
	Force bool
	now   func() time.Time
	log   *slog.Logger
}

// NewDriver registers stages in execution order.
func NewDriver(runID string, logger *slog.Logger, stages ...Stage) *Driver {
	return &Driver{
		runID:  runID,
		stages: stages,
		now:    time.Now,
		log:    logging.OrDiscard(logger).With("component", "driver"),
	}
}

// Plan resolves a selector to the stages that will run.
func (d *Driver) Plan(selector string) ([]Stage, error) {
	if selector == "" || selector == SelectAll {
		plan := make([]Stage, 0, len(d.stages))
		for _, s := range d.stages {
			if s.Name() == types.StagePublish && !d.PublishInAll {
				continue
			}
			plan = append(plan, s)
		}
		return plan, nil
	}
	for _, s := range d.stages {
		if string(s.Name()) == selector {
			return []Stage{s}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown stage %q", types.ErrInvalidRequest, selector)
}

// Run executes the selected stages. A failing stage stops the run and the
// remaining stages are reported as skipped. The returned error is only for
// an invalid selector; stage failures are in the summary.
func (d *Driver) Run(ctx context.Context, selector string) (*types.RunSummary, error) {
	plan, err := d.Plan(selector)
	if err != nil {
		return nil, err
	}
	if selector == "" {
		selector = SelectAll
	}

	sum := &types.RunSummary{RunID: d.runID, Selector: selector}
	halted := false
	for _, s := range plan {
		rep := types.StageReport{Stage: s.Name()}
		if halted {
			rep.Status = types.StatusSkipped
			sum.Stages = append(sum.Stages, rep)
			continue
		}
		d.run(ctx, s, &rep)
		sum.Stages = append(sum.Stages, rep)
		if rep.Status == types.StatusFailed {
			halted = true
		}
	}
	return sum, nil
}

func (d *Driver) run(ctx context.Context, s Stage, rep *types.StageReport) {
	log := d.log.With("stage", s.Name())
	start := d.now()
	defer func() { rep.Duration = d.now().Sub(start) }()

	if err := ctx.Err(); err != nil {
		rep.Status, rep.Err = types.StatusFailed, err
		log.Warn("stage not started", "err", err)
		return
	}
	// A stage whose output exists is skipped before its inputs are checked.
	if !d.Force && s.UpToDate() {
		rep.Status = types.StatusUpToDate
		log.Info("stage output exists, skipping")
		return
	}
	if err := s.Check(); err != nil {
		rep.Status, rep.Err = types.StatusFailed, err
		log.Error("stage precondition failed", "err", err)
		return
	}

	log.Info("stage started")
	if err := s.Run(ctx, rep); err != nil {
		rep.Status, rep.Err = types.StatusFailed, err
		if errors.Is(err, context.Canceled) {
			log.Warn("stage interrupted", "err", err)
		} else {
			log.Error("stage failed", "err", err)
		}
		return
	}
	rep.Status = types.StatusOK
	log.Info("stage finished", "elapsed", d.now().Sub(start).Round(time.Millisecond))
}
