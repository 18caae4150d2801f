// SPDX-License-Identifier: MIT

package processor

import (
	"context"
	"fmt"
	"os"

	"github.com/clipwork/clipwork/internal/media/ffmpeg"
	"github.com/clipwork/clipwork/internal/model"
	"github.com/clipwork/clipwork/internal/xerr"
)

// processCombined chains 2..10 stages over the seed asset. Stage i reads the
// output of stage i-1; each intermediate is removed once its successor has
// produced output. Intermediates never leave the scratch directory, so a
// failure anywhere rolls the whole pipeline back by discarding it.
func (p *Processor) processCombined(ctx context.Context, job *model.Job, cc *model.CombinedConfig, dir string, progress ffmpeg.ProgressFunc) (*Outcome, error) {
	seed, seedPath, seedInfo, err := p.env.fetchAsset(ctx, job.OwnerID, cc.BaseFileID, dir)
	if err != nil {
		return nil, err
	}
	if err := requireVideo(seedInfo, seed.ID); err != nil {
		return nil, err
	}

	n := len(cc.Operations)
	current := seedPath
	currentInfo := seedInfo

	for i, op := range cc.Operations {
		stage, ok := p.stagers[op.Type]
		if !ok {
			return nil, xerr.Newf(xerr.Validation, "operation %d: unknown type %q", i, op.Type)
		}
		cfg, err := model.ParseConfig(op.Type, op.Config)
		if err != nil {
			return nil, xerr.Wrapf(xerr.Validation, err, "operation %d (%s)", i, op.Type)
		}

		sc := &StageContext{
			Env:       p.env,
			OwnerID:   job.OwnerID,
			Dir:       dir,
			InputPath: current,
			InputInfo: currentInfo,
		}
		stageProgress := scaleProgress(progress, i, n)

		p.env.Logger.Info().
			Int64("job_id", job.ID).
			Int("stage", i+1).
			Int("stages", n).
			Str("op", string(op.Type)).
			Msg("pipeline stage started")

		next, err := stage.Stage(ctx, sc, cfg, stageProgress)
		if err != nil {
			return nil, xerr.Wrapf(xerr.ClassOf(err), err, "stage %d (%s)", i+1, op.Type)
		}

		// the predecessor's intermediate is no longer needed
		if current != seedPath {
			_ = os.Remove(current)
		}
		current = next

		report, err := p.env.Prober.Probe(ctx, current)
		if err != nil {
			return nil, xerr.Wrapf(xerr.Validation, err, "stage %d (%s) produced an unreadable output", i+1, op.Type)
		}
		currentInfo = &report.MediaInfo
	}

	out, err := p.env.uploadOutput(ctx, job.OwnerID, current, fmt.Sprintf("combined_%d.mp4", job.ID))
	if err != nil {
		return nil, err
	}
	return buildOutcome(out)
}

// scaleProgress maps a stage's local 0..100 into the pipeline's overall
// range: stage i of n owns [i/n, (i+1)/n).
func scaleProgress(progress ffmpeg.ProgressFunc, i, n int) ffmpeg.ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(pct float64) {
		progress((float64(i) + pct/100) / float64(n) * 100)
	}
}
